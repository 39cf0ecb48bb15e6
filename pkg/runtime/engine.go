// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runtime interprets conversational flows against live
// sessions.
//
// The engine advances a session node-by-node: each step dispatches the
// current node to its kind's handler, applies the returned NodeResult
// to the session (message, variable patch, history step, events), and
// picks the next node until a handler pauses for input, terminates the
// session, or the step bound trips. Sessions are materialised
// continuations — everything a later turn needs lives in the session
// document, so execution resumes from storage alone.
//
// Handlers are pure with respect to process state: side effects flow
// through the injected Services and the returned NodeResult. The engine
// serialises calls per session id; independent sessions run
// concurrently.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/nestor/pkg/events"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/session"
)

// Execution bounds applied when no option overrides them. MAX_STEPS and
// DEFAULT_TOOL_TIMEOUT_MS from the environment are surfaced through the
// config package, not read here.
const (
	DefaultMaxSteps    = 100
	DefaultToolTimeout = 30 * time.Second
)

// Engine drives flow execution. Construct with NewEngine; the zero
// value is not usable.
type Engine struct {
	store    session.Service
	bus      *events.Bus
	executor *Executor
	services Services
	locks    *sessionLocks
	tracer   trace.Tracer
	logger   *slog.Logger

	maxSteps           int
	defaultToolTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionService sets the session store. Defaults to the in-memory
// store.
func WithSessionService(s session.Service) Option {
	return func(e *Engine) { e.store = s }
}

// WithBus sets the event bus the engine publishes to.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithServices wires the pluggable collaborators handlers may call.
func WithServices(s Services) Option {
	return func(e *Engine) { e.services = s }
}

// WithExecutor replaces the built-in handler set.
func WithExecutor(ex *Executor) Option {
	return func(e *Engine) { e.executor = ex }
}

// WithMaxSteps bounds handler invocations per engine call.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithDefaultToolTimeout sets the timeout for tool_call nodes that do
// not configure their own.
func WithDefaultToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultToolTimeout = d
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine with the built-in handlers and any options
// applied.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		store:              session.NewMemoryService(),
		bus:                events.NewBus(),
		executor:           NewExecutor(),
		locks:              newSessionLocks(),
		tracer:             observability.GetTracer("nestor/runtime"),
		logger:             slog.Default(),
		maxSteps:           DefaultMaxSteps,
		defaultToolTimeout: DefaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Sessions returns the engine's session store.
func (e *Engine) Sessions() session.Service { return e.store }

// Subscribe registers an event handler on the engine's bus.
func (e *Engine) Subscribe(h events.Handler) *events.Subscription {
	return e.bus.Subscribe(h)
}

// Close releases the session store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// StartSession creates a session for the flow, seeds its variables from
// the flow's declarations and the start node's initVariables, and runs
// until the flow pauses or terminates. The returned session reflects
// the state after the run; a missing entry node fails with
// ENTRY_NOT_FOUND before any session exists.
func (e *Engine) StartSession(ctx context.Context, f *flow.Flow) (*session.Session, error) {
	if f == nil {
		return nil, errf(CodeExecutionError, "flow is required")
	}
	entry, ok := f.NodeByID(f.EntryNode)
	if !ok {
		return nil, withDetails(
			errf(CodeEntryNotFound, "entry node %q not found in flow %s", f.EntryNode, f.ID),
			map[string]any{"flowId": f.ID},
		)
	}

	sess := session.New(f.ID, entry.ID)
	sess.Variables = f.DefaultVariables()
	if entry.Type == flow.KindStart {
		if cfg, err := flow.DecodeConfig[flow.StartConfig](entry); err == nil {
			for k, v := range cfg.InitVariables {
				sess.Variables[k] = v
			}
		}
	}

	e.locks.acquire(sess.ID)
	defer e.locks.release(sess.ID)

	if err := e.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}

	e.logger.Debug("Session started", "flow", f.ID, "session", sess.ID)
	e.publish(events.SessionStarted, sess, "", nil)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordSessionStarted(ctx, f.ID)
	}

	return e.run(ctx, f, sess, "")
}

// ProcessInput resumes a paused session with one user input. The
// session must be waiting_input; anything else fails with
// SESSION_NOT_WAITING and leaves the session untouched. The input is
// consumed by exactly the first handler invocation of the run.
func (e *Engine) ProcessInput(ctx context.Context, f *flow.Flow, sessionID, input string) (*session.Session, error) {
	if f == nil {
		return nil, errf(CodeExecutionError, "flow is required")
	}

	e.locks.acquire(sessionID)
	defer e.locks.release(sessionID)

	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusWaitingInput {
		return nil, withDetails(
			errf(CodeSessionNotWaiting, "session %s is not waiting for input (status %s)", sessionID, sess.Status),
			map[string]any{"status": string(sess.Status)},
		)
	}
	if sess.FlowID != f.ID {
		return nil, errf(CodeExecutionError, "session %s belongs to flow %s, not %s", sessionID, sess.FlowID, f.ID)
	}

	e.publish(events.InputReceived, sess, sess.CurrentNodeID, map[string]any{"input": input})
	sess.Status = session.StatusActive

	return e.run(ctx, f, sess, input)
}

// GetSession returns the stored session, or SESSION_NOT_FOUND.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return e.loadSession(ctx, sessionID)
}

// EndSession terminates a session without running any node: a live
// session is marked completed and persisted; a session that is already
// terminal is returned unchanged, so ending twice is harmless.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (*session.Session, error) {
	e.locks.acquire(sessionID)
	defer e.locks.release(sessionID)

	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	sess.Status = session.StatusCompleted
	sess.UpdatedAt = time.Now().UTC()
	if err := e.store.Set(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}

	e.publish(events.SessionCompleted, sess, "", map[string]any{
		"status": string(sess.Status),
		"ended":  true,
	})
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordSessionEnded(ctx, sess.FlowID, string(sess.Status))
	}
	return sess, nil
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, errf(CodeSessionNotFound, "session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return sess, nil
}

// run is the interpreter loop. It owns the session until it returns,
// persists it exactly once on exit, and never lets a node failure
// escape as a Go error: fatal results land in the session's history and
// status instead.
func (e *Engine) run(ctx context.Context, f *flow.Flow, sess *session.Session, input string) (*session.Session, error) {
	ctx, span := e.tracer.Start(ctx, observability.SpanSessionRun, trace.WithAttributes(
		attribute.String(observability.AttrFlowID, f.ID),
		attribute.String(observability.AttrSessionID, sess.ID),
	))
	defer span.End()

	var runErr error

loop:
	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if steps >= e.maxSteps {
			e.failSession(ctx, f, sess, withDetails(
				errf(CodeMaxStepsExceeded, "flow %s exceeded %d steps in one run", f.ID, e.maxSteps),
				map[string]any{"maxSteps": e.maxSteps},
			))
			break
		}

		node, ok := f.NodeByID(sess.CurrentNodeID)
		if !ok {
			e.failSession(ctx, f, sess, errf(CodeNodeNotFound, "node %q not found in flow %s", sess.CurrentNodeID, f.ID))
			break
		}

		e.publish(events.NodeStarted, sess, node.ID, map[string]any{"nodeType": string(node.Type)})

		stepInput := input
		input = ""

		started := time.Now().UTC()
		nodeCtx, nodeSpan := e.tracer.Start(ctx, observability.SpanNodeExecute, trace.WithAttributes(
			attribute.String(observability.AttrNodeID, node.ID),
			attribute.String(observability.AttrNodeKind, string(node.Type)),
		))
		result := e.executor.Execute(nodeCtx, &ExecutionContext{
			Flow:               f,
			Node:               node,
			Session:            sess,
			Input:              stepInput,
			Services:           e.services,
			DefaultToolTimeout: e.defaultToolTimeout,
		})
		nodeSpan.End()
		duration := time.Since(started)

		errCode := ""
		if result.Err != nil {
			errCode = result.Err.Code
		}
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordNodeExecution(ctx, string(node.Type), duration, errCode)
		}

		if ctx.Err() != nil {
			// Interrupted mid-step: drop the partial result and keep the
			// last coherent state.
			runErr = ctx.Err()
			break
		}

		sess.History = append(sess.History, session.ExecutionStep{
			StepID:    uuid.NewString(),
			NodeID:    node.ID,
			NodeKind:  string(node.Type),
			Timestamp: started,
			Input:     stepInput,
			Output:    result.Output,
			Duration:  duration.Milliseconds(),
			Error:     result.Err,
		})
		sess.UpdatedAt = time.Now().UTC()

		if result.Err != nil {
			e.publish(events.NodeError, sess, node.ID, map[string]any{
				"code":    result.Err.Code,
				"message": result.Err.Message,
			})
		} else {
			e.publish(events.NodeCompleted, sess, node.ID, nil)
		}

		for k, v := range result.Variables {
			sess.Variables[k] = v
		}

		if result.Message != "" {
			e.publish(events.MessageSent, sess, node.ID, map[string]any{"message": result.Message})
		}

		e.logger.Debug("Node executed",
			"session", sess.ID, "node", node.ID, "type", node.Type,
			"duration", duration, "error", errCode)

		switch {
		case result.Err != nil:
			sess.Status = session.StatusError
			e.publish(events.SessionCompleted, sess, "", map[string]any{"status": string(session.StatusError)})
			break loop

		case result.WaitForInput:
			sess.Status = session.StatusWaitingInput
			break loop

		case result.End:
			status := result.EndStatus
			if !status.Terminal() {
				status = session.StatusCompleted
			}
			sess.Status = status
			if status == session.StatusEscalated {
				e.publish(events.SessionEscalated, sess, node.ID, escalationData(result.Output))
			}
			e.publish(events.SessionCompleted, sess, "", map[string]any{"status": string(status)})
			break loop
		}

		nextID := result.NextNodeID
		if nextID == "" {
			edges := f.OutgoingEdges(node.ID)
			if len(edges) == 0 {
				sess.Status = session.StatusCompleted
				e.publish(events.SessionCompleted, sess, "", map[string]any{"status": string(session.StatusCompleted)})
				break
			}
			nextID = pickEdge(edges, result.Output).Target
		}

		next, ok := f.NodeByID(nextID)
		if !ok {
			e.failSession(ctx, f, sess, withDetails(
				errf(CodeNodeNotFound, "node %q not found in flow %s", nextID, f.ID),
				map[string]any{"from": node.ID},
			))
			break
		}
		sess.CurrentNodeID = next.ID
	}

	// The final persist must survive a cancelled context: the session's
	// last coherent state is what the next turn resumes from.
	if err := e.store.Set(context.WithoutCancel(ctx), sess); err != nil {
		e.logger.Error("Failed to persist session", "session", sess.ID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
		}
	}

	if sess.Status.Terminal() {
		e.logger.Info("Session finished", "session", sess.ID, "flow", f.ID, "status", sess.Status)
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordSessionEnded(ctx, sess.FlowID, string(sess.Status))
		}
	}

	return sess, runErr
}

// failSession records a synthetic error step and moves the session to
// the error status. Used for failures that occur outside a handler
// (step bound, unresolvable node ids).
func (e *Engine) failSession(ctx context.Context, f *flow.Flow, sess *session.Session, serr *session.Error) {
	kind := ""
	if node, ok := f.NodeByID(sess.CurrentNodeID); ok {
		kind = string(node.Type)
	}
	sess.History = append(sess.History, session.ExecutionStep{
		StepID:    uuid.NewString(),
		NodeID:    sess.CurrentNodeID,
		NodeKind:  kind,
		Timestamp: time.Now().UTC(),
		Error:     serr,
	})
	sess.Status = session.StatusError
	sess.UpdatedAt = time.Now().UTC()

	e.logger.Warn("Session failed", "session", sess.ID, "code", serr.Code, "error", serr.Message)
	e.publish(events.NodeError, sess, sess.CurrentNodeID, map[string]any{
		"code":    serr.Code,
		"message": serr.Message,
	})
	e.publish(events.SessionCompleted, sess, "", map[string]any{"status": string(session.StatusError)})

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordNodeExecution(ctx, kind, 0, serr.Code)
	}
}

func (e *Engine) publish(t events.Type, sess *session.Session, nodeID string, data map[string]any) {
	e.bus.Publish(events.Event{
		Type:      t,
		SessionID: sess.ID,
		FlowID:    sess.FlowID,
		NodeID:    nodeID,
		Data:      data,
	})
}

// pickEdge selects among outgoing edges: the first edge whose
// sourceHandle or label equals a string value in the handler output
// wins, otherwise the first edge in declaration order.
func pickEdge(edges []*flow.Edge, output any) *flow.Edge {
	if len(edges) == 1 {
		return edges[0]
	}
	hints := stringHints(output)
	if len(hints) > 0 {
		for _, edge := range edges {
			if edge.SourceHandle != "" && hints[edge.SourceHandle] {
				return edge
			}
			if edge.Label != "" && hints[edge.Label] {
				return edge
			}
		}
	}
	return edges[0]
}

// stringHints collects the string values a handler output exposes for
// edge matching.
func stringHints(output any) map[string]bool {
	switch v := output.(type) {
	case string:
		if v == "" {
			return nil
		}
		return map[string]bool{v: true}
	case map[string]any:
		hints := make(map[string]bool, len(v))
		for _, value := range v {
			if s, ok := value.(string); ok && s != "" {
				hints[s] = true
			}
		}
		return hints
	default:
		return nil
	}
}

// escalationData flattens an escalate handler's output for the
// session_escalated event payload.
func escalationData(output any) map[string]any {
	data, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
