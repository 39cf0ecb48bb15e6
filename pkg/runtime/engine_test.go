package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/events"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/testutils"
)

// recordedEvents subscribes to the engine bus and collects what flows
// emit: message texts in order plus every raw event.
type recordedEvents struct {
	messages []string
	events   []events.Event
}

func record(e *Engine) *recordedEvents {
	rec := &recordedEvents{}
	e.Subscribe(func(ev events.Event) {
		rec.events = append(rec.events, ev)
		if ev.Type == events.MessageSent {
			if msg, ok := ev.Data["message"].(string); ok {
				rec.messages = append(rec.messages, msg)
			}
		}
	})
	return rec
}

func (r *recordedEvents) ofType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func lastError(t *testing.T, sess *session.Session) *session.Error {
	t.Helper()
	step, ok := sess.LastStep()
	require.True(t, ok, "session has no history")
	require.NotNil(t, step.Error, "last step %s has no error", step.NodeID)
	return step.Error
}

func TestHappyPathRouter(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "support",
		"name": "Support",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start", "config": {"welcomeMessage": "Hi"}},
			{"id": "ask", "type": "collect_input", "config": {"variableName": "msg"}},
			{"id": "route", "type": "llm_router", "config": {"intents": [
				{"name": "order_status", "targetNodeId": "m1"},
				{"name": "refund", "targetNodeId": "m2"}
			]}},
			{"id": "m1", "type": "message", "config": {"message": "Your order is shipped."}},
			{"id": "m2", "type": "message", "config": {"message": "Refund started."}},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "ask"},
			{"id": "e2", "source": "ask", "target": "route"},
			{"id": "e3", "source": "m1", "target": "done"},
			{"id": "e4", "source": "m2", "target": "done"}
		]
	}`)

	classifier := testutils.NewScriptedClassifier("rules").Returns("order_status", 0.9)
	engine := NewEngine(WithServices(Services{
		Classifiers: testutils.StaticClassifiers{Default: classifier},
	}))
	rec := record(engine)

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingInput, sess.Status)
	assert.Equal(t, "ask", sess.CurrentNodeID)

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "track my order")
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)

	assert.Equal(t, []string{"Hi", "Your order is shipped."}, rec.messages)
	assert.Equal(t, "order_status", sess.Variables["last_intent"])
	assert.Equal(t, 0.9, sess.Variables["last_confidence"])
	assert.Equal(t, "track my order", sess.Variables["msg"])
}

const emailRetryFlow = `{
	"version": "1.0",
	"id": "email-intake",
	"name": "Email intake",
	"entryNode": "start",
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "ask", "type": "collect_input", "config": {
			"variableName": "email",
			"validation": {"type": "email"},
			"retry": {"maxAttempts": 2, "retryMessage": "Try again."}
		}},
		{"id": "confirm", "type": "message", "config": {"message": "Got {{email}}"}},
		{"id": "done", "type": "end"}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "ask"},
		{"id": "e2", "source": "ask", "target": "confirm"},
		{"id": "e3", "source": "confirm", "target": "done"}
	]
}`

func TestValidationRetryThenSuccess(t *testing.T) {
	f := testutils.MustFlow(t, emailRetryFlow)
	engine := NewEngine()
	rec := record(engine)

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "not-an-email")
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingInput, sess.Status, "invalid input must re-prompt")
	require.NotEmpty(t, rec.messages)
	require.Equal(t, "Try again.", rec.messages[len(rec.messages)-1])

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "a@b.co")
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, "Got a@b.co", rec.messages[len(rec.messages)-1])
	assert.Equal(t, "a@b.co", sess.Variables["email"])
}

func TestValidationRetryExhausted(t *testing.T) {
	f := testutils.MustFlow(t, emailRetryFlow)
	engine := NewEngine()

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "bad")
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingInput, sess.Status, "first failure must re-prompt")

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "bad")
	require.NoError(t, err)
	require.Equal(t, session.StatusError, sess.Status)
	assert.Equal(t, CodeMaxRetriesExceeded, lastError(t, sess).Code)
}

func TestConditionWithDottedPath(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "order-check",
		"name": "Order check",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "fetch", "type": "tool_call", "config": {"toolId": "order_api", "resultVariable": "r"}},
			{"id": "branch", "type": "condition", "config": {
				"conditions": [{"variable": "r.status", "operator": "equals", "value": "ok", "targetNodeId": "m_ok"}],
				"defaultNodeId": "m_fail"
			}},
			{"id": "m_ok", "type": "message", "config": {"message": "All fine."}},
			{"id": "m_fail", "type": "message", "config": {"message": "Something broke."}},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "fetch"},
			{"id": "e2", "source": "fetch", "target": "branch"},
			{"id": "e3", "source": "m_ok", "target": "done"},
			{"id": "e4", "source": "m_fail", "target": "done"}
		],
		"tools": [{"id": "order_api", "type": "func"}]
	}`)

	runner := testutils.NewScriptedToolRunner().Succeeds(map[string]any{"status": "ok"})
	engine := NewEngine(WithServices(Services{Tools: runner}))
	rec := record(engine)

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)

	r, ok := sess.Variables["r"].(map[string]any)
	require.True(t, ok, "r = %T, want map output", sess.Variables["r"])
	assert.Equal(t, "ok", r["status"])
	assert.Equal(t, []string{"All fine."}, rec.messages, "want the ok branch")
}

func TestToolFailureWithContinue(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "lookup",
		"name": "Lookup",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "call", "type": "tool_call", "config": {
				"toolId": "flaky_api",
				"resultVariable": "result",
				"onError": {"action": "continue"}
			}},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "call"},
			{"id": "e2", "source": "call", "target": "done"}
		],
		"tools": [{"id": "flaky_api", "type": "http"}]
	}`)

	runner := testutils.NewScriptedToolRunner().FailsWith("5xx")
	engine := NewEngine(WithServices(Services{Tools: runner}))

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status, "continue must survive the tool failure")

	result, ok := sess.Variables["result"].(map[string]any)
	require.True(t, ok, "result = %T, want failure map", sess.Variables["result"])
	assert.Equal(t, "5xx", result["error"])
	assert.Equal(t, false, result["success"])
}

func TestEscalationTerminates(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "handoff",
		"name": "Handoff",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "human", "type": "escalate", "config": {
				"reason": "human please",
				"handoffMessage": "Connecting…"
			}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "human"}]
	}`)

	engine := NewEngine()
	rec := record(engine)

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusEscalated, sess.Status)
	require.NotEmpty(t, rec.messages)
	assert.Equal(t, "Connecting…", rec.messages[len(rec.messages)-1])

	escalations := rec.ofType(events.SessionEscalated)
	require.Len(t, escalations, 1)
	assert.Equal(t, "human please", escalations[0].Data["reason"])
}

func TestProcessInputRequiresWaitingSession(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "oneshot",
		"name": "One shot",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "done", "type": "end"}
		],
		"edges": [{"id": "e1", "source": "start", "target": "done"}]
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
	historyLen := len(sess.History)

	_, err = engine.ProcessInput(context.Background(), f, sess.ID, "hello?")
	require.Equal(t, CodeSessionNotWaiting, ErrorCode(err))

	// The rejected call must leave the stored session untouched.
	stored, err := engine.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, historyLen, "history grew on a rejected call")
	assert.Equal(t, session.StatusCompleted, stored.Status)
}

func TestProcessInputWrongFlow(t *testing.T) {
	waiting := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "intake",
		"name": "Intake",
		"entryNode": "ask",
		"nodes": [{"id": "ask", "type": "collect_input", "config": {"variableName": "v"}}],
		"edges": []
	}`)
	other := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "other",
		"name": "Other",
		"entryNode": "ask",
		"nodes": [{"id": "ask", "type": "collect_input", "config": {"variableName": "v"}}],
		"edges": []
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), waiting)
	require.NoError(t, err)

	_, err = engine.ProcessInput(context.Background(), other, sess.ID, "x")
	assert.Error(t, err, "expected flow mismatch error")
}

func TestMaxStepsExceeded(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "spinner",
		"name": "Spinner",
		"entryNode": "a",
		"nodes": [
			{"id": "a", "type": "message", "config": {"message": "ping"}},
			{"id": "b", "type": "message", "config": {"message": "pong"}}
		],
		"edges": [
			{"id": "e1", "source": "a", "target": "b"},
			{"id": "e2", "source": "b", "target": "a"}
		]
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusError, sess.Status)
	assert.Equal(t, CodeMaxStepsExceeded, lastError(t, sess).Code)
	// DefaultMaxSteps node executions plus the synthetic error step.
	assert.Len(t, sess.History, DefaultMaxSteps+1)
}

func TestWithMaxStepsOption(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "spinner",
		"name": "Spinner",
		"entryNode": "a",
		"nodes": [{"id": "a", "type": "message", "config": {"message": "ping"}}],
		"edges": [{"id": "e1", "source": "a", "target": "a"}]
	}`)

	engine := NewEngine(WithMaxSteps(5))
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	assert.Len(t, sess.History, 6, "5 executions + 1 error step")
}

func TestStartSessionEntryNotFound(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "broken",
		"name": "Broken",
		"entryNode": "ghost",
		"nodes": [{"id": "start", "type": "start"}],
		"edges": []
	}`)

	engine := NewEngine()
	_, err := engine.StartSession(context.Background(), f)
	require.Equal(t, CodeEntryNotFound, ErrorCode(err))
}

func TestGetSessionNotFound(t *testing.T) {
	engine := NewEngine()
	_, err := engine.GetSession(context.Background(), "missing")
	require.Equal(t, CodeSessionNotFound, ErrorCode(err))

	var se *session.Error
	require.ErrorAs(t, err, &se)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "intake",
		"name": "Intake",
		"entryNode": "ask",
		"nodes": [{"id": "ask", "type": "collect_input", "config": {"variableName": "v"}}],
		"edges": []
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingInput, sess.Status)

	ended, err := engine.EndSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, ended.Status)
	historyLen := len(ended.History)

	again, err := engine.EndSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, again.Status)
	assert.Len(t, again.History, historyLen, "history grew on repeated end")
}

func TestHistoryIsAppendOnlyAcrossTurns(t *testing.T) {
	f := testutils.MustFlow(t, emailRetryFlow)
	engine := NewEngine()

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	firstTurn := make([]string, len(sess.History))
	for i, step := range sess.History {
		firstTurn[i] = step.StepID
	}

	sess, err = engine.ProcessInput(context.Background(), f, sess.ID, "a@b.co")
	require.NoError(t, err)
	require.Greater(t, len(sess.History), len(firstTurn), "history did not grow")
	for i, id := range firstTurn {
		require.Equal(t, id, sess.History[i].StepID, "history step %d changed id", i)
	}
}

func TestStartSessionSeedsVariables(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "vars",
		"name": "Vars",
		"entryNode": "start",
		"nodes": [{"id": "start", "type": "start", "config": {
			"welcomeMessage": "Welcome, {{tier}} member",
			"initVariables": {"tier": "gold"}
		}}],
		"edges": [],
		"variables": [
			{"name": "tier", "type": "string", "defaultValue": "basic"},
			{"name": "optional", "type": "string"}
		]
	}`)

	engine := NewEngine()
	rec := record(engine)

	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "gold", sess.Variables["tier"], "initVariables must win over the declared default")
	assert.NotContains(t, sess.Variables, "optional", "variable without default should not materialise")
	assert.Equal(t, []string{"Welcome, gold member"}, rec.messages)
}

func TestUnknownNodeTypeFailsSession(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "weird",
		"name": "Weird",
		"entryNode": "x",
		"nodes": [{"id": "x", "type": "teleport"}],
		"edges": []
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusError, sess.Status)
	assert.Equal(t, CodeUnknownNodeType, lastError(t, sess).Code)
}

func TestDanglingEdgeFailsSession(t *testing.T) {
	f := testutils.MustFlow(t, `{
		"version": "1.0",
		"id": "dangling",
		"name": "Dangling",
		"entryNode": "start",
		"nodes": [{"id": "start", "type": "start"}],
		"edges": [{"id": "e1", "source": "start", "target": "nowhere"}]
	}`)

	engine := NewEngine()
	sess, err := engine.StartSession(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, session.StatusError, sess.Status)
	assert.Equal(t, CodeNodeNotFound, lastError(t, sess).Code)
}

func TestDeterministicReplay(t *testing.T) {
	definition := `{
		"version": "1.0",
		"id": "replay",
		"name": "Replay",
		"entryNode": "start",
		"nodes": [
			{"id": "start", "type": "start", "config": {"welcomeMessage": "Hi"}},
			{"id": "route", "type": "llm_router", "config": {
				"intents": [
					{"name": "a", "targetNodeId": "m_a"},
					{"name": "b", "targetNodeId": "m_b"}
				],
				"fallbackIntent": "b"
			}},
			{"id": "m_a", "type": "message", "config": {"message": "A"}},
			{"id": "m_b", "type": "message", "config": {"message": "B"}},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "route"},
			{"id": "e2", "source": "m_a", "target": "done"},
			{"id": "e3", "source": "m_b", "target": "done"}
		]
	}`

	visit := func() ([]string, session.Status, map[string]any) {
		f := testutils.MustFlow(t, definition)
		classifier := testutils.NewScriptedClassifier("rules").
			Returns("a", 0.4) // below threshold: falls back to b
		engine := NewEngine(WithServices(Services{
			Classifiers: testutils.StaticClassifiers{Default: classifier},
		}))
		sess, err := engine.StartSession(context.Background(), f)
		require.NoError(t, err)
		nodes := make([]string, len(sess.History))
		for i, step := range sess.History {
			nodes[i] = step.NodeID
		}
		return nodes, sess.Status, sess.Variables
	}

	nodes1, status1, vars1 := visit()
	nodes2, status2, vars2 := visit()

	assert.Equal(t, nodes1, nodes2, "visited nodes must not differ between runs")
	assert.Equal(t, status1, status2)
	assert.Equal(t, vars1["last_intent"], vars2["last_intent"])
	assert.Equal(t, "b", vars1["last_intent"], "want the fallback intent")
}
