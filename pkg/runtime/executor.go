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

package runtime

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/nestor/pkg/flow"
)

// Executor routes a node to its handler by kind. The built-in handler
// set covers every kind the flow package declares; Register can replace
// or extend it.
type Executor struct {
	handlers map[flow.Kind]Handler
}

// NewExecutor returns an executor with the built-in handlers installed.
func NewExecutor() *Executor {
	e := &Executor{handlers: make(map[flow.Kind]Handler, 9)}
	for _, h := range []Handler{
		&startHandler{},
		&messageHandler{},
		&collectInputHandler{},
		&routerHandler{},
		&knowledgeSearchHandler{},
		&toolCallHandler{},
		&conditionHandler{},
		&escalateHandler{},
		&endHandler{},
	} {
		e.Register(h)
	}
	return e
}

// Register installs a handler for its kind, replacing any existing one.
// Not safe for concurrent use with Execute; register before serving.
func (e *Executor) Register(h Handler) {
	e.handlers[h.Kind()] = h
}

// Execute dispatches the context's node to its handler. A panicking
// handler is converted into an EXECUTION_ERROR result; an unregistered
// kind yields UNKNOWN_NODE_TYPE. Execute never returns nil.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext) (result *NodeResult) {
	handler, ok := e.handlers[ec.Node.Type]
	if !ok {
		return &NodeResult{Err: withDetails(
			errf(CodeUnknownNodeType, "no handler registered for node type %q", ec.Node.Type),
			map[string]any{"nodeId": ec.Node.ID},
		)}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Node handler panicked",
				"node", ec.Node.ID, "type", ec.Node.Type, "panic", r)
			result = &NodeResult{Err: withDetails(
				errf(CodeExecutionError, "node %s panicked: %v", ec.Node.ID, r),
				map[string]any{"nodeId": ec.Node.ID, "nodeType": string(ec.Node.Type)},
			)}
		}
	}()

	result = handler.Execute(ctx, ec)
	if result == nil {
		result = &NodeResult{}
	}
	return result
}

// configError wraps a node-config decode failure. Malformed configs are
// authoring bugs that slipped past the editor, fatal for the session.
func configError(node *flow.Node, err error) *NodeResult {
	return &NodeResult{Err: withDetails(
		errf(CodeExecutionError, "node %s: %v", node.ID, err),
		map[string]any{"nodeId": node.ID, "nodeType": string(node.Type)},
	)}
}
