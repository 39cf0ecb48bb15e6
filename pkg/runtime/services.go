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
	"time"

	"github.com/kadirpekel/nestor/pkg/ai"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/knowledge"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/tool"
)

// ClassifierResolver picks the classifier backing a router node.
// Provider is the node's model.provider; empty selects the default.
type ClassifierResolver interface {
	ClassifierFor(provider string) (ai.Classifier, error)
}

// KnowledgeSearcher answers knowledge_search nodes.
type KnowledgeSearcher interface {
	Search(ctx context.Context, knowledgeBaseID, query string, topK int, minScore float64) (*knowledge.Result, error)
}

// ToolRunner executes a declared tool for a tool_call node. The handler
// resolves the declaration from the flow before calling; timeout is the
// per-call budget the runner must enforce.
type ToolRunner interface {
	Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any, timeout time.Duration) (*tool.Result, error)
}

// Services bundles the pluggable collaborators node handlers may call.
// Any field may be nil when no node in the served flows needs it; a
// handler hitting a nil service fails its node with EXECUTION_ERROR.
type Services struct {
	Classifiers ClassifierResolver
	Knowledge   KnowledgeSearcher
	Tools       ToolRunner
}

// ExecutionContext is everything one handler invocation may read. The
// session is owned by the engine for the duration of the run; handlers
// must not mutate it directly and return changes through NodeResult.
type ExecutionContext struct {
	Flow    *flow.Flow
	Node    *flow.Node
	Session *session.Session

	// Input is the user input to consume. It is non-empty only on the
	// first handler invocation of a ProcessInput run.
	Input string

	Services Services

	// DefaultToolTimeout applies to tool_call nodes without their own
	// timeout.
	DefaultToolTimeout time.Duration
}

// Handler implements the semantics of one node kind. Handlers report
// failures through NodeResult.Err rather than returning an error; the
// executor converts panics the same way.
type Handler interface {
	Kind() flow.Kind
	Execute(ctx context.Context, ec *ExecutionContext) *NodeResult
}
