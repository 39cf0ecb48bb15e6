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

	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
)

// defaultKnowledgeVariable receives search results when the node does
// not name a resultVariable.
const defaultKnowledgeVariable = "knowledge_result"

// knowledgeSearchHandler runs the interpolated query against the named
// knowledge base and stores the result in the session.
type knowledgeSearchHandler struct{}

var _ Handler = (*knowledgeSearchHandler)(nil)

func (h *knowledgeSearchHandler) Kind() flow.Kind { return flow.KindKnowledgeSearch }

func (h *knowledgeSearchHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.KnowledgeSearchConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}
	if ec.Services.Knowledge == nil {
		return &NodeResult{Err: errf(CodeExecutionError, "node %s: no knowledge service configured", ec.Node.ID)}
	}

	query := interp.Interpolate(cfg.Query, ec.Session.Variables)
	result, err := ec.Services.Knowledge.Search(ctx, cfg.KnowledgeBaseID, query, cfg.EffectiveTopK(), cfg.EffectiveMinScore())
	if err != nil {
		return &NodeResult{Err: withDetails(
			errf(CodeExecutionError, "node %s: knowledge search failed: %v", ec.Node.ID, err),
			map[string]any{"knowledgeBaseId": cfg.KnowledgeBaseID, "query": query},
		)}
	}

	// A groundedOnly node never exposes speculative answers: ungrounded
	// results collapse to a canonical not-found structure.
	var value map[string]any
	if cfg.GroundedOnly && !result.Grounded {
		value = map[string]any{
			"answer":     "",
			"sources":    []any{},
			"confidence": 0.0,
			"grounded":   false,
		}
	} else {
		value = result.Map()
	}

	name := cfg.ResultVariable
	if name == "" {
		name = defaultKnowledgeVariable
	}

	return &NodeResult{
		Output:    value,
		Variables: map[string]any{name: value},
	}
}
