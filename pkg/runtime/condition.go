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
	"fmt"

	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
)

// conditionHandler evaluates rules in declared order against dotted
// variable paths; the first match routes. No match falls back to the
// node's defaultNodeId, then to the engine's edge selection.
type conditionHandler struct{}

var _ Handler = (*conditionHandler)(nil)

func (h *conditionHandler) Kind() flow.Kind { return flow.KindCondition }

func (h *conditionHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.ConditionConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	for i := range cfg.Conditions {
		rule := &cfg.Conditions[i]
		actual, present := interp.Resolve(ec.Session.Variables, rule.Variable)
		if interp.Evaluate(rule.Operator, actual, present, rule.Value) {
			return &NodeResult{
				Output:     map[string]any{"matched": ruleLabel(rule)},
				NextNodeID: rule.TargetNodeID,
			}
		}
	}

	if cfg.DefaultNodeID != "" {
		return &NodeResult{
			Output:     map[string]any{"matched": "default"},
			NextNodeID: cfg.DefaultNodeID,
		}
	}

	// No rule, no default: the engine follows the unique outgoing edge,
	// or completes the session when the node has none.
	return &NodeResult{}
}

func ruleLabel(rule *flow.Condition) string {
	if rule.ID != "" {
		return rule.ID
	}
	return fmt.Sprintf("%s %s", rule.Variable, rule.Operator)
}
