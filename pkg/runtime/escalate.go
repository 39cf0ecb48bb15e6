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
	"github.com/kadirpekel/nestor/pkg/session"
)

// escalateHandler hands the session to a human: it emits the handoff
// message, records the full escalation payload, and terminates with
// the escalated status. The engine publishes session_escalated from the
// recorded output.
type escalateHandler struct{}

var _ Handler = (*escalateHandler)(nil)

func (h *escalateHandler) Kind() flow.Kind { return flow.KindEscalate }

func (h *escalateHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.EscalateConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	output := map[string]any{
		"reason":   cfg.Reason,
		"queue":    cfg.Queue,
		"priority": cfg.Priority,
	}
	if len(cfg.Context) > 0 {
		output["context"] = resolveContext(cfg.Context, ec.Session.Variables)
	}

	res := &NodeResult{
		Output:    output,
		End:       true,
		EndStatus: session.StatusEscalated,
	}
	if cfg.HandoffMessage != "" {
		res.Message = interp.Interpolate(cfg.HandoffMessage, ec.Session.Variables)
	}
	return res
}

// resolveContext materialises the hand-off context: a value naming a
// variable path is replaced by that variable, anything else is treated
// as a template.
func resolveContext(ctx map[string]string, vars map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for key, value := range ctx {
		if v, ok := interp.Resolve(vars, value); ok {
			out[key] = v
			continue
		}
		out[key] = interp.Interpolate(value, vars)
	}
	return out
}
