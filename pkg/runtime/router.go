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

	"github.com/kadirpekel/nestor/pkg/ai"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
)

// routerHandler classifies the user message against the node's intents
// and routes to the matched intent's target.
//
// The message is taken from the turn input when present, then from the
// user_message and customer_message variables, then empty. Verdicts
// below the confidence threshold, unrecognised intent names, and
// classifier errors all route to the fallback intent when one is
// configured; without a fallback an unrecognised name is fatal.
type routerHandler struct{}

var _ Handler = (*routerHandler)(nil)

func (h *routerHandler) Kind() flow.Kind { return flow.KindLLMRouter }

func (h *routerHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.RouterConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}
	if ec.Services.Classifiers == nil {
		return &NodeResult{Err: errf(CodeExecutionError, "node %s: no classifier service configured", ec.Node.ID)}
	}

	provider := ""
	if cfg.Model != nil {
		provider = cfg.Model.Provider
	}
	classifier, err := ec.Services.Classifiers.ClassifierFor(provider)
	if err != nil {
		return &NodeResult{Err: errf(CodeExecutionError, "node %s: %v", ec.Node.ID, err)}
	}

	req := ai.Request{
		SystemPrompt: cfg.SystemPrompt,
		UserMessage:  h.userMessage(ec),
		Intents:      classifierIntents(cfg.Intents),
	}
	if cfg.Model != nil {
		req.Model = cfg.Model.Model
		req.Temperature = cfg.Model.Temperature
		req.MaxTokens = cfg.Model.MaxTokens
	}

	verdict, err := classifier.Classify(ctx, req)
	if err != nil {
		if cfg.FallbackIntent == "" {
			return &NodeResult{Err: withDetails(
				errf(CodeExecutionError, "node %s: classification failed: %v", ec.Node.ID, err),
				map[string]any{"provider": classifier.Provider()},
			)}
		}
		verdict = &ai.Classification{Intent: ai.NoIntent, Confidence: 0, Reasoning: err.Error()}
	}

	fellback := false
	var target *flow.Intent
	if verdict.Confidence >= cfg.Threshold() || cfg.FallbackIntent == "" {
		target, _ = cfg.IntentByName(verdict.Intent)
	}
	if target == nil {
		if cfg.FallbackIntent == "" {
			return &NodeResult{
				Variables: map[string]any{"last_intent": verdict.Intent, "last_confidence": verdict.Confidence},
				Err: withDetails(
					errf(CodeIntentNotFound, "node %s: intent %q is not declared and no fallback is configured", ec.Node.ID, verdict.Intent),
					map[string]any{"intent": verdict.Intent, "confidence": verdict.Confidence},
				),
			}
		}
		fallback, ok := cfg.IntentByName(cfg.FallbackIntent)
		if !ok {
			return &NodeResult{
				Variables: map[string]any{"last_intent": verdict.Intent, "last_confidence": verdict.Confidence},
				Err: withDetails(
					errf(CodeIntentNotFound, "node %s: fallback intent %q is not declared", ec.Node.ID, cfg.FallbackIntent),
					map[string]any{"fallbackIntent": cfg.FallbackIntent},
				),
			}
		}
		target = fallback
		fellback = true
	}

	output := map[string]any{
		"intent":     target.Name,
		"confidence": verdict.Confidence,
	}
	if verdict.Reasoning != "" {
		output["reasoning"] = verdict.Reasoning
	}
	if fellback {
		output["originalIntent"] = verdict.Intent
		output["fellback"] = true
	}

	return &NodeResult{
		Output:     output,
		Variables:  map[string]any{"last_intent": target.Name, "last_confidence": verdict.Confidence},
		NextNodeID: target.TargetNodeID,
	}
}

// userMessage resolves what the classifier should look at: the turn
// input first, then the conventional user_message and customer_message
// variables some channels populate.
func (h *routerHandler) userMessage(ec *ExecutionContext) string {
	if ec.Input != "" {
		return ec.Input
	}
	for _, name := range []string{"user_message", "customer_message"} {
		if v, ok := ec.Session.Variables[name]; ok && v != nil {
			if s := interp.ToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func classifierIntents(intents []flow.Intent) []ai.Intent {
	out := make([]ai.Intent, len(intents))
	for i, intent := range intents {
		out[i] = ai.Intent{
			Name:        intent.Name,
			Description: intent.Description,
			Examples:    intent.Examples,
		}
	}
	return out
}
