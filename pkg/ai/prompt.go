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

package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/nestor/pkg/config"
)

// buildSystemPrompt composes the node's system prompt, the response
// contract and the intent catalog. Instructions come first so that
// token clamping only ever cuts into trailing intent examples.
func buildSystemPrompt(cfg *config.ClassifierConfig, req Request) string {
	var b strings.Builder

	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}

	b.WriteString("Classify the user's message into exactly one of the intents below.\n")
	b.WriteString(`Respond with only a JSON object: {"intent": "<name>", "confidence": <number between 0 and 1>, "reasoning": "<one short sentence>"}.`)
	b.WriteString("\nUse intent \"none\" when no intent fits the message.\n")
	b.WriteString("\nIntents:\n")
	for _, intent := range req.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", intent.Name, intent.Description)
		for _, example := range intent.Examples {
			fmt.Fprintf(&b, "  example: %s\n", example)
		}
	}

	prompt := b.String()
	if cfg != nil && cfg.MaxPromptTokens > 0 {
		prompt = NewTokenCounter(cfg.Model).Truncate(prompt, cfg.MaxPromptTokens)
	}
	return prompt
}

// parseClassification extracts the JSON verdict from a model response.
// Models occasionally wrap the object in prose or a markdown fence, so
// everything outside the outermost braces is ignored.
func parseClassification(raw string) (*Classification, error) {
	text := strings.TrimSpace(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier response: %s", snippet(text))
	}

	var c Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &c); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}

	if c.Intent == "" {
		c.Intent = NoIntent
	}
	c.Confidence = clamp01(c.Confidence)
	return &c, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func snippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
