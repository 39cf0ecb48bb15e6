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
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/kadirpekel/nestor/pkg/config"
)

// RulesClassifier scores keyword overlap between the user message and
// each intent's examples, description and name. It is deterministic,
// needs no credentials and serves as the zero-configuration default.
type RulesClassifier struct{}

var _ Classifier = (*RulesClassifier)(nil)

func NewRulesClassifier() *RulesClassifier {
	return &RulesClassifier{}
}

func (c *RulesClassifier) Provider() string {
	return config.ClassifierRules
}

func (c *RulesClassifier) Close() error {
	return nil
}

// Classify picks the intent with the highest overlap score. Ties keep
// the earlier intent so declaration order breaks them deterministically.
func (c *RulesClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	return track(ctx, c.Provider(), func(ctx context.Context) (*Classification, error) {
		input := normalizeText(req.UserMessage)
		inputTokens := tokenSet(input)

		best := &Classification{Intent: NoIntent, Reasoning: "no intent matched"}
		for _, intent := range req.Intents {
			score := scoreIntent(input, inputTokens, intent)
			if score > best.Confidence {
				best = &Classification{
					Intent:     intent.Name,
					Confidence: score,
					Reasoning:  fmt.Sprintf("keyword overlap with intent '%s'", intent.Name),
				}
			}
		}
		return best, nil
	})
}

func scoreIntent(input string, inputTokens map[string]struct{}, intent Intent) float64 {
	var best float64

	for _, example := range intent.Examples {
		ex := normalizeText(example)
		if ex == "" {
			continue
		}
		if strings.Contains(input, ex) {
			return 1.0
		}
		best = math.Max(best, overlapScore(inputTokens, splitTokens(ex)))
	}

	// Intent names like "track_order" double as keywords.
	name := normalizeText(strings.NewReplacer("_", " ", "-", " ").Replace(intent.Name))
	if nameTokens := splitTokens(name); len(nameTokens) > 0 && containsAll(inputTokens, nameTokens) {
		best = math.Max(best, 0.9)
	}

	if descTokens := splitTokens(normalizeText(intent.Description)); len(descTokens) > 0 {
		best = math.Max(best, overlapScore(inputTokens, descTokens)*0.5)
	}

	return clamp01(best)
}

// overlapScore is the share of candidate tokens present in the input.
func overlapScore(inputTokens map[string]struct{}, candidate []string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range candidate {
		if _, ok := inputTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(candidate))
}

func containsAll(inputTokens map[string]struct{}, candidate []string) bool {
	for _, tok := range candidate {
		if _, ok := inputTokens[tok]; !ok {
			return false
		}
	}
	return true
}

// stopwords are filtered so filler words do not inflate scores.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "i": {}, "my": {}, "me": {}, "we": {},
	"to": {}, "of": {}, "for": {}, "in": {}, "on": {}, "at": {}, "it": {},
	"is": {}, "be": {}, "do": {}, "can": {}, "you": {}, "and": {}, "or": {},
	"with": {}, "want": {}, "would": {}, "like": {}, "please": {},
}

func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func splitTokens(normalized string) []string {
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}
