package ai

import (
	"strings"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		intent     string
		confidence float64
		wantErr    bool
	}{
		{
			name:       "plain object",
			raw:        `{"intent": "track_order", "confidence": 0.91, "reasoning": "asks about an order"}`,
			intent:     "track_order",
			confidence: 0.91,
		},
		{
			name:       "markdown fence",
			raw:        "```json\n{\"intent\": \"refund\", \"confidence\": 0.8}\n```",
			intent:     "refund",
			confidence: 0.8,
		},
		{
			name:       "prose around object",
			raw:        `Sure! Here is the verdict: {"intent": "greeting", "confidence": 0.7} Hope that helps.`,
			intent:     "greeting",
			confidence: 0.7,
		},
		{
			name:       "confidence clamped high",
			raw:        `{"intent": "refund", "confidence": 1.7}`,
			intent:     "refund",
			confidence: 1.0,
		},
		{
			name:       "confidence clamped low",
			raw:        `{"intent": "refund", "confidence": -0.2}`,
			intent:     "refund",
			confidence: 0,
		},
		{
			name:       "missing intent becomes none",
			raw:        `{"confidence": 0.4}`,
			intent:     NoIntent,
			confidence: 0.4,
		},
		{
			name:    "no JSON at all",
			raw:     "I could not classify that.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			raw:     `{"intent": }`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseClassification(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClassification: %v", err)
			}
			if verdict.Intent != tt.intent {
				t.Errorf("intent = %s, want %s", verdict.Intent, tt.intent)
			}
			if verdict.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", verdict.Confidence, tt.confidence)
			}
		})
	}
}

func TestBuildSystemPromptListsIntents(t *testing.T) {
	req := Request{
		SystemPrompt: "You route customer support messages.",
		UserMessage:  "where is my order",
		Intents: []Intent{
			{Name: "track_order", Description: "Questions about order status", Examples: []string{"where is my order"}},
			{Name: "refund", Description: "Refund requests"},
		},
	}

	prompt := buildSystemPrompt(nil, req)

	for _, want := range []string{
		"You route customer support messages.",
		"track_order",
		"Questions about order status",
		"example: where is my order",
		"refund",
		`"none"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(prompt, "JSON") {
		t.Error("prompt should state the JSON response contract")
	}
}

func TestRequestOverrides(t *testing.T) {
	temp := 0.2
	cfg := &config.ClassifierConfig{
		Model:       "gpt-4o-mini",
		Temperature: config.Float64Ptr(0.0),
		MaxTokens:   512,
	}

	model, temperature, maxTokens := requestOverrides(cfg, Request{})
	if model != "gpt-4o-mini" || temperature != 0.0 || maxTokens != 512 {
		t.Errorf("defaults = %s %v %d", model, temperature, maxTokens)
	}

	model, temperature, maxTokens = requestOverrides(cfg, Request{
		Model:       "gpt-4o",
		Temperature: &temp,
		MaxTokens:   64,
	})
	if model != "gpt-4o" {
		t.Errorf("model = %s, want gpt-4o", model)
	}
	if temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", temperature)
	}
	if maxTokens != 64 {
		t.Errorf("maxTokens = %d, want 64", maxTokens)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(&config.ClassifierConfig{Provider: "markov"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewRequiresAPIKeys(t *testing.T) {
	for _, provider := range []string{config.ClassifierOpenAI, config.ClassifierAnthropic, config.ClassifierGemini} {
		if _, err := New(&config.ClassifierConfig{Provider: provider, Model: "m"}); err == nil {
			t.Errorf("%s without API key should fail", provider)
		}
	}
}

func TestRegistryRejectsDuplicatesAndEmptyNames(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterClassifier("", NewRulesClassifier()); err == nil {
		t.Error("expected error for empty name")
	}
	if err := registry.RegisterClassifier("rules", nil); err == nil {
		t.Error("expected error for nil classifier")
	}
	if err := registry.RegisterClassifier("rules", NewRulesClassifier()); err != nil {
		t.Fatalf("RegisterClassifier: %v", err)
	}
	if err := registry.RegisterClassifier("rules", NewRulesClassifier()); err == nil {
		t.Error("expected error for duplicate name")
	}
}
