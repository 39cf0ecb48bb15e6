package ai

import (
	"context"
	"testing"
)

func supportIntents() []Intent {
	return []Intent{
		{
			Name:        "track_order",
			Description: "Questions about order status and delivery",
			Examples:    []string{"where is my order", "track my package"},
		},
		{
			Name:        "refund",
			Description: "Requests for refunds",
			Examples:    []string{"i want a refund for my purchase"},
		},
	}
}

func TestRulesClassifierExactExampleMatch(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{
		UserMessage: "Hey, where is my order?",
		Intents:     supportIntents(),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != "track_order" {
		t.Errorf("intent = %s, want track_order", verdict.Intent)
	}
	if verdict.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", verdict.Confidence)
	}
	if verdict.Reasoning == "" {
		t.Error("expected a reasoning string")
	}
}

func TestRulesClassifierIntentNameTokens(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{
		UserMessage: "this is a billing question about fees",
		Intents: []Intent{
			{Name: "billing_question", Description: "Invoices and charges"},
		},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != "billing_question" {
		t.Errorf("intent = %s, want billing_question", verdict.Intent)
	}
	if verdict.Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", verdict.Confidence)
	}
}

func TestRulesClassifierNoMatch(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{
		UserMessage: "zzz qqq xxx",
		Intents:     supportIntents(),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != NoIntent {
		t.Errorf("intent = %s, want %s", verdict.Intent, NoIntent)
	}
	if verdict.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", verdict.Confidence)
	}
}

func TestRulesClassifierTieKeepsDeclarationOrder(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{
		UserMessage: "reset password",
		Intents: []Intent{
			{Name: "first", Examples: []string{"reset password"}},
			{Name: "second", Examples: []string{"reset password"}},
		},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != "first" {
		t.Errorf("intent = %s, want first (declaration order)", verdict.Intent)
	}
}

func TestRulesClassifierPartialOverlap(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{
		UserMessage: "refund now",
		Intents:     supportIntents(),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != "refund" {
		t.Errorf("intent = %s, want refund", verdict.Intent)
	}
	if verdict.Confidence <= 0 || verdict.Confidence >= 1 {
		t.Errorf("confidence = %v, want partial score in (0, 1)", verdict.Confidence)
	}
}

func TestRulesClassifierEmptyIntents(t *testing.T) {
	c := NewRulesClassifier()

	verdict, err := c.Classify(context.Background(), Request{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != NoIntent {
		t.Errorf("intent = %s, want %s", verdict.Intent, NoIntent)
	}
}
