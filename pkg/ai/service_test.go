package ai

import (
	"context"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestServiceDefaultsToRules(t *testing.T) {
	service, err := NewServiceFromConfig(nil)
	if err != nil {
		t.Fatalf("NewServiceFromConfig: %v", err)
	}
	defer func() { _ = service.Close() }()

	classifier, err := service.ClassifierFor("")
	if err != nil {
		t.Fatalf("ClassifierFor: %v", err)
	}
	if classifier.Provider() != config.ClassifierRules {
		t.Errorf("default provider = %s, want rules", classifier.Provider())
	}
}

func TestServiceResolvesByProvider(t *testing.T) {
	rules := &config.ClassifierConfig{Provider: config.ClassifierRules}
	service, err := NewServiceFromConfig(map[string]*config.ClassifierConfig{
		"default": rules,
	})
	if err != nil {
		t.Fatalf("NewServiceFromConfig: %v", err)
	}
	defer func() { _ = service.Close() }()

	classifier, err := service.ClassifierFor(config.ClassifierRules)
	if err != nil {
		t.Fatalf("ClassifierFor(rules): %v", err)
	}

	verdict, err := classifier.Classify(context.Background(), Request{
		UserMessage: "where is my order",
		Intents:     supportIntents(),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Intent != "track_order" {
		t.Errorf("intent = %s", verdict.Intent)
	}
}

func TestServiceUnknownProvider(t *testing.T) {
	service, err := NewServiceFromConfig(nil)
	if err != nil {
		t.Fatalf("NewServiceFromConfig: %v", err)
	}
	defer func() { _ = service.Close() }()

	if _, err := service.ClassifierFor("openai"); err == nil {
		t.Error("expected error for unconfigured provider")
	}
}

func TestServiceRulesAlwaysAvailable(t *testing.T) {
	service, err := NewServiceFromConfig(map[string]*config.ClassifierConfig{})
	if err != nil {
		t.Fatalf("NewServiceFromConfig: %v", err)
	}
	defer func() { _ = service.Close() }()

	classifier, err := service.ClassifierFor(config.ClassifierRules)
	if err != nil {
		t.Fatalf("ClassifierFor(rules): %v", err)
	}
	if classifier.Provider() != config.ClassifierRules {
		t.Errorf("provider = %s", classifier.Provider())
	}
}

func TestServiceSurfacesBuildErrors(t *testing.T) {
	_, err := NewServiceFromConfig(map[string]*config.ClassifierConfig{
		"broken": {Provider: config.ClassifierOpenAI, Model: "gpt-4o-mini"},
	})
	if err == nil {
		t.Error("expected error for openai entry without API key")
	}
}
