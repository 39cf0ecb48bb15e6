package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestOllamaClassifier(t *testing.T) {
	var captured ollamaChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"role":    "assistant",
				"content": `{"intent": "track_order", "confidence": 0.7}`,
			},
			"done": true,
		})
	}))
	defer server.Close()

	classifier, err := NewOllamaClassifier(&config.ClassifierConfig{
		Provider:  config.ClassifierOllama,
		Model:     "llama3.2",
		BaseURL:   server.URL,
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("NewOllamaClassifier: %v", err)
	}

	verdict, err := classifier.Classify(context.Background(), Request{
		UserMessage: "track my package",
		Intents:     supportIntents(),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if verdict.Intent != "track_order" || verdict.Confidence != 0.7 {
		t.Errorf("verdict = %+v", verdict)
	}

	if captured.Model != "llama3.2" {
		t.Errorf("model = %s", captured.Model)
	}
	if captured.Format != "json" {
		t.Errorf("format = %q, want json", captured.Format)
	}
	if captured.Stream {
		t.Error("stream should be false")
	}
	if captured.Options == nil || captured.Options.NumPredict != 256 {
		t.Errorf("options = %+v", captured.Options)
	}
}

func TestOllamaClassifierServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "model not found",
		})
	}))
	defer server.Close()

	classifier, err := NewOllamaClassifier(&config.ClassifierConfig{
		Provider: config.ClassifierOllama,
		Model:    "missing",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("NewOllamaClassifier: %v", err)
	}

	if _, err := classifier.Classify(context.Background(), Request{UserMessage: "hi"}); err == nil {
		t.Error("expected error when ollama reports one")
	}
}
