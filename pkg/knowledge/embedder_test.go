package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}

		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("model = %s", req.Model)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("input = %v", req.Input)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(&config.EmbedderConfig{
		Provider: config.EmbedderOpenAI,
		Model:    "text-embedding-3-small",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	vector, err := embedder.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 {
		t.Errorf("vector = %v", vector)
	}
}

func TestOpenAIEmbedderEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	embedder := newOpenAIEmbedder(&config.EmbedderConfig{
		Provider: config.EmbedderOpenAI,
		Model:    "text-embedding-3-small",
		BaseURL:  server.URL,
	})

	if _, err := embedder.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestOpenAIEmbedderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	embedder := newOpenAIEmbedder(&config.EmbedderConfig{
		Provider: config.EmbedderOpenAI,
		Model:    "text-embedding-3-small",
		BaseURL:  server.URL,
	})

	if _, err := embedder.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for HTTP 401")
	}
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %s", req.Model)
		}
		if req.Prompt != "hello" {
			t.Errorf("prompt = %q", req.Prompt)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.4, 0.5},
		})
	}))
	defer server.Close()

	embedder, err := NewEmbedder(&config.EmbedderConfig{
		Provider: config.EmbedderOllama,
		Model:    "nomic-embed-text",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	vector, err := embedder.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 2 || vector[1] != 0.5 {
		t.Errorf("vector = %v", vector)
	}
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	if _, err := NewEmbedder(&config.EmbedderConfig{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewEmbedder(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
