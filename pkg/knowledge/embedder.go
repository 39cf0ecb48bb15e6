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

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

// Embedder turns text into a vector for the chromem and qdrant providers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the embedding backend named by the config.
func NewEmbedder(cfg *config.EmbedderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	switch cfg.Provider {
	case config.EmbedderOpenAI:
		return newOpenAIEmbedder(cfg), nil
	case config.EmbedderOllama:
		return newOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider '%s'", cfg.Provider)
	}
}

func newEmbedderHTTPClient(parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(2),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}

// postJSON sends a JSON body and decodes the JSON response into out.
func postJSON(ctx context.Context, client *httpclient.Client, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("request failed: %w", err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// openAIEmbedder calls the OpenAI embeddings endpoint.
type openAIEmbedder struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func newOpenAIEmbedder(cfg *config.EmbedderConfig) *openAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openAIEmbedder{
		client:  newEmbedderHTTPClient(httpclient.ParseOpenAIHeaders),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	var response openAIEmbedResponse
	err := postJSON(ctx, e.client, e.baseURL+"/embeddings", headers, openAIEmbedRequest{
		Model: e.model,
		Input: []string{text},
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("openai embedding: empty response")
	}
	return response.Data[0].Embedding, nil
}

// ollamaEmbedder calls a local Ollama server.
type ollamaEmbedder struct {
	client  *httpclient.Client
	baseURL string
	model   string
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func newOllamaEmbedder(cfg *config.EmbedderConfig) *ollamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &ollamaEmbedder{
		client:  newEmbedderHTTPClient(nil),
		baseURL: baseURL,
		model:   cfg.Model,
	}
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var response ollamaEmbedResponse
	err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", nil, ollamaEmbedRequest{
		Model:  e.model,
		Prompt: text,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedding: empty response")
	}
	return response.Embedding, nil
}

var (
	_ Embedder = (*openAIEmbedder)(nil)
	_ Embedder = (*ollamaEmbedder)(nil)
)
