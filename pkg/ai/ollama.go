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

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

// OllamaClassifier prompts a local Ollama model. No credentials are
// needed; format "json" forces a parseable verdict.
type OllamaClassifier struct {
	config *config.ClassifierConfig
	client *httpclient.Client
}

var _ Classifier = (*OllamaClassifier)(nil)

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

func NewOllamaClassifier(cfg *config.ClassifierConfig) (*OllamaClassifier, error) {
	return &OllamaClassifier{
		config: cfg,
		client: newHTTPClient(cfg, nil),
	}, nil
}

func (c *OllamaClassifier) Provider() string {
	return config.ClassifierOllama
}

func (c *OllamaClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	return track(ctx, c.Provider(), func(ctx context.Context) (*Classification, error) {
		model, temperature, maxTokens := requestOverrides(c.config, req)

		body := ollamaChatRequest{
			Model: model,
			Messages: []ollamaChatMessage{
				{Role: "system", Content: buildSystemPrompt(c.config, req)},
				{Role: "user", Content: req.UserMessage},
			},
			Stream: false,
			Format: "json",
		}
		if temperature > 0 || maxTokens > 0 {
			body.Options = &ollamaOptions{
				Temperature: temperature,
				NumPredict:  maxTokens,
			}
		}

		var response ollamaChatResponse
		if err := postJSON(ctx, c.client, c.baseURL()+"/api/chat", nil, body, &response); err != nil {
			return nil, fmt.Errorf("ollama classification: %w", err)
		}
		if response.Error != "" {
			return nil, fmt.Errorf("ollama classification: %s", response.Error)
		}
		if response.Message.Content == "" {
			return nil, fmt.Errorf("ollama classification: response has no content")
		}

		return parseClassification(response.Message.Content)
	})
}

func (c *OllamaClassifier) baseURL() string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return "http://localhost:11434"
}

func (c *OllamaClassifier) Close() error {
	return nil
}
