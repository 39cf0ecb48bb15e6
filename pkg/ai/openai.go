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

// OpenAIClassifier prompts an OpenAI chat model for a JSON verdict.
// JSON mode pins the response shape so parsing stays trivial.
type OpenAIClassifier struct {
	config *config.ClassifierConfig
	client *httpclient.Client
}

var _ Classifier = (*OpenAIClassifier)(nil)

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAIClassifier(cfg *config.ClassifierConfig) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai classifier requires an API key")
	}
	return &OpenAIClassifier{
		config: cfg,
		client: newHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (c *OpenAIClassifier) Provider() string {
	return config.ClassifierOpenAI
}

func (c *OpenAIClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	return track(ctx, c.Provider(), func(ctx context.Context) (*Classification, error) {
		model, temperature, maxTokens := requestOverrides(c.config, req)

		body := openAIChatRequest{
			Model: model,
			Messages: []openAIChatMessage{
				{Role: "system", Content: buildSystemPrompt(c.config, req)},
				{Role: "user", Content: req.UserMessage},
			},
			Temperature:    temperature,
			ResponseFormat: &openAIResponseFormat{Type: "json_object"},
		}
		if maxTokens > 0 {
			body.MaxTokens = &maxTokens
		}

		headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

		var response openAIChatResponse
		if err := postJSON(ctx, c.client, c.baseURL()+"/chat/completions", headers, body, &response); err != nil {
			return nil, fmt.Errorf("openai classification: %w", err)
		}
		if response.Error != nil {
			return nil, fmt.Errorf("openai classification: %s", response.Error.Message)
		}
		if len(response.Choices) == 0 {
			return nil, fmt.Errorf("openai classification: response has no choices")
		}

		return parseClassification(response.Choices[0].Message.Content)
	})
}

func (c *OpenAIClassifier) baseURL() string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return "https://api.openai.com/v1"
}

func (c *OpenAIClassifier) Close() error {
	return nil
}
