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
	"strings"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicClassifier prompts a Claude model via the messages API.
type AnthropicClassifier struct {
	config *config.ClassifierConfig
	client *httpclient.Client
}

var _ Classifier = (*AnthropicClassifier)(nil)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicClassifier(cfg *config.ClassifierConfig) (*AnthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic classifier requires an API key")
	}
	return &AnthropicClassifier{
		config: cfg,
		client: newHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (c *AnthropicClassifier) Provider() string {
	return config.ClassifierAnthropic
}

func (c *AnthropicClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	return track(ctx, c.Provider(), func(ctx context.Context) (*Classification, error) {
		model, temperature, maxTokens := requestOverrides(c.config, req)
		// The messages API requires max_tokens.
		if maxTokens <= 0 {
			maxTokens = 512
		}

		body := anthropicRequest{
			Model:       model,
			System:      buildSystemPrompt(c.config, req),
			Messages:    []anthropicMessage{{Role: "user", Content: req.UserMessage}},
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}

		headers := map[string]string{
			"x-api-key":         c.config.APIKey,
			"anthropic-version": anthropicVersion,
		}

		var response anthropicResponse
		if err := postJSON(ctx, c.client, c.baseURL()+"/v1/messages", headers, body, &response); err != nil {
			return nil, fmt.Errorf("anthropic classification: %w", err)
		}
		if response.Error != nil {
			return nil, fmt.Errorf("anthropic classification: %s", response.Error.Message)
		}

		var text strings.Builder
		for _, block := range response.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return nil, fmt.Errorf("anthropic classification: response has no text content")
		}

		return parseClassification(text.String())
	})
}

func (c *AnthropicClassifier) baseURL() string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return "https://api.anthropic.com"
}

func (c *AnthropicClassifier) Close() error {
	return nil
}
