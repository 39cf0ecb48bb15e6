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
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/nestor/pkg/config"
)

// GeminiClassifier prompts a Gemini model through the genai SDK with a
// JSON response MIME type.
type GeminiClassifier struct {
	config *config.ClassifierConfig
	client *genai.Client
}

var _ Classifier = (*GeminiClassifier)(nil)

func NewGeminiClassifier(cfg *config.ClassifierConfig) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini classifier requires an API key")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClassifier{config: cfg, client: client}, nil
}

func (c *GeminiClassifier) Provider() string {
	return config.ClassifierGemini
}

func (c *GeminiClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	return track(ctx, c.Provider(), func(ctx context.Context) (*Classification, error) {
		model, temperature, maxTokens := requestOverrides(c.config, req)

		genConfig := &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: buildSystemPrompt(c.config, req)}},
			},
			Temperature:      genai.Ptr(float32(temperature)),
			ResponseMIMEType: "application/json",
		}
		if maxTokens > 0 {
			genConfig.MaxOutputTokens = int32(maxTokens)
		}

		contents := []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.UserMessage}},
		}}

		resp, err := c.client.Models.GenerateContent(ctx, model, contents, genConfig)
		if err != nil {
			return nil, fmt.Errorf("gemini classification: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, fmt.Errorf("gemini classification: response has no candidates")
		}

		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() == 0 {
			return nil, fmt.Errorf("gemini classification: response has no text content")
		}

		return parseClassification(text.String())
	})
}

func (c *GeminiClassifier) Close() error {
	return nil
}
