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

// Package ai provides intent classification for router nodes. A
// Classifier maps a user message onto one of a flow's declared intents
// with a confidence score. LLM-backed classifiers (openai, anthropic,
// gemini, ollama) prompt a model for a JSON verdict; the rules
// classifier scores keyword overlap locally and needs no credentials.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/registry"
)

// Intent is one classification target declared by a router node.
type Intent struct {
	Name        string
	Description string
	Examples    []string
}

// Request carries everything a classifier needs for one verdict. Model,
// Temperature and MaxTokens override the provider's configured defaults
// when a router node pins its own; zero values leave the defaults alone.
type Request struct {
	SystemPrompt string
	UserMessage  string
	Intents      []Intent

	Model       string
	Temperature *float64
	MaxTokens   int
}

// Classification is a classifier's verdict. Intent is "none" when
// nothing matched; Confidence is clamped to [0, 1].
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// NoIntent is the verdict classifiers return when no declared intent
// fits the message.
const NoIntent = "none"

// Classifier turns a user message into an intent verdict.
type Classifier interface {
	// Provider names the backend ("openai", "rules", ...).
	Provider() string

	Classify(ctx context.Context, req Request) (*Classification, error)

	Close() error
}

// Registry holds named classifiers.
type Registry struct {
	*registry.BaseRegistry[Classifier]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Classifier]()}
}

// RegisterClassifier adds a classifier under a name.
func (r *Registry) RegisterClassifier(name string, c Classifier) error {
	if name == "" {
		return fmt.Errorf("classifier name cannot be empty")
	}
	if c == nil {
		return fmt.Errorf("classifier cannot be nil")
	}
	return r.Register(name, c)
}

// New builds a classifier from config.
func New(cfg *config.ClassifierConfig) (Classifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("classifier config cannot be nil")
	}
	switch cfg.Provider {
	case config.ClassifierOpenAI:
		return NewOpenAIClassifier(cfg)
	case config.ClassifierAnthropic:
		return NewAnthropicClassifier(cfg)
	case config.ClassifierGemini:
		return NewGeminiClassifier(cfg)
	case config.ClassifierOllama:
		return NewOllamaClassifier(cfg)
	case config.ClassifierRules:
		return NewRulesClassifier(), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider '%s'", cfg.Provider)
	}
}

// newHTTPClient builds the retrying HTTP client shared by the raw-HTTP
// providers.
func newHTTPClient(cfg *config.ClassifierConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(config.IntValue(cfg.MaxRetries, 2)),
		httpclient.WithBaseDelay(cfg.RetryDelay),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	if cfg.TLS != nil {
		opts = append(opts, httpclient.WithTLSConfig(cfg.TLS))
	}
	return httpclient.New(opts...)
}

// requestOverrides resolves the model, temperature and completion bound
// for one request, preferring the request's values over the provider's
// configured defaults.
func requestOverrides(cfg *config.ClassifierConfig, req Request) (model string, temperature float64, maxTokens int) {
	model = cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens = cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return model, temperature, maxTokens
}

// track wraps a provider call with its trace span and latency metric.
func track(ctx context.Context, provider string, fn func(ctx context.Context) (*Classification, error)) (*Classification, error) {
	tracer := observability.GetTracer("nestor/ai")
	ctx, span := tracer.Start(ctx, observability.SpanClassify, trace.WithAttributes(
		attribute.String(observability.AttrProvider, provider),
	))
	defer span.End()

	started := time.Now()
	verdict, err := fn(ctx)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordClassification(ctx, provider, time.Since(started), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String(observability.AttrIntent, verdict.Intent),
		attribute.Float64("classification.confidence", verdict.Confidence),
	)
	return verdict, nil
}

// postJSON sends a JSON body and decodes the JSON response into out.
// Non-2xx responses surface the error body so provider messages are
// not lost.
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
