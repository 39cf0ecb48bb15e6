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

package config

import (
	"fmt"
	"time"

	"github.com/kadirpekel/nestor/pkg/httpclient"
)

// Classifier providers.
const (
	ClassifierOpenAI    = "openai"
	ClassifierAnthropic = "anthropic"
	ClassifierGemini    = "gemini"
	ClassifierOllama    = "ollama"
	ClassifierRules     = "rules"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultOllamaModel    = "llama3.2"
)

// ClassifierConfig configures an intent classification provider used
// by router nodes. The "rules" provider matches intent examples with
// keyword scoring and needs no credentials; the rest call an LLM.
type ClassifierConfig struct {
	// Provider selects the backend.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=anthropic,enum=gemini,enum=ollama,enum=rules,description=Classification provider"`

	// Model is the model name. Defaults depend on the provider.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"description=Model name"`

	// APIKey authenticates against the provider. When empty the
	// provider's conventional environment variable is used.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"description=API key (falls back to the provider's environment variable)"`

	// BaseURL overrides the provider endpoint. Required for ollama
	// only when it is not on localhost.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature defaults to 0 so classification stays deterministic.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`

	// MaxTokens bounds the completion. Classification needs very few.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// MaxPromptTokens clamps the prompt before it is sent. Intent
	// example lists can get large; the prompt is truncated to fit.
	MaxPromptTokens int `yaml:"max_prompt_tokens,omitempty" json:"max_prompt_tokens,omitempty"`

	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries *int          `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`

	TLS *httpclient.TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

func (c *ClassifierConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ClassifierRules
	}
	if c.Model == "" {
		switch c.Provider {
		case ClassifierOpenAI:
			c.Model = DefaultOpenAIModel
		case ClassifierAnthropic:
			c.Model = DefaultAnthropicModel
		case ClassifierGemini:
			c.Model = DefaultGeminiModel
		case ClassifierOllama:
			c.Model = DefaultOllamaModel
		}
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ClassifierOpenAI:
			c.BaseURL = "https://api.openai.com/v1"
		case ClassifierAnthropic:
			c.BaseURL = "https://api.anthropic.com"
		case ClassifierOllama:
			c.BaseURL = "http://localhost:11434"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.0)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	if c.MaxPromptTokens == 0 {
		c.MaxPromptTokens = 4000
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(2)
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
}

func (c *ClassifierConfig) Validate() error {
	switch c.Provider {
	case ClassifierOpenAI, ClassifierAnthropic, ClassifierGemini, ClassifierOllama, ClassifierRules:
	default:
		return fmt.Errorf("unknown provider '%s'", c.Provider)
	}
	if c.Provider != ClassifierRules && c.Model == "" {
		return fmt.Errorf("%s provider requires a model", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// IsRules reports whether this classifier runs locally without an LLM.
func (c *ClassifierConfig) IsRules() bool {
	return c.Provider == ClassifierRules
}

// DefaultClassifier builds a classifier config from the environment:
// the first provider with an API key set wins, in the order anthropic,
// openai, gemini, and rules when no key is found.
func DefaultClassifier() *ClassifierConfig {
	cfg := &ClassifierConfig{}
	switch {
	case GetProviderAPIKey(ClassifierAnthropic) != "":
		cfg.Provider = ClassifierAnthropic
	case GetProviderAPIKey(ClassifierOpenAI) != "":
		cfg.Provider = ClassifierOpenAI
	case GetProviderAPIKey(ClassifierGemini) != "":
		cfg.Provider = ClassifierGemini
	default:
		cfg.Provider = ClassifierRules
	}
	cfg.SetDefaults()
	return cfg
}
