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

import "fmt"

// Knowledge base providers.
const (
	KnowledgeMemory  = "memory"
	KnowledgeChromem = "chromem"
	KnowledgeQdrant  = "qdrant"
)

// Embedder providers.
const (
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"
)

// KnowledgeBaseConfig configures one knowledge base that search nodes
// can query. The map key under knowledge: is the id flows refer to.
type KnowledgeBaseConfig struct {
	// Provider is "memory", "chromem" or "qdrant".
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=memory,enum=chromem,enum=qdrant"`

	// PersistPath stores the chromem collection on disk. Empty keeps
	// it purely in memory.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`

	// Compress gzip-compresses the chromem persistence files.
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty"`

	// Endpoint is the qdrant gRPC address.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// APIKey authenticates against qdrant cloud.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Collection names the vector collection. Defaults to the
	// knowledge base id.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	// Embedder turns text into vectors for chromem and qdrant. The
	// memory provider scores terms directly and ignores it.
	Embedder *EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// Documents seed the knowledge base at startup.
	Documents []SeedDocument `yaml:"documents,omitempty" json:"documents,omitempty"`
}

// EmbedderConfig selects the embedding backend for vector providers.
type EmbedderConfig struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=ollama"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SeedDocument is one document loaded into a knowledge base at startup.
type SeedDocument struct {
	ID       string            `yaml:"id,omitempty" json:"id,omitempty"`
	Text     string            `yaml:"text" json:"text"`
	Source   string            `yaml:"source,omitempty" json:"source,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// SetDefaults applies defaults. The knowledge base id becomes the
// collection name when none is set.
func (c *KnowledgeBaseConfig) SetDefaults(id string) {
	if c.Provider == "" {
		c.Provider = KnowledgeMemory
	}
	if c.Collection == "" {
		c.Collection = id
	}
	switch c.Provider {
	case KnowledgeChromem:
		if c.PersistPath == "" {
			c.PersistPath = "./.nestor/chromem"
		}
	case KnowledgeQdrant:
		if c.Endpoint == "" {
			c.Endpoint = "localhost:6334"
		}
	}
	if c.Provider != KnowledgeMemory {
		if c.Embedder == nil {
			c.Embedder = &EmbedderConfig{}
		}
		c.Embedder.SetDefaults()
	}
}

func (c *KnowledgeBaseConfig) Validate() error {
	switch c.Provider {
	case KnowledgeMemory:
	case KnowledgeChromem:
		if c.Embedder == nil {
			return fmt.Errorf("chromem provider requires an embedder")
		}
		if err := c.Embedder.Validate(); err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
	case KnowledgeQdrant:
		if c.Endpoint == "" {
			return fmt.Errorf("qdrant provider requires an endpoint")
		}
		if c.Embedder == nil {
			return fmt.Errorf("qdrant provider requires an embedder")
		}
		if err := c.Embedder.Validate(); err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
	default:
		return fmt.Errorf("unknown provider '%s'", c.Provider)
	}
	for i, doc := range c.Documents {
		if doc.Text == "" {
			return fmt.Errorf("document %d has no text", i)
		}
	}
	return nil
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderOpenAI:
			c.Model = "text-embedding-3-small"
		case EmbedderOllama:
			c.Model = "nomic-embed-text"
		}
	}
	if c.BaseURL == "" && c.Provider == EmbedderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.APIKey == "" && c.Provider == EmbedderOpenAI {
		c.APIKey = GetProviderAPIKey(ClassifierOpenAI)
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderOpenAI, EmbedderOllama:
	default:
		return fmt.Errorf("unknown embedder provider '%s'", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("embedder requires a model")
	}
	return nil
}
