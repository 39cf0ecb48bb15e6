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

// Package knowledge hosts the knowledge bases that knowledge_search nodes
// query. A Service routes searches to named bases; providers range from a
// dependency-free in-memory term matcher to chromem and qdrant vector
// stores fronted by an embedding backend.
package knowledge

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/registry"
)

// Document is one scored hit returned by a knowledge base.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of one search.
type Result struct {
	// Results holds the hits at or above the minimum score, best first.
	Results []Document `json:"results"`

	// Answer is the content of the best hit, empty when nothing
	// scored high enough.
	Answer string `json:"answer,omitempty"`

	// Confidence is the score of the best hit, zero without hits.
	Confidence float64 `json:"confidence"`

	// Grounded reports whether at least one hit met the minimum score.
	Grounded bool `json:"grounded"`
}

// Map renders the result as the session variable value that flows read
// fields like "answer" and "grounded" from.
func (r *Result) Map() map[string]any {
	sources := make([]any, 0, len(r.Results))
	for _, doc := range r.Results {
		source := map[string]any{
			"content": doc.Content,
			"score":   doc.Score,
		}
		if doc.ID != "" {
			source["id"] = doc.ID
		}
		if len(doc.Metadata) > 0 {
			source["metadata"] = doc.Metadata
		}
		sources = append(sources, source)
	}
	return map[string]any{
		"answer":     r.Answer,
		"sources":    sources,
		"confidence": r.Confidence,
		"grounded":   r.Grounded,
	}
}

// Searcher is one knowledge base.
type Searcher interface {
	// Search returns at most topK documents scoring at or above
	// minScore, best first.
	Search(ctx context.Context, query string, topK int, minScore float64) (*Result, error)

	// Close releases provider resources.
	Close() error
}

// Service routes searches to knowledge bases by id.
type Service struct {
	bases *registry.BaseRegistry[Searcher]
}

// NewService creates an empty knowledge service.
func NewService() *Service {
	return &Service{bases: registry.NewBaseRegistry[Searcher]()}
}

// NewServiceFromConfig builds and seeds every configured knowledge base.
// The map key is the id knowledge_search nodes reference.
func NewServiceFromConfig(ctx context.Context, cfgs map[string]*config.KnowledgeBaseConfig) (*Service, error) {
	service := NewService()
	for id, cfg := range cfgs {
		base, err := newBase(ctx, id, cfg)
		if err != nil {
			_ = service.Close()
			return nil, fmt.Errorf("knowledge base '%s': %w", id, err)
		}
		if err := service.Register(id, base); err != nil {
			_ = service.Close()
			return nil, err
		}
	}
	return service, nil
}

func newBase(ctx context.Context, id string, cfg *config.KnowledgeBaseConfig) (Searcher, error) {
	switch cfg.Provider {
	case config.KnowledgeMemory:
		return NewMemoryBase(id, cfg.Documents), nil
	case config.KnowledgeChromem:
		embedder, err := NewEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		return NewChromemBase(ctx, cfg, embedder)
	case config.KnowledgeQdrant:
		embedder, err := NewEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		return NewQdrantBase(ctx, cfg, embedder)
	default:
		return nil, fmt.Errorf("unknown knowledge provider '%s'", cfg.Provider)
	}
}

// Register adds a knowledge base under an id.
func (s *Service) Register(id string, base Searcher) error {
	return s.bases.Register(id, base)
}

// Names returns the registered knowledge base ids, sorted.
func (s *Service) Names() []string {
	return s.bases.Names()
}

// Search runs a query against the knowledge base registered under
// knowledgeBaseID.
func (s *Service) Search(ctx context.Context, knowledgeBaseID, query string, topK int, minScore float64) (*Result, error) {
	base, ok := s.bases.Get(knowledgeBaseID)
	if !ok {
		return nil, fmt.Errorf("knowledge base '%s' is not configured", knowledgeBaseID)
	}

	tracer := observability.GetTracer("nestor/knowledge")
	ctx, span := tracer.Start(ctx, observability.SpanKnowledgeSearch, trace.WithAttributes(
		attribute.String("knowledge.base", knowledgeBaseID),
		attribute.Int("knowledge.top_k", topK),
	))
	defer span.End()

	result, err := base.Search(ctx, query, topK, minScore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("knowledge.results", len(result.Results)),
		attribute.Bool("knowledge.grounded", result.Grounded),
	)
	return result, nil
}

// Close closes every registered knowledge base.
func (s *Service) Close() error {
	var firstErr error
	for _, name := range s.bases.Names() {
		base, ok := s.bases.Get(name)
		if !ok {
			continue
		}
		if err := base.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing knowledge base '%s': %w", name, err)
		}
	}
	return firstErr
}
