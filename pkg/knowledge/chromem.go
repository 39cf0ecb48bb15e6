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
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/nestor/pkg/config"
)

// ChromemBase is an embedded vector store. With a persist path the
// collection survives restarts; without one it lives in memory.
type ChromemBase struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
}

var _ Searcher = (*ChromemBase)(nil)

// NewChromemBase opens (or creates) the collection and seeds it with the
// configured documents. Seeding replaces documents with the same id, so
// restarts against a persistent store are harmless.
func NewChromemBase(ctx context.Context, cfg *config.KnowledgeBaseConfig, embedder Embedder) (*ChromemBase, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			slog.Warn("Failed to open persistent vector store, falling back to memory",
				"path", cfg.PersistPath,
				"error", err)
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	})
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection '%s': %w", cfg.Collection, err)
	}

	base := &ChromemBase{db: db, collection: collection, embedder: embedder}
	if err := base.seed(ctx, cfg.Documents); err != nil {
		return nil, err
	}
	return base, nil
}

func (b *ChromemBase) seed(ctx context.Context, seeds []config.SeedDocument) error {
	if len(seeds) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(seeds))
	for i, seed := range seeds {
		docID := seed.ID
		if docID == "" {
			docID = fmt.Sprintf("doc-%d", i+1)
		}
		metadata := make(map[string]string, len(seed.Metadata)+1)
		for key, value := range seed.Metadata {
			metadata[key] = value
		}
		if seed.Source != "" {
			metadata["source"] = seed.Source
		}
		docs = append(docs, chromem.Document{
			ID:       docID,
			Content:  seed.Text,
			Metadata: metadata,
		})
	}

	if err := b.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to seed documents: %w", err)
	}
	return nil
}

// Search embeds the query and returns the topK nearest documents at or
// above minScore, ordered by cosine similarity.
func (b *ChromemBase) Search(ctx context.Context, query string, topK int, minScore float64) (*Result, error) {
	count := b.collection.Count()
	if count == 0 {
		return &Result{Results: []Document{}}, nil
	}

	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// chromem rejects nResults larger than the collection.
	n := topK
	if n > count {
		n = count
	}

	hits, err := b.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	result := &Result{Results: make([]Document, 0, len(hits))}
	for _, hit := range hits {
		score := float64(hit.Similarity)
		if score < minScore {
			continue
		}
		var metadata map[string]any
		if len(hit.Metadata) > 0 {
			metadata = make(map[string]any, len(hit.Metadata))
			for key, value := range hit.Metadata {
				metadata[key] = value
			}
		}
		result.Results = append(result.Results, Document{
			ID:       hit.ID,
			Content:  hit.Content,
			Score:    score,
			Metadata: metadata,
		})
	}

	if len(result.Results) > 0 {
		result.Answer = result.Results[0].Content
		result.Confidence = result.Results[0].Score
		result.Grounded = true
	}
	return result, nil
}

// Close is a no-op: the persistent store writes through on every add.
func (b *ChromemBase) Close() error {
	return nil
}
