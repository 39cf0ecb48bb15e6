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
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/nestor/pkg/config"
)

// QdrantBase backs a knowledge base with a Qdrant collection over gRPC.
type QdrantBase struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
}

var _ Searcher = (*QdrantBase)(nil)

// NewQdrantBase connects to Qdrant and seeds the collection with the
// configured documents. The collection is created on first seed using
// the embedder's dimensionality and cosine distance.
func NewQdrantBase(ctx context.Context, cfg *config.KnowledgeBaseConfig, embedder Embedder) (*QdrantBase, error) {
	host, port, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.APIKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s: %w", cfg.Endpoint, err)
	}

	base := &QdrantBase{client: client, collection: cfg.Collection, embedder: embedder}
	if err := base.seed(ctx, cfg.Documents); err != nil {
		_ = client.Close()
		return nil, err
	}
	return base, nil
}

// pointID derives a stable UUID for a document so reseeding upserts the
// same point instead of duplicating it.
func pointID(collection, docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+docID)).String()
}

// splitEndpoint parses "host:port"; a bare host gets the gRPC default.
func splitEndpoint(endpoint string) (string, int, error) {
	if !strings.Contains(endpoint, ":") {
		return endpoint, 6334, nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant endpoint '%s': %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port '%s': %w", portStr, err)
	}
	return host, port, nil
}

func (b *QdrantBase) seed(ctx context.Context, seeds []config.SeedDocument) error {
	if len(seeds) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(seeds))
	for i, seed := range seeds {
		vector, err := b.embedder.Embed(ctx, seed.Text)
		if err != nil {
			return fmt.Errorf("failed to embed seed document %d: %w", i, err)
		}
		if i == 0 {
			if err := b.ensureCollection(ctx, len(vector)); err != nil {
				return err
			}
		}

		docID := seed.ID
		if docID == "" {
			docID = fmt.Sprintf("doc-%d", i+1)
		}
		fields := map[string]any{
			"content": seed.Text,
			"doc_id":  docID,
		}
		if seed.Source != "" {
			fields["source"] = seed.Source
		}
		for key, value := range seed.Metadata {
			fields[key] = value
		}
		payload := make(map[string]*qdrant.Value, len(fields))
		for key, value := range fields {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}

		// Qdrant point ids must be UUIDs, so arbitrary document ids are
		// hashed deterministically and kept in the payload instead.
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(b.collection, docID)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		})
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to seed collection '%s': %w", b.collection, err)
	}
	return nil
}

func (b *QdrantBase) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection '%s': %w", b.collection, err)
	}
	return nil
}

// Search embeds the query and runs a similarity search with minScore as
// the server-side score threshold.
func (b *QdrantBase) Search(ctx context.Context, query string, topK int, minScore float64) (*Result, error) {
	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	threshold := float32(minScore)
	searchRequest := &qdrant.SearchPoints{
		CollectionName: b.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &threshold,
	}

	searchResult, err := b.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	result := &Result{Results: make([]Document, 0, len(searchResult.Result))}
	for _, point := range searchResult.Result {
		doc := Document{Score: float64(point.Score)}

		metadata := make(map[string]any, len(point.Payload))
		for key, value := range point.Payload {
			metadata[key] = payloadValue(value)
		}
		if content, ok := metadata["content"].(string); ok {
			doc.Content = content
			delete(metadata, "content")
		}
		if id, ok := metadata["doc_id"].(string); ok {
			doc.ID = id
			delete(metadata, "doc_id")
		}
		if len(metadata) > 0 {
			doc.Metadata = metadata
		}

		result.Results = append(result.Results, doc)
	}

	if len(result.Results) > 0 {
		result.Answer = result.Results[0].Content
		result.Confidence = result.Results[0].Score
		result.Grounded = true
	}
	return result, nil
}

// payloadValue unwraps a qdrant payload value into a plain Go value.
func payloadValue(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = payloadValue(item)
		}
		return list
	default:
		return value
	}
}

func (b *QdrantBase) Close() error {
	return b.client.Close()
}
