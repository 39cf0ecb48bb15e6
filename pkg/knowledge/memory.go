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
	"sort"
	"strings"
	"unicode"

	"github.com/kadirpekel/nestor/pkg/config"
)

// MemoryBase scores seed documents by query term overlap. It needs no
// credentials or external store and is the default provider for tests
// and local demos.
type MemoryBase struct {
	id   string
	docs []Document
}

var _ Searcher = (*MemoryBase)(nil)

// NewMemoryBase creates a memory knowledge base holding the seed
// documents. Seeds without an id are numbered in order.
func NewMemoryBase(id string, seeds []config.SeedDocument) *MemoryBase {
	docs := make([]Document, 0, len(seeds))
	for i, seed := range seeds {
		docID := seed.ID
		if docID == "" {
			docID = fmt.Sprintf("doc-%d", i+1)
		}
		var metadata map[string]any
		if len(seed.Metadata) > 0 || seed.Source != "" {
			metadata = make(map[string]any, len(seed.Metadata)+1)
			for key, value := range seed.Metadata {
				metadata[key] = value
			}
			if seed.Source != "" {
				metadata["source"] = seed.Source
			}
		}
		docs = append(docs, Document{ID: docID, Content: seed.Text, Metadata: metadata})
	}
	return &MemoryBase{id: id, docs: docs}
}

// Search scores each document against the query and returns the topK
// hits at or above minScore, best first. Ordering is stable so equal
// scores keep seed order.
func (m *MemoryBase) Search(ctx context.Context, query string, topK int, minScore float64) (*Result, error) {
	terms := searchTerms(query)

	hits := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		score := scoreDocument(doc.Content, query, terms)
		if score < minScore || score == 0 {
			continue
		}
		hit := doc
		hit.Score = score
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	result := &Result{Results: hits}
	if len(hits) > 0 {
		result.Answer = hits[0].Content
		result.Confidence = hits[0].Score
		result.Grounded = true
	}
	return result, nil
}

// Close is a no-op for the memory provider.
func (m *MemoryBase) Close() error {
	return nil
}

// scoreDocument is 1.0 when the document contains the whole query,
// otherwise the share of query terms present in the document.
func scoreDocument(content, query string, terms []string) float64 {
	doc := strings.ToLower(content)
	if q := strings.ToLower(strings.TrimSpace(query)); q != "" && strings.Contains(doc, q) {
		return 1.0
	}
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if strings.Contains(doc, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// searchTerms lowercases the query and drops filler words so "what is
// your refund policy" scores on "refund policy".
func searchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := searchStopwords[field]; ok {
			continue
		}
		terms = append(terms, field)
	}
	return terms
}

var searchStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "i": {}, "my": {}, "me": {}, "we": {},
	"to": {}, "of": {}, "for": {}, "in": {}, "on": {}, "at": {}, "it": {},
	"is": {}, "are": {}, "be": {}, "do": {}, "does": {}, "can": {},
	"you": {}, "your": {}, "and": {}, "or": {}, "what": {}, "how": {},
	"when": {}, "where": {}, "which": {}, "about": {}, "tell": {},
}
