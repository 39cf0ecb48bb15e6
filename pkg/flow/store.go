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

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kadirpekel/nestor/pkg/flow/source"
	"github.com/kadirpekel/nestor/pkg/registry"
)

// Store holds loaded flows and keeps them fresh from their sources. Lookups
// are safe for concurrent use; reloads replace flows atomically by id.
type Store struct {
	flows    *registry.BaseRegistry[*Flow]
	sources  []source.Source
	onReload func([]*Flow)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithOnReload sets a callback invoked with the full flow set after a
// successful reload.
func WithOnReload(fn func([]*Flow)) StoreOption {
	return func(s *Store) {
		s.onReload = fn
	}
}

// NewStore creates a Store over the given sources. Sources may be empty
// when flows are registered programmatically.
func NewStore(sources []source.Source, opts ...StoreOption) *Store {
	s := &Store{
		flows:   registry.NewBaseRegistry[*Flow](),
		sources: sources,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads every source, parses all flow documents, and replaces the
// registered flows. Parse failures abort the whole load so a half-updated
// flow set is never served.
func (s *Store) Load(ctx context.Context) error {
	var flows []*Flow
	for _, src := range s.sources {
		docs, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load flows from %s source: %w", src.Type(), err)
		}
		for _, doc := range docs {
			parsed, err := ParseAll(doc)
			if err != nil {
				return fmt.Errorf("failed to parse flows from %s source: %w", src.Type(), err)
			}
			flows = append(flows, parsed...)
		}
	}

	for _, f := range flows {
		s.flows.Replace(f.ID, f)
	}

	slog.Info("Flows loaded", "count", len(flows))
	return nil
}

// Add registers or replaces a single flow.
func (s *Store) Add(f *Flow) {
	s.flows.Replace(f.ID, f)
}

// Get returns the flow with the given id.
func (s *Store) Get(id string) (*Flow, bool) {
	return s.flows.Get(id)
}

// List returns all registered flows sorted by id.
func (s *Store) List() []*Flow {
	flows := s.flows.List()
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows
}

// Watch starts watching every source for changes. When a source signals,
// the whole flow set is reloaded and onReload is called.
// Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	changes := make(chan source.Type)
	watching := 0

	for _, src := range s.sources {
		ch, err := src.Watch(ctx)
		if err != nil {
			return fmt.Errorf("failed to start watching %s source: %w", src.Type(), err)
		}
		if ch == nil {
			slog.Info("Flow watching not supported by source", "type", src.Type())
			continue
		}
		watching++
		go func(t source.Type, ch <-chan struct{}) {
			for range ch {
				select {
				case changes <- t:
				case <-ctx.Done():
					return
				}
			}
		}(src.Type(), ch)
	}

	if watching == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Started watching for flow changes", "sources", watching)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-changes:
			if err := s.Load(ctx); err != nil {
				slog.Error("Failed to reload flows", "source", t, "error", err)
				continue
			}

			slog.Info("Flows reloaded successfully", "source", t)
			if s.onReload != nil {
				s.onReload(s.List())
			}
		}
	}
}

// Close releases resources held by the sources.
func (s *Store) Close() error {
	var firstErr error
	for _, src := range s.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
