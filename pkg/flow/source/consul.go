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

package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulSource loads flows from a Consul KV key and watches it with
// blocking queries.
type ConsulSource struct {
	client *api.Client
	key    string
}

// NewConsulSource creates a source reading from a Consul KV key.
func NewConsulSource(endpoints []string, key string) (*ConsulSource, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	consulConfig := api.DefaultConfig()
	if len(endpoints) > 0 {
		consulConfig.Address = endpoints[0]
	}

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulSource{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeConsul.
func (s *ConsulSource) Type() Type {
	return TypeConsul
}

// Load reads the flow document stored under the key.
func (s *ConsulSource) Load(ctx context.Context) ([][]byte, error) {
	pair, _, err := s.client.KV().Get(s.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", s.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", s.key)
	}
	return [][]byte{pair.Value}, nil
}

// Watch polls the key with blocking queries and signals on index changes.
func (s *ConsulSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go s.watchLoop(ctx, ch)
	slog.Info("Watching consul key", "key", s.key)
	return ch, nil
}

func (s *ConsulSource) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var lastIndex uint64
	for {
		if ctx.Err() != nil {
			return
		}

		opts := &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		}
		pair, meta, err := s.client.KV().Get(s.key, opts.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Consul watch error", "key", s.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// Index went backwards: the KV store was reset, start over.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}

		if lastIndex == 0 {
			// First query establishes the baseline without signaling.
			lastIndex = meta.LastIndex
			continue
		}

		if meta.LastIndex != lastIndex && pair != nil {
			lastIndex = meta.LastIndex
			select {
			case ch <- struct{}{}:
				slog.Debug("Consul key changed", "key", s.key)
			default:
				// Channel full, change already pending
			}
		}
	}
}

// Close releases resources. The consul client holds no persistent
// connection.
func (s *ConsulSource) Close() error {
	return nil
}

// Ensure ConsulSource implements Source
var _ Source = (*ConsulSource)(nil)
