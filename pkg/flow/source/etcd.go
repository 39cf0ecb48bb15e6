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

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdSource loads flows from an etcd key and watches it natively.
type EtcdSource struct {
	client *clientv3.Client
	key    string
}

// NewEtcdSource creates a source reading from an etcd key.
func NewEtcdSource(endpoints []string, key string) (*EtcdSource, error) {
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}
	if len(endpoints) == 0 {
		endpoints = []string{"localhost:2379"}
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdSource{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeEtcd.
func (s *EtcdSource) Type() Type {
	return TypeEtcd
}

// Load reads the flow document stored under the key.
func (s *EtcdSource) Load(ctx context.Context) ([][]byte, error) {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", s.key)
	}
	return [][]byte{resp.Kvs[0].Value}, nil
}

// Watch subscribes to etcd's native watch stream for the key.
func (s *EtcdSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	watchCh := s.client.Watch(ctx, s.key)

	go func() {
		defer close(ch)
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				slog.Error("Etcd watch error", "key", s.key, "error", err)
				continue
			}
			if len(resp.Events) == 0 {
				continue
			}
			select {
			case ch <- struct{}{}:
				slog.Debug("Etcd key changed", "key", s.key)
			default:
				// Channel full, change already pending
			}
		}
	}()

	slog.Info("Watching etcd key", "key", s.key)
	return ch, nil
}

// Close closes the etcd client.
func (s *EtcdSource) Close() error {
	return s.client.Close()
}

// Ensure EtcdSource implements Source
var _ Source = (*EtcdSource)(nil)
