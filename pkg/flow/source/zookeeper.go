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

	"github.com/go-zookeeper/zk"
)

// ZookeeperSource loads flows from a ZooKeeper node and re-arms a data
// watch after every event.
type ZookeeperSource struct {
	conn *zk.Conn
	path string
}

// NewZookeeperSource creates a source reading from a ZooKeeper node.
func NewZookeeperSource(endpoints []string, path string) (*ZookeeperSource, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperSource{
		conn: conn,
		path: path,
	}, nil
}

// Type returns TypeZookeeper.
func (s *ZookeeperSource) Type() Type {
	return TypeZookeeper
}

// Load reads the flow document stored at the node.
func (s *ZookeeperSource) Load(ctx context.Context) ([][]byte, error) {
	data, _, err := s.conn.Get(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", s.path, err)
	}
	return [][]byte{data}, nil
}

// Watch re-arms a GetW data watch in a loop; each fired watch is one-shot.
func (s *ZookeeperSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go s.watchLoop(ctx, ch)
	slog.Info("Watching zookeeper path", "path", s.path)
	return ch, nil
}

func (s *ZookeeperSource) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}

		_, _, eventCh, err := s.conn.GetW(s.path)
		if err != nil {
			slog.Error("Failed to watch zookeeper path", "path", s.path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			switch event.Type {
			case zk.EventNodeDataChanged:
				select {
				case ch <- struct{}{}:
					slog.Debug("Zookeeper node changed", "path", s.path)
				default:
					// Channel full, change already pending
				}
			case zk.EventNodeDeleted:
				slog.Warn("Zookeeper node was deleted", "path", s.path)
				return
			case zk.EventNotWatching:
				slog.Warn("Zookeeper watch lost", "path", s.path)
				return
			}
		}
	}
}

// Close closes the ZooKeeper connection.
func (s *ZookeeperSource) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// Ensure ZookeeperSource implements Source
var _ Source = (*ZookeeperSource)(nil)
