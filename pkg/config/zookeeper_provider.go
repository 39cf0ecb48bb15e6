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

	"github.com/go-zookeeper/zk"
	"github.com/knadh/koanf/v2"
)

// zookeeperProvider reads one YAML document from a znode. Zookeeper
// watches are one-shot, so Watch re-arms a data watch after every
// event.
type zookeeperProvider struct {
	conn *zk.Conn
	path string
}

var _ koanf.Provider = (*zookeeperProvider)(nil)

func newZookeeperProvider(endpoints []string, path string) (*zookeeperProvider, error) {
	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &zookeeperProvider{conn: conn, path: path}, nil
}

func (p *zookeeperProvider) ReadBytes() ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read znode '%s': %w", p.path, err)
	}
	return data, nil
}

func (p *zookeeperProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("zookeeper provider does not support this method")
}

func (p *zookeeperProvider) Watch(cb func(event interface{}, err error)) error {
	go func() {
		for {
			_, _, ch, err := p.conn.GetW(p.path)
			if err != nil {
				cb(nil, fmt.Errorf("failed to watch znode '%s': %w", p.path, err))
				return
			}
			ev := <-ch
			switch ev.Type {
			case zk.EventNodeDataChanged:
				cb(nil, nil)
			case zk.EventNodeDeleted:
				cb(nil, fmt.Errorf("znode '%s' deleted", p.path))
				return
			case zk.EventNotWatching:
				cb(nil, fmt.Errorf("zookeeper watch lost: %v", ev.Err))
				return
			}
		}
	}()
	return nil
}
