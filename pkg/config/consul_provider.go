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

	"github.com/hashicorp/consul/api"
	"github.com/knadh/koanf/v2"
)

// consulProvider reads one YAML document from a consul KV key and
// watches it with blocking queries.
type consulProvider struct {
	client *api.Client
	key    string
}

var _ koanf.Provider = (*consulProvider)(nil)

func newConsulProvider(endpoint, key string) (*consulProvider, error) {
	conf := api.DefaultConfig()
	if endpoint != "" {
		conf.Address = endpoint
	}
	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &consulProvider{client: client, key: key}, nil
}

func (p *consulProvider) ReadBytes() ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key '%s': %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key '%s' not found", p.key)
	}
	return pair.Value, nil
}

func (p *consulProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("consul provider does not support this method")
}

// Watch long-polls the key. The first blocking query returns
// immediately to establish the index and is not reported as a change.
func (p *consulProvider) Watch(cb func(event interface{}, err error)) error {
	go func() {
		var lastIndex uint64
		for {
			pair, meta, err := p.client.KV().Get(p.key, &api.QueryOptions{
				WaitIndex: lastIndex,
				WaitTime:  5 * time.Minute,
			})
			if err != nil {
				cb(nil, err)
				time.Sleep(5 * time.Second)
				continue
			}
			if meta == nil || meta.LastIndex == lastIndex {
				continue
			}
			initial := lastIndex == 0
			lastIndex = meta.LastIndex
			if initial || pair == nil {
				continue
			}
			cb(nil, nil)
		}
	}()
	return nil
}
