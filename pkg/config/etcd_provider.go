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
	"context"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdProvider reads one YAML document from an etcd key and watches it
// through the native watch stream.
type etcdProvider struct {
	client *clientv3.Client
	key    string
}

var _ koanf.Provider = (*etcdProvider)(nil)

func newEtcdProvider(endpoints []string, key string) (*etcdProvider, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &etcdProvider{client: client, key: key}, nil
}

func (p *etcdProvider) ReadBytes() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key '%s': %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key '%s' not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

func (p *etcdProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("etcd provider does not support this method")
}

func (p *etcdProvider) Watch(cb func(event interface{}, err error)) error {
	go func() {
		ch := p.client.Watch(context.Background(), p.key)
		for resp := range ch {
			if err := resp.Err(); err != nil {
				cb(nil, err)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					cb(nil, nil)
				}
			}
		}
	}()
	return nil
}
