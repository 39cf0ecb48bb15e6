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

// Package source defines where flow definitions come from.
//
// Sources load raw flow documents (file, consul, etcd, zookeeper) and
// support watching for changes so running servers can hot-reload flows.
package source

import (
	"context"
	"fmt"
)

// Type identifies the flow source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown source type: %s", s)
	}
}

// Source abstracts flow definition storage.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Type returns the source type for logging/debugging.
	Type() Type

	// Load reads raw flow documents from the source. Each document holds a
	// single flow or a flows bundle.
	Load(ctx context.Context) ([][]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// The channel receives a value when any document changes.
	// Cancel the context to stop watching.
	// Returns nil channel if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the source.
	Close() error
}

// Config configures source creation.
type Config struct {
	// Type specifies the source type (file, consul, etcd, zookeeper).
	Type Type

	// Path is the flow location (file or directory path, or key path).
	Path string

	// Endpoints for remote sources (consul, etcd, zookeeper).
	Endpoints []string
}

// New creates a Source based on Config.
func New(cfg Config) (Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("flow source path is required")
	}

	switch cfg.Type {
	case TypeFile, "":
		return NewFileSource(cfg.Path)
	case TypeConsul:
		return NewConsulSource(cfg.Endpoints, cfg.Path)
	case TypeEtcd:
		return NewEtcdSource(cfg.Endpoints, cfg.Path)
	case TypeZookeeper:
		return NewZookeeperSource(cfg.Endpoints, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
