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
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const delim = "."

// LoaderOptions selects where configuration is read from.
type LoaderOptions struct {
	// Type is "file", "consul", "etcd" or "zookeeper". Defaults to
	// "file".
	Type string

	// Path is the config file path, or the key/znode path for remote
	// sources.
	Path string

	// Endpoints are the remote store addresses.
	Endpoints []string

	// Watch reloads the config when the source changes.
	Watch bool

	// OnChange receives the reloaded config. Reloads that fail to
	// parse or validate are logged and dropped.
	OnChange func(*Config)
}

// watcher is the optional change-notification side of a provider. The
// file provider implements it via fsnotify; the remote providers via
// their stores' native watch primitives.
type watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

// Load reads, expands and validates a YAML config file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(LoaderOptions{Type: FlowSourceFile, Path: path})
}

// LoadWithOptions reads configuration from the given source and
// optionally keeps watching it.
func LoadWithOptions(opts LoaderOptions) (*Config, error) {
	if opts.Type == "" {
		opts.Type = FlowSourceFile
	}

	provider, parser, err := newProvider(opts)
	if err != nil {
		return nil, err
	}

	cfg, err := loadFrom(provider, parser)
	if err != nil {
		return nil, err
	}

	if opts.Watch {
		w, ok := provider.(watcher)
		if !ok {
			slog.Warn("Config source does not support watching", "type", opts.Type)
			return cfg, nil
		}
		err := w.Watch(func(event interface{}, err error) {
			if err != nil {
				slog.Error("Config watch error", "error", err)
				return
			}
			reloaded, err := loadFrom(provider, parser)
			if err != nil {
				slog.Error("Config reload failed, keeping previous config", "error", err)
				return
			}
			slog.Info("Config reloaded", "source", opts.Type)
			if opts.OnChange != nil {
				opts.OnChange(reloaded)
			}
		})
		if err != nil {
			slog.Warn("Failed to start config watch", "error", err)
		}
	}

	return cfg, nil
}

func newProvider(opts LoaderOptions) (koanf.Provider, koanf.Parser, error) {
	switch opts.Type {
	case FlowSourceFile:
		if opts.Path == "" {
			return nil, nil, fmt.Errorf("file config source requires a path")
		}
		return file.Provider(opts.Path), yaml.Parser(), nil

	case FlowSourceConsul:
		if len(opts.Endpoints) == 0 || opts.Path == "" {
			return nil, nil, fmt.Errorf("consul config source requires endpoints and a key path")
		}
		p, err := newConsulProvider(opts.Endpoints[0], opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return p, yaml.Parser(), nil

	case FlowSourceEtcd:
		if len(opts.Endpoints) == 0 || opts.Path == "" {
			return nil, nil, fmt.Errorf("etcd config source requires endpoints and a key path")
		}
		p, err := newEtcdProvider(opts.Endpoints, opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return p, yaml.Parser(), nil

	case FlowSourceZookeeper:
		if len(opts.Endpoints) == 0 || opts.Path == "" {
			return nil, nil, fmt.Errorf("zookeeper config source requires endpoints and a znode path")
		}
		p, err := newZookeeperProvider(opts.Endpoints, opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return p, yaml.Parser(), nil

	default:
		return nil, nil, fmt.Errorf("unknown config source type '%s'", opts.Type)
	}
}

func loadFrom(provider koanf.Provider, parser koanf.Parser) (*Config, error) {
	k := koanf.New(delim)
	if err := k.Load(provider, parser); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	k, err := expandEnvVarsInKoanf(k)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// expandEnvVarsInKoanf rebuilds the koanf tree with every string value
// passed through environment variable expansion.
func expandEnvVarsInKoanf(k *koanf.Koanf) (*koanf.Koanf, error) {
	expanded, ok := expandValue(k.Raw()).(map[string]interface{})
	if !ok {
		return k, nil
	}
	nk := koanf.New(delim)
	if err := nk.Load(confmap.Provider(expanded, delim), nil); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}
	return nk, nil
}

func expandValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return ExpandEnvVars(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for key, val := range t {
			out[key] = expandValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = expandValue(val)
		}
		return out
	default:
		return v
	}
}
