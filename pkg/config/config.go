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

// Package config defines the runtime configuration surface: where flow
// definitions come from, how sessions are persisted, which classifier
// and knowledge providers are available, and the usual server, logging
// and observability knobs. Configuration is YAML with environment
// variable expansion, loadable from a file or a remote store.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/kadirpekel/nestor/pkg/observability"
)

// ----------------------------------------------------------------------------
// Top-level configuration
// ----------------------------------------------------------------------------

// Config is the root configuration document.
type Config struct {
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Logger   LoggerConfig   `yaml:"logger,omitempty" json:"logger,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty" json:"server,omitempty"`
	Runtime  RuntimeConfig  `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Flows    FlowsConfig    `yaml:"flows,omitempty" json:"flows,omitempty"`
	Sessions SessionsConfig `yaml:"sessions,omitempty" json:"sessions,omitempty"`

	Databases   map[string]*DatabaseConfig      `yaml:"databases,omitempty" json:"databases,omitempty"`
	Classifiers map[string]*ClassifierConfig    `yaml:"classifiers,omitempty" json:"classifiers,omitempty"`
	Knowledge   map[string]*KnowledgeBaseConfig `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
	Tools       ToolsConfig                     `yaml:"tools,omitempty" json:"tools,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// Default returns a ready-to-use configuration with every default
// applied. It is what `nestor run` uses when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Runtime.SetDefaults()
	c.Flows.SetDefaults()
	c.Sessions.SetDefaults()

	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
	for _, cl := range c.Classifiers {
		if cl != nil {
			cl.SetDefaults()
		}
	}
	for name, kb := range c.Knowledge {
		if kb != nil {
			kb.SetDefaults(name)
		}
	}
	c.Tools.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole document. Call SetDefaults first.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}
	if err := c.Flows.Validate(); err != nil {
		return fmt.Errorf("flows config: %w", err)
	}
	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions config: %w", err)
	}
	if c.Sessions.IsSQL() {
		if _, ok := c.Databases[c.Sessions.Database]; !ok {
			return fmt.Errorf("sessions config: database '%s' is not defined", c.Sessions.Database)
		}
	}
	for name, db := range c.Databases {
		if db == nil {
			return fmt.Errorf("database '%s' is empty", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database '%s': %w", name, err)
		}
	}
	for name, cl := range c.Classifiers {
		if cl == nil {
			return fmt.Errorf("classifier '%s' is empty", name)
		}
		if err := cl.Validate(); err != nil {
			return fmt.Errorf("classifier '%s': %w", name, err)
		}
	}
	for name, kb := range c.Knowledge {
		if kb == nil {
			return fmt.Errorf("knowledge base '%s' is empty", name)
		}
		if err := kb.Validate(); err != nil {
			return fmt.Errorf("knowledge base '%s': %w", name, err)
		}
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools config: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}
	return nil
}

// ClassifierFor resolves the classifier config for a router node. A
// node may name a provider explicitly; otherwise the entry named
// "default" wins. Entries are scanned in name order so resolution is
// deterministic when several entries share a provider.
func (c *Config) ClassifierFor(provider string) *ClassifierConfig {
	if provider != "" {
		names := make([]string, 0, len(c.Classifiers))
		for name := range c.Classifiers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if cl := c.Classifiers[name]; cl != nil && cl.Provider == provider {
				return cl
			}
		}
	}
	if cl, ok := c.Classifiers["default"]; ok {
		return cl
	}
	return nil
}

// KnowledgeBase looks up a knowledge base by id.
func (c *Config) KnowledgeBase(id string) (*KnowledgeBaseConfig, bool) {
	kb, ok := c.Knowledge[id]
	return kb, ok
}

// SessionDatabase returns the database config backing SQL session
// storage, or nil when sessions are not SQL-backed.
func (c *Config) SessionDatabase() *DatabaseConfig {
	if !c.Sessions.IsSQL() {
		return nil
	}
	return c.Databases[c.Sessions.Database]
}

// ----------------------------------------------------------------------------
// Server
// ----------------------------------------------------------------------------

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port         int           `yaml:"port,omitempty" json:"port,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	IdleTimeout  time.Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout,omitempty"`

	// CORSAllowedOrigins lists origins allowed to call the API. "*"
	// allows any origin.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins,omitempty" json:"cors_allowed_origins,omitempty"`

	// SSEKeepAlive is the interval between keep-alive comments on the
	// session event stream.
	SSEKeepAlive time.Duration `yaml:"sse_keep_alive,omitempty" json:"sse_keep_alive,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		// The event stream holds the response open; the write timeout
		// applies per write, so keep it generous but bounded.
		c.WriteTimeout = 120 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	if c.SSEKeepAlive == 0 {
		c.SSEKeepAlive = 15 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address returns the host:port the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ----------------------------------------------------------------------------
// Runtime
// ----------------------------------------------------------------------------

// RuntimeConfig bounds flow execution. Explicit config wins over the
// MAX_STEPS and DEFAULT_TOOL_TIMEOUT_MS environment variables, which
// win over the built-in defaults.
type RuntimeConfig struct {
	// MaxSteps caps the number of nodes a single engine run may
	// execute before the session is failed.
	MaxSteps int `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`

	// DefaultToolTimeout applies to tool-call nodes that do not set
	// their own timeout.
	DefaultToolTimeout time.Duration `yaml:"default_tool_timeout,omitempty" json:"default_tool_timeout,omitempty"`
}

func (c *RuntimeConfig) SetDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = MaxStepsFromEnv()
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 100
	}
	if c.DefaultToolTimeout == 0 {
		c.DefaultToolTimeout = DefaultToolTimeoutFromEnv()
	}
	if c.DefaultToolTimeout == 0 {
		c.DefaultToolTimeout = 30 * time.Second
	}
}

func (c *RuntimeConfig) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.DefaultToolTimeout < 0 {
		return fmt.Errorf("default_tool_timeout must not be negative")
	}
	return nil
}

// ----------------------------------------------------------------------------
// Flows
// ----------------------------------------------------------------------------

// Flow source types.
const (
	FlowSourceFile      = "file"
	FlowSourceConsul    = "consul"
	FlowSourceEtcd      = "etcd"
	FlowSourceZookeeper = "zookeeper"
)

// FlowsConfig says where flow definitions are loaded from.
type FlowsConfig struct {
	// Type selects the source: "file", "consul", "etcd" or "zookeeper".
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=file,enum=consul,enum=etcd,enum=zookeeper"`

	// Path is a file or directory for the file source, or the key
	// prefix for remote sources.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Endpoints are the remote store addresses. Unused by the file
	// source.
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`

	// Watch reloads flows when the source changes. Defaults to true.
	Watch *bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

func (c *FlowsConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = FlowSourceFile
	}
	if c.Type == FlowSourceFile && c.Path == "" {
		c.Path = "./flows"
	}
	if c.Watch == nil {
		c.Watch = BoolPtr(true)
	}
}

func (c *FlowsConfig) Validate() error {
	switch c.Type {
	case FlowSourceFile:
		if c.Path == "" {
			return fmt.Errorf("file source requires a path")
		}
	case FlowSourceConsul, FlowSourceEtcd, FlowSourceZookeeper:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("%s source requires endpoints", c.Type)
		}
		if c.Path == "" {
			return fmt.Errorf("%s source requires a key prefix path", c.Type)
		}
	default:
		return fmt.Errorf("unknown flow source type '%s'", c.Type)
	}
	return nil
}

// WatchEnabled reports whether flow reloading is on.
func (c *FlowsConfig) WatchEnabled() bool {
	return BoolValue(c.Watch, true)
}

// ----------------------------------------------------------------------------
// Sessions
// ----------------------------------------------------------------------------

// Session backends.
const (
	SessionBackendMemory = "inmemory"
	SessionBackendSQL    = "sql"
	SessionBackendRedis  = "redis"
)

// SessionsConfig selects and configures session persistence.
type SessionsConfig struct {
	// Backend is "inmemory", "sql" or "redis".
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=inmemory,enum=sql,enum=redis"`

	// Database names an entry under databases: for the sql backend.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// Redis configures the redis backend.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig holds redis connection settings for session storage.
type RedisConfig struct {
	Addr     string        `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string        `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int           `yaml:"db,omitempty" json:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

func (c *SessionsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = SessionBackendMemory
	}
	if c.Backend == SessionBackendSQL && c.Database == "" {
		c.Database = "default"
	}
	if c.Backend == SessionBackendRedis {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		if c.Redis.Addr == "" {
			c.Redis.Addr = "localhost:6379"
		}
		if c.Redis.TTL == 0 {
			c.Redis.TTL = 24 * time.Hour
		}
	}
}

func (c *SessionsConfig) Validate() error {
	switch c.Backend {
	case SessionBackendMemory:
	case SessionBackendSQL:
		if c.Database == "" {
			return fmt.Errorf("sql backend requires a database reference")
		}
	case SessionBackendRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown session backend '%s'", c.Backend)
	}
	return nil
}

func (c *SessionsConfig) IsInMemory() bool {
	return c.Backend == SessionBackendMemory
}

func (c *SessionsConfig) IsSQL() bool {
	return c.Backend == SessionBackendSQL
}

func (c *SessionsConfig) IsRedis() bool {
	return c.Backend == SessionBackendRedis
}
