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
)

// ToolsConfig configures the executors behind tool-call nodes.
type ToolsConfig struct {
	// HTTP configures the built-in HTTP request executor.
	HTTP *HTTPToolConfig `yaml:"http,omitempty" json:"http,omitempty"`

	// MCP declares external MCP servers whose tools become callable
	// from flows, keyed by server name.
	MCP map[string]*MCPServerConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// HTTPToolConfig restricts what the HTTP tool executor may reach.
type HTTPToolConfig struct {
	// AllowedDomains whitelists hosts ("api.example.com" or
	// "*.example.com"). Empty allows any host not denied.
	AllowedDomains []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`

	// DeniedDomains blacklists hosts and wins over the allow list.
	DeniedDomains []string `yaml:"denied_domains,omitempty" json:"denied_domains,omitempty"`

	// AllowedMethods whitelists HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`

	// MaxResponseBytes caps the body read from a response.
	MaxResponseBytes int64 `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MCPServerConfig launches one MCP server over stdio.
type MCPServerConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

func (c *ToolsConfig) SetDefaults() {
	if c.HTTP == nil {
		c.HTTP = &HTTPToolConfig{}
	}
	c.HTTP.SetDefaults()
}

func (c *ToolsConfig) Validate() error {
	if c.HTTP != nil {
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}
	for name, srv := range c.MCP {
		if srv == nil || srv.Command == "" {
			return fmt.Errorf("mcp server '%s' requires a command", name)
		}
	}
	return nil
}

func (c *HTTPToolConfig) SetDefaults() {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST"}
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 1 << 20
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *HTTPToolConfig) Validate() error {
	if c.MaxResponseBytes < 0 {
		return fmt.Errorf("max_response_bytes must not be negative")
	}
	return nil
}
