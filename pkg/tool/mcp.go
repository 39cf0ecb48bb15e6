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

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
)

// MCPExecutor serves tool declarations of type "mcp" by proxying calls to
// configured MCP servers over stdio. Declarations name the server and the
// remote tool in their config:
//
//	{"server": "crm", "tool": "lookup_customer"}
//
// When "tool" is omitted the declaration id doubles as the remote name.
// Servers are spawned lazily on first use and kept alive until Close.
type MCPExecutor struct {
	servers map[string]*config.MCPServerConfig

	mu      sync.Mutex
	clients map[string]*client.Client
}

var _ Executor = (*MCPExecutor)(nil)

// NewMCPExecutor creates an executor over the configured servers.
func NewMCPExecutor(servers map[string]*config.MCPServerConfig) *MCPExecutor {
	return &MCPExecutor{
		servers: servers,
		clients: make(map[string]*client.Client),
	}
}

func (e *MCPExecutor) Type() string { return TypeMCP }

func (e *MCPExecutor) Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any) (*Result, error) {
	serverName, _ := decl.Config["server"].(string)
	if serverName == "" {
		return nil, fmt.Errorf("tool '%s' names no mcp server", decl.ID)
	}

	toolName, _ := decl.Config["tool"].(string)
	if toolName == "" {
		toolName = decl.ID
	}

	mcpClient, err := e.connect(ctx, serverName)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = inputs

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call '%s' on server '%s' failed: %w", toolName, serverName, err)
	}

	return parseCallResult(resp), nil
}

// connect returns the live client for a server, spawning it on first use.
func (e *MCPExecutor) connect(ctx context.Context, serverName string) (*client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.clients[serverName]; ok {
		return existing, nil
	}

	cfg, ok := e.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("mcp server '%s' is not configured", serverName)
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp client for '%s': %w", serverName, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start mcp server '%s': %w", serverName, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "nestor",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize mcp server '%s': %w", serverName, err)
	}

	e.clients[serverName] = mcpClient
	return mcpClient, nil
}

// Close shuts down every spawned server.
func (e *MCPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, mcpClient := range e.clients {
		if err := mcpClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing mcp server '%s': %w", name, err)
		}
		delete(e.clients, name)
	}
	return firstErr
}

// parseCallResult maps an MCP tool result onto ours. A single text block
// that parses as JSON becomes structured output so flows can resolve into
// it; otherwise text passes through as-is.
func parseCallResult(resp *mcp.CallToolResult) *Result {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	if resp.IsError {
		message := "unknown error"
		if len(texts) > 0 {
			message = texts[0]
		}
		return &Result{Success: false, Error: message}
	}

	switch len(texts) {
	case 0:
		return &Result{Success: true}
	case 1:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(texts[0]), &decoded); err == nil {
			return &Result{Success: true, Output: decoded}
		}
		return &Result{Success: true, Output: texts[0]}
	default:
		return &Result{Success: true, Output: texts}
	}
}

func envList(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
