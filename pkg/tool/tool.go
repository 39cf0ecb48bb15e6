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

// Package tool executes the external actions that tool_call nodes invoke.
//
// A flow declares its tools with a type that selects the executor serving
// them: "http" for outbound web requests, "mcp" for tools exposed by MCP
// servers, and "func" for in-process Go functions. The Service routes each
// call to the matching executor, bounds it with the node's timeout and
// records execution metrics.
package tool

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/registry"
)

// Executor types referenced by tool declarations.
const (
	TypeHTTP = "http"
	TypeMCP  = "mcp"
	TypeFunc = "func"
)

// Result is the outcome of one tool execution. Success false with a
// populated Error describes a tool-level failure the flow can branch on;
// transport and protocol problems surface as Go errors instead.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs every declared tool of one type.
type Executor interface {
	// Type returns the declaration type this executor serves.
	Type() string

	// Execute runs the declared tool with the given inputs.
	Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any) (*Result, error)

	// Close releases any connections the executor holds.
	Close() error
}

// Service routes tool calls to executors by declaration type.
type Service struct {
	executors *registry.BaseRegistry[Executor]
}

// NewService creates a service with the given executors registered.
func NewService(executors ...Executor) (*Service, error) {
	service := &Service{executors: registry.NewBaseRegistry[Executor]()}
	for _, executor := range executors {
		if err := service.Register(executor); err != nil {
			return nil, err
		}
	}
	return service, nil
}

// NewServiceFromConfig builds the standard executor set: http and func are
// always available, mcp only when servers are configured.
func NewServiceFromConfig(cfg config.ToolsConfig) (*Service, error) {
	executors := []Executor{
		NewHTTPExecutor(cfg.HTTP),
		NewFuncExecutor(),
	}
	if len(cfg.MCP) > 0 {
		executors = append(executors, NewMCPExecutor(cfg.MCP))
	}
	return NewService(executors...)
}

// Register adds an executor under its type.
func (s *Service) Register(executor Executor) error {
	if executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}
	return s.executors.Register(executor.Type(), executor)
}

// Executor returns the executor registered for a type.
func (s *Service) Executor(executorType string) (Executor, bool) {
	return s.executors.Get(executorType)
}

// Execute runs a declared tool. A positive timeout bounds the call; zero
// leaves the caller's context deadline in charge.
func (s *Service) Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any, timeout time.Duration) (*Result, error) {
	if decl == nil {
		return nil, fmt.Errorf("tool declaration cannot be nil")
	}
	executor, ok := s.executors.Get(decl.Type)
	if !ok {
		return nil, fmt.Errorf("no executor registered for tool type '%s'", decl.Type)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tracer := observability.GetTracer("nestor/tool")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecute, trace.WithAttributes(
		attribute.String(observability.AttrToolID, decl.ID),
		attribute.String("tool.type", decl.Type),
	))
	defer span.End()

	started := time.Now()
	result, err := executor.Execute(ctx, decl, inputs)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolExecution(ctx, decl.ID, time.Since(started), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	return result, nil
}

// Close closes every registered executor.
func (s *Service) Close() error {
	var firstErr error
	for _, name := range s.executors.Names() {
		executor, ok := s.executors.Get(name)
		if !ok {
			continue
		}
		if err := executor.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing executor '%s': %w", name, err)
		}
	}
	return firstErr
}
