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
	"fmt"
	"sync"

	"github.com/kadirpekel/nestor/pkg/flow"
)

// Func is an in-process tool implementation. Returning an error marks the
// call as a tool-level failure that onError policies can handle; it does
// not abort the session.
type Func func(ctx context.Context, inputs map[string]any) (any, error)

// FuncExecutor serves tool declarations of type "func" from a registry of
// Go functions keyed by tool id. Embedders register their functions before
// the engine starts taking traffic.
type FuncExecutor struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

var _ Executor = (*FuncExecutor)(nil)

// NewFuncExecutor creates an empty function executor.
func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{funcs: make(map[string]Func)}
}

func (e *FuncExecutor) Type() string { return TypeFunc }

// RegisterFunc binds a function to a tool id, replacing any previous one.
func (e *FuncExecutor) RegisterFunc(toolID string, fn Func) error {
	if toolID == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function for tool '%s' cannot be nil", toolID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[toolID] = fn
	return nil
}

func (e *FuncExecutor) Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any) (*Result, error) {
	e.mu.RLock()
	fn, ok := e.funcs[decl.ID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no function registered for tool '%s'", decl.ID)
	}

	output, err := fn(ctx, inputs)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Output: output}, nil
}

func (e *FuncExecutor) Close() error { return nil }
