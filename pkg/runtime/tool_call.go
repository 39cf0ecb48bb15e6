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

package runtime

import (
	"context"
	"time"

	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
	"github.com/kadirpekel/nestor/pkg/tool"
)

// toolCallHandler executes a declared tool with interpolated inputs and
// applies the node's onError policy when the call fails. Only the
// "retry" policy re-invokes the tool; the runtime never retries beyond
// the node's own configuration.
type toolCallHandler struct{}

var _ Handler = (*toolCallHandler)(nil)

func (h *toolCallHandler) Kind() flow.Kind { return flow.KindToolCall }

func (h *toolCallHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.ToolCallConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}
	if ec.Services.Tools == nil {
		return &NodeResult{Err: errf(CodeExecutionError, "node %s: no tool service configured", ec.Node.ID)}
	}

	decl, ok := ec.Flow.ToolByID(cfg.ToolID)
	if !ok {
		return &NodeResult{Err: withDetails(
			errf(CodeToolCallError, "node %s: tool %q is not declared by flow %s", ec.Node.ID, cfg.ToolID, ec.Flow.ID),
			map[string]any{"toolId": cfg.ToolID},
		)}
	}

	inputs := interp.InterpolateMap(cfg.Inputs, ec.Session.Variables)

	timeout := time.Duration(cfg.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = ec.DefaultToolTimeout
	}

	attempts := 1
	var backoff time.Duration
	if cfg.OnError != nil && cfg.OnError.Action == flow.OnErrorRetry {
		extra := 1
		if cfg.Retry != nil && cfg.Retry.MaxAttempts > 0 {
			extra = cfg.Retry.MaxAttempts
		}
		attempts += extra
		if cfg.Retry != nil && cfg.Retry.BackoffMs > 0 {
			backoff = time.Duration(cfg.Retry.BackoffMs) * time.Millisecond
		}
	}

	var result *tool.Result
	var execErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return &NodeResult{Err: errf(CodeExecutionError, "tool retry interrupted: %v", ctx.Err())}
			}
			timer.Stop()
		}

		result, execErr = ec.Services.Tools.Execute(ctx, decl, inputs, timeout)
		if execErr == nil && result != nil && result.Success {
			break
		}
	}

	if execErr == nil && result != nil && result.Success {
		res := &NodeResult{Output: result.Output}
		if cfg.ResultVariable != "" {
			res.Variables = map[string]any{cfg.ResultVariable: result.Output}
		}
		return res
	}

	errMessage := "tool execution failed"
	switch {
	case execErr != nil:
		errMessage = execErr.Error()
	case result != nil && result.Error != "":
		errMessage = result.Error
	}

	if cfg.OnError != nil {
		switch cfg.OnError.Action {
		case flow.OnErrorContinue:
			failure := map[string]any{"error": errMessage, "success": false}
			res := &NodeResult{Output: failure}
			if cfg.ResultVariable != "" {
				res.Variables = map[string]any{cfg.ResultVariable: failure}
			}
			return res
		case flow.OnErrorGoto:
			return &NodeResult{
				Output:     map[string]any{"error": errMessage},
				NextNodeID: cfg.OnError.TargetNodeID,
			}
		case flow.OnErrorEscalate:
			// Authors wire the outgoing edge to an escalate node; the
			// failure rides along in the output.
			return &NodeResult{Output: map[string]any{"error": errMessage}}
		}
	}

	return &NodeResult{Err: withDetails(
		errf(CodeToolCallFailed, "node %s: tool %q failed: %s", ec.Node.ID, cfg.ToolID, errMessage),
		map[string]any{"toolId": cfg.ToolID, "attempts": attempts},
	)}
}
