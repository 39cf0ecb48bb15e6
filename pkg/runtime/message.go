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
)

// messageHandler emits one interpolated message. A configured delay is
// slept before emitting so channel adapters can simulate typing.
type messageHandler struct{}

var _ Handler = (*messageHandler)(nil)

func (h *messageHandler) Kind() flow.Kind { return flow.KindMessage }

func (h *messageHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.MessageConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	if cfg.Delay > 0 {
		timer := time.NewTimer(time.Duration(cfg.Delay) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &NodeResult{Err: errf(CodeExecutionError, "message delay interrupted: %v", ctx.Err())}
		}
	}

	return &NodeResult{Message: interp.Interpolate(cfg.Message, ec.Session.Variables)}
}
