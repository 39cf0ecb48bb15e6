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

	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
	"github.com/kadirpekel/nestor/pkg/session"
)

// endHandler emits the closing message and terminates the session with
// the node's configured status. Non-terminal statuses coerce to
// completed so an end node can never leave the session runnable.
type endHandler struct{}

var _ Handler = (*endHandler)(nil)

func (h *endHandler) Kind() flow.Kind { return flow.KindEnd }

func (h *endHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.EndConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	status := session.Status(cfg.Status)
	if !status.Terminal() {
		status = session.StatusCompleted
	}

	res := &NodeResult{End: true, EndStatus: status}
	if cfg.Message != "" {
		res.Message = interp.Interpolate(cfg.Message, ec.Session.Variables)
	}
	if cfg.Summary != "" {
		res.Output = map[string]any{"summary": cfg.Summary}
	}
	return res
}
