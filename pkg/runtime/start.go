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
)

// startHandler emits the welcome message and seeds initVariables. The
// engine already merges initVariables when it creates the session;
// re-applying them here keeps the node idempotent when a flow loops
// back to its entry.
type startHandler struct{}

var _ Handler = (*startHandler)(nil)

func (h *startHandler) Kind() flow.Kind { return flow.KindStart }

func (h *startHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.StartConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	res := &NodeResult{}
	if cfg.WelcomeMessage != "" {
		res.Message = interp.Interpolate(cfg.WelcomeMessage, ec.Session.Variables)
	}
	if len(cfg.InitVariables) > 0 {
		res.Variables = cfg.InitVariables
	}
	return res
}
