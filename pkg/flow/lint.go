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

package flow

import "fmt"

// Severity grades lint findings. Errors will fail at run time; warnings are
// suspicious but runnable.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one lint finding.
type Issue struct {
	Severity Severity `json:"severity"`
	NodeID   string   `json:"nodeId,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", i.Severity, i.NodeID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// Lint statically checks a parsed flow. It never mutates the flow. The
// engine does not lint; run-time failures carry their own error codes.
func Lint(f *Flow) []Issue {
	var issues []Issue
	errf := func(nodeID, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(nodeID, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}

	if f.EntryNode == "" {
		errf("", "entryNode is required")
	} else if _, ok := f.NodeByID(f.EntryNode); !ok {
		errf("", "entryNode %q does not exist", f.EntryNode)
	}

	for _, edge := range f.Edges {
		if _, ok := f.NodeByID(edge.Source); !ok {
			errf("", "edge %s: source %q does not exist", edge.ID, edge.Source)
		}
		if _, ok := f.NodeByID(edge.Target); !ok {
			errf("", "edge %s: target %q does not exist", edge.ID, edge.Target)
		}
	}

	known := make(map[Kind]bool, len(Kinds()))
	for _, k := range Kinds() {
		known[k] = true
	}

	for i := range f.Nodes {
		node := &f.Nodes[i]
		if !known[node.Type] {
			errf(node.ID, "unknown node type %q", node.Type)
			continue
		}
		lintNode(f, node, errf, warnf)

		terminal := node.Type == KindEnd || node.Type == KindEscalate
		if !terminal && len(f.OutgoingEdges(node.ID)) == 0 {
			warnf(node.ID, "%s node has no outgoing edge; the session will complete here", node.Type)
		}
	}

	for _, id := range unreachableNodes(f) {
		warnf(id, "node is unreachable from entryNode")
	}

	return issues
}

func lintNode(f *Flow, node *Node, errf, warnf func(string, string, ...any)) {
	checkTarget := func(target, what string) {
		if target == "" {
			return
		}
		if _, ok := f.NodeByID(target); !ok {
			errf(node.ID, "%s %q does not exist", what, target)
		}
	}

	switch node.Type {
	case KindMessage:
		cfg, err := DecodeConfig[MessageConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if cfg.Message == "" {
			warnf(node.ID, "message node has empty message")
		}

	case KindCollectInput:
		cfg, err := DecodeConfig[CollectInputConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if cfg.VariableName == "" {
			errf(node.ID, "collect_input requires variableName")
		}
		if cfg.Retry != nil && cfg.Retry.MaxAttempts <= 0 {
			errf(node.ID, "retry.maxAttempts must be positive")
		}

	case KindLLMRouter:
		cfg, err := DecodeConfig[RouterConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if len(cfg.Intents) == 0 {
			errf(node.ID, "llm_router requires at least one intent")
		}
		for _, intent := range cfg.Intents {
			if intent.Name == "" {
				errf(node.ID, "intent with empty name")
			}
			checkTarget(intent.TargetNodeID, fmt.Sprintf("intent %q target", intent.Name))
		}
		if cfg.FallbackIntent != "" {
			if _, ok := cfg.IntentByName(cfg.FallbackIntent); !ok {
				errf(node.ID, "fallbackIntent %q is not a declared intent", cfg.FallbackIntent)
			}
		}

	case KindKnowledgeSearch:
		cfg, err := DecodeConfig[KnowledgeSearchConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if cfg.Query == "" {
			errf(node.ID, "knowledge_search requires query")
		}

	case KindToolCall:
		cfg, err := DecodeConfig[ToolCallConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if cfg.ToolID == "" {
			errf(node.ID, "tool_call requires toolId")
		} else if _, ok := f.ToolByID(cfg.ToolID); !ok {
			warnf(node.ID, "toolId %q is not declared in the flow; it must be registered with the runtime", cfg.ToolID)
		}
		if cfg.OnError != nil {
			switch cfg.OnError.Action {
			case OnErrorContinue, OnErrorEscalate, OnErrorRetry:
			case OnErrorGoto:
				if cfg.OnError.TargetNodeID == "" {
					errf(node.ID, "onError.action goto requires targetNodeId")
				}
				checkTarget(cfg.OnError.TargetNodeID, "onError target")
			default:
				errf(node.ID, "unknown onError.action %q", cfg.OnError.Action)
			}
		}

	case KindCondition:
		cfg, err := DecodeConfig[ConditionConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		if len(cfg.Conditions) == 0 {
			warnf(node.ID, "condition node has no conditions")
		}
		for _, cond := range cfg.Conditions {
			if cond.Variable == "" {
				errf(node.ID, "condition with empty variable")
			}
			checkTarget(cond.TargetNodeID, "condition target")
		}
		checkTarget(cfg.DefaultNodeID, "defaultNodeId")
		if cfg.DefaultNodeID == "" && len(f.OutgoingEdges(node.ID)) != 1 {
			warnf(node.ID, "condition without defaultNodeId should have exactly one outgoing edge")
		}

	case KindEnd:
		cfg, err := DecodeConfig[EndConfig](node)
		if err != nil {
			errf(node.ID, "%v", err)
			return
		}
		switch cfg.Status {
		case "", "completed", "escalated", "abandoned", "error", "timeout":
		default:
			errf(node.ID, "invalid end status %q", cfg.Status)
		}

	case KindStart, KindEscalate:
		if _, err := DecodeConfig[map[string]any](node); err != nil {
			errf(node.ID, "%v", err)
		}
	}
}

// unreachableNodes walks edges plus config-level jump targets from the entry
// node and reports everything not visited.
func unreachableNodes(f *Flow) []string {
	if _, ok := f.NodeByID(f.EntryNode); !ok {
		return nil
	}
	visited := make(map[string]bool, len(f.Nodes))
	stack := []string{f.EntryNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, edge := range f.OutgoingEdges(id) {
			stack = append(stack, edge.Target)
		}
		node, ok := f.NodeByID(id)
		if !ok {
			continue
		}
		stack = append(stack, jumpTargets(node)...)
	}

	var unreachable []string
	for i := range f.Nodes {
		if !visited[f.Nodes[i].ID] {
			unreachable = append(unreachable, f.Nodes[i].ID)
		}
	}
	return unreachable
}

// jumpTargets extracts node ids a handler can route to without an edge.
func jumpTargets(node *Node) []string {
	var targets []string
	switch node.Type {
	case KindLLMRouter:
		if cfg, err := DecodeConfig[RouterConfig](node); err == nil {
			for _, intent := range cfg.Intents {
				if intent.TargetNodeID != "" {
					targets = append(targets, intent.TargetNodeID)
				}
			}
		}
	case KindCondition:
		if cfg, err := DecodeConfig[ConditionConfig](node); err == nil {
			for _, cond := range cfg.Conditions {
				if cond.TargetNodeID != "" {
					targets = append(targets, cond.TargetNodeID)
				}
			}
			if cfg.DefaultNodeID != "" {
				targets = append(targets, cfg.DefaultNodeID)
			}
		}
	case KindToolCall:
		if cfg, err := DecodeConfig[ToolCallConfig](node); err == nil {
			if cfg.OnError != nil && cfg.OnError.TargetNodeID != "" {
				targets = append(targets, cfg.OnError.TargetNodeID)
			}
		}
	}
	return targets
}
