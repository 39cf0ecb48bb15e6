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

// Package flow defines conversational flow graphs: typed nodes, edges,
// variable and tool declarations, and the wire format produced by flow
// builders. Flows are immutable once loaded; the runtime only reads them.
package flow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// WireVersion is the only flow definition version this runtime accepts.
const WireVersion = "1.0"

// Kind discriminates node semantics. The set is closed.
type Kind string

const (
	KindStart           Kind = "start"
	KindMessage         Kind = "message"
	KindCollectInput    Kind = "collect_input"
	KindLLMRouter       Kind = "llm_router"
	KindKnowledgeSearch Kind = "knowledge_search"
	KindToolCall        Kind = "tool_call"
	KindCondition       Kind = "condition"
	KindEscalate        Kind = "escalate"
	KindEnd             Kind = "end"
)

// Kinds lists every supported node kind.
func Kinds() []Kind {
	return []Kind{
		KindStart, KindMessage, KindCollectInput, KindLLMRouter,
		KindKnowledgeSearch, KindToolCall, KindCondition, KindEscalate, KindEnd,
	}
}

// Flow is a declarative conversational graph.
type Flow struct {
	Version     string     `json:"version" yaml:"version"`
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	EntryNode   string     `json:"entryNode" yaml:"entryNode"`
	Nodes       []Node     `json:"nodes" yaml:"nodes"`
	Edges       []Edge     `json:"edges" yaml:"edges"`
	Variables   []Variable `json:"variables,omitempty" yaml:"variables,omitempty"`
	Tools       []Tool     `json:"tools,omitempty" yaml:"tools,omitempty"`
	Metadata    *Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// nodesByID and edgesBySource are built once at parse time; the graph is
	// read-only afterwards.
	nodesByID     map[string]*Node
	edgesBySource map[string][]*Edge
}

// Node is one step of a flow. Type selects the semantics; Config carries the
// kind-specific settings and is decoded on demand (see config.go).
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     Kind           `json:"type" yaml:"type"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Position is builder-canvas placement. The runtime carries it through
// untouched so round-tripped flows stay loadable by the editor.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Condition    string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// VariableType constrains declared flow variables.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableObject  VariableType = "object"
	VariableArray   VariableType = "array"
)

// Variable declares a session variable with an optional default.
type Variable struct {
	Name         string       `json:"name" yaml:"name"`
	Type         VariableType `json:"type" yaml:"type"`
	DefaultValue any          `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Persistent   bool         `json:"persistent,omitempty" yaml:"persistent,omitempty"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// Tool declares an external tool referenced by tool_call nodes via toolId.
// Type selects the executor ("http", "mcp", "func") and Config carries its
// executor-specific settings.
type Tool struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string         `json:"type" yaml:"type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Metadata is authoring metadata carried through verbatim.
type Metadata struct {
	CreatedAt string   `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	CreatedBy string   `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Channel   string   `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// Parse decodes a flow definition from JSON (the builder wire format) or
// YAML, verifies the version, and indexes the graph for id lookups.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(data, &f); err != nil {
		if yamlErr := yaml.Unmarshal(data, &f); yamlErr != nil {
			return nil, fmt.Errorf("failed to parse flow as JSON or YAML: %w", err)
		}
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseAll decodes a document holding either a single flow or a list of
// flows ({"flows": [...]} or a bare YAML/JSON array).
func ParseAll(data []byte) ([]*Flow, error) {
	var wrapper struct {
		Flows []json.RawMessage `json:"flows" yaml:"flows"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Flows) > 0 {
		flows := make([]*Flow, 0, len(wrapper.Flows))
		for _, raw := range wrapper.Flows {
			f, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			flows = append(flows, f)
		}
		return flows, nil
	}

	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return []*Flow{f}, nil
}

func (f *Flow) init() error {
	if f.Version != WireVersion {
		return fmt.Errorf("unsupported flow version %q (want %q)", f.Version, WireVersion)
	}
	if f.ID == "" {
		return fmt.Errorf("flow id is required")
	}

	f.nodesByID = make(map[string]*Node, len(f.Nodes))
	for i := range f.Nodes {
		node := &f.Nodes[i]
		if _, dup := f.nodesByID[node.ID]; dup {
			return fmt.Errorf("flow %s: duplicate node id %q", f.ID, node.ID)
		}
		f.nodesByID[node.ID] = node
	}

	f.edgesBySource = make(map[string][]*Edge)
	seenEdges := make(map[string]bool, len(f.Edges))
	for i := range f.Edges {
		edge := &f.Edges[i]
		if edge.ID != "" {
			if seenEdges[edge.ID] {
				return fmt.Errorf("flow %s: duplicate edge id %q", f.ID, edge.ID)
			}
			seenEdges[edge.ID] = true
		}
		f.edgesBySource[edge.Source] = append(f.edgesBySource[edge.Source], edge)
	}

	return nil
}

// NodeByID returns the node with the given id.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	node, ok := f.nodesByID[id]
	return node, ok
}

// OutgoingEdges returns the edges leaving a node, in declaration order.
func (f *Flow) OutgoingEdges(nodeID string) []*Edge {
	return f.edgesBySource[nodeID]
}

// ToolByID returns the tool declaration referenced by a tool_call node.
func (f *Flow) ToolByID(id string) (*Tool, bool) {
	for i := range f.Tools {
		if f.Tools[i].ID == id {
			return &f.Tools[i], true
		}
	}
	return nil, false
}

// DefaultVariables builds the initial variable set from declarations.
// Only variables with a declared default are materialised.
func (f *Flow) DefaultVariables() map[string]any {
	vars := make(map[string]any)
	for _, v := range f.Variables {
		if v.DefaultValue != nil {
			vars[v.Name] = v.DefaultValue
		}
	}
	return vars
}
