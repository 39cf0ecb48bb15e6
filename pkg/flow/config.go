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

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// StartConfig configures a start node.
type StartConfig struct {
	WelcomeMessage string         `json:"welcomeMessage,omitempty"`
	InitVariables  map[string]any `json:"initVariables,omitempty"`
}

// MessageConfig configures a message node. Delay is milliseconds to wait
// before emitting, used by channels that simulate typing.
type MessageConfig struct {
	Message string `json:"message"`
	Delay   int64  `json:"delay,omitempty"`
}

// CollectInputConfig configures a collect_input node.
type CollectInputConfig struct {
	Prompt       string        `json:"prompt,omitempty"`
	VariableName string        `json:"variableName"`
	Validation   *Validation   `json:"validation,omitempty"`
	Retry        *RetryPolicy  `json:"retry,omitempty"`
	Timeout      *InputTimeout `json:"timeout,omitempty"`
}

// Validation constrains collected input. Type selects the check; the other
// fields refine it.
type Validation struct {
	Type         string   `json:"type"`
	Pattern      string   `json:"pattern,omitempty"`
	MinLength    *int     `json:"minLength,omitempty"`
	MaxLength    *int     `json:"maxLength,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// Validation types.
const (
	ValidateText   = "text"
	ValidateNumber = "number"
	ValidateEmail  = "email"
	ValidatePhone  = "phone"
	ValidateRegex  = "regex"
	ValidateDate   = "date"
	ValidateCustom = "custom"
)

// RetryPolicy bounds collect_input retries.
type RetryPolicy struct {
	MaxAttempts  int    `json:"maxAttempts"`
	RetryMessage string `json:"retryMessage,omitempty"`
}

// InputTimeout is enforced by the channel adapter between prompt and reply,
// not by the engine itself.
type InputTimeout struct {
	Seconds       int    `json:"seconds"`
	TimeoutNodeID string `json:"timeoutNodeId,omitempty"`
}

// RouterConfig configures an llm_router node.
type RouterConfig struct {
	SystemPrompt        string    `json:"systemPrompt,omitempty"`
	Intents             []Intent  `json:"intents"`
	ConfidenceThreshold *float64  `json:"confidenceThreshold,omitempty"`
	FallbackIntent      string    `json:"fallbackIntent,omitempty"`
	Model               *ModelRef `json:"model,omitempty"`
}

// DefaultConfidenceThreshold applies when a router omits its own.
const DefaultConfidenceThreshold = 0.5

// Threshold returns the configured confidence threshold or the default.
func (c *RouterConfig) Threshold() float64 {
	if c.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *c.ConfidenceThreshold
}

// IntentByName returns the intent with the given name.
func (c *RouterConfig) IntentByName(name string) (*Intent, bool) {
	for i := range c.Intents {
		if c.Intents[i].Name == name {
			return &c.Intents[i], true
		}
	}
	return nil, false
}

// Intent is one classification target of an llm_router node.
type Intent struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Examples     []string `json:"examples,omitempty"`
	TargetNodeID string   `json:"targetNodeId"`
}

// ModelRef selects the classifier backing a router. Provider names a
// registered adapter ("openai", "anthropic", "gemini", "ollama", "rules").
type ModelRef struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// KnowledgeSearchConfig configures a knowledge_search node.
type KnowledgeSearchConfig struct {
	KnowledgeBaseID string   `json:"knowledgeBaseId"`
	Query           string   `json:"query"`
	TopK            *int     `json:"topK,omitempty"`
	MinScore        *float64 `json:"minScore,omitempty"`
	GroundedOnly    bool     `json:"groundedOnly,omitempty"`
	ResultVariable  string   `json:"resultVariable,omitempty"`
}

// Knowledge search defaults.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.5
)

// EffectiveTopK returns topK or its default.
func (c *KnowledgeSearchConfig) EffectiveTopK() int {
	if c.TopK == nil {
		return DefaultTopK
	}
	return *c.TopK
}

// EffectiveMinScore returns minScore or its default.
func (c *KnowledgeSearchConfig) EffectiveMinScore() float64 {
	if c.MinScore == nil {
		return DefaultMinScore
	}
	return *c.MinScore
}

// ToolCallConfig configures a tool_call node. Timeout is seconds; zero means
// the runtime default applies.
type ToolCallConfig struct {
	ToolID         string         `json:"toolId"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Timeout        float64        `json:"timeout,omitempty"`
	ResultVariable string         `json:"resultVariable,omitempty"`
	OnError        *OnError       `json:"onError,omitempty"`
	Retry          *ToolRetry     `json:"retry,omitempty"`
}

// OnError selects the recovery policy when a tool call fails.
type OnError struct {
	Action       string `json:"action"`
	TargetNodeID string `json:"targetNodeId,omitempty"`
}

// OnError actions.
const (
	OnErrorContinue = "continue"
	OnErrorGoto     = "goto"
	OnErrorEscalate = "escalate"
	OnErrorRetry    = "retry"
)

// ToolRetry controls the retry onError action.
type ToolRetry struct {
	MaxAttempts int   `json:"maxAttempts,omitempty"`
	BackoffMs   int64 `json:"backoffMs,omitempty"`
}

// ConditionConfig configures a condition node. Conditions are evaluated in
// declared order; the first match wins.
type ConditionConfig struct {
	Conditions    []Condition `json:"conditions"`
	DefaultNodeID string      `json:"defaultNodeId,omitempty"`
}

// Condition is one branch of a condition node. Variable may be a dotted
// path into session variables.
type Condition struct {
	ID           string `json:"id,omitempty"`
	Variable     string `json:"variable"`
	Operator     string `json:"operator"`
	Value        any    `json:"value,omitempty"`
	TargetNodeID string `json:"targetNodeId"`
}

// EscalateConfig configures an escalate node. Context values are resolved
// against session variables before hand-off: a value naming a variable path
// is replaced by that variable, anything else is treated as a template.
type EscalateConfig struct {
	HandoffMessage string            `json:"handoffMessage,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Queue          string            `json:"queue,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
}

// EndConfig configures an end node. Status is the terminal session status;
// empty means completed. Summary is free-form authoring text recorded in
// the step output.
type EndConfig struct {
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// DecodeConfig decodes a node's raw config map into its kind-specific
// struct. Input is weakly typed so hand-written YAML flows decode the same
// way builder-exported JSON does.
func DecodeConfig[T any](node *Node) (*T, error) {
	var cfg T
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(node.Config); err != nil {
		return nil, fmt.Errorf("node %s: failed to decode config: %w", node.ID, err)
	}
	return &cfg, nil
}
