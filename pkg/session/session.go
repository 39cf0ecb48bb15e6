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

// Package session holds the mutable execution state of a conversation and
// the stores that persist it between turns.
//
// A session is owned by the engine while a single call runs and is written
// back as a full replacement on exit. Stores never mutate sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when no session exists for an id.
var ErrNotFound = errors.New("session not found")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive       Status = "active"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusEscalated    Status = "escalated"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
	// StatusAbandoned is only reachable through an end node configured with
	// it; the engine never sets it on its own.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further execution may occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusEscalated, StatusError, StatusTimeout, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Error is the structured error shape recorded in steps and surfaced by the
// runtime: an uppercase snake-case code, a human message, and optional
// details.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can test with errors.Is against a
// bare-code target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ExecutionStep is one handler invocation recorded in session history.
// Duration is integer milliseconds.
type ExecutionStep struct {
	StepID    string    `json:"stepId"`
	NodeID    string    `json:"nodeId"`
	NodeKind  string    `json:"nodeKind"`
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Duration  int64     `json:"duration"`
	Error     *Error    `json:"error,omitempty"`
}

// Session is the mutable execution state of one conversation against one
// flow. History is append-only; steps are never removed or rewritten.
type Session struct {
	ID            string          `json:"id"`
	FlowID        string          `json:"flowId"`
	CurrentNodeID string          `json:"currentNodeId"`
	Variables     map[string]any  `json:"variables"`
	History       []ExecutionStep `json:"history"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// New creates an active session positioned at the given node.
func New(flowID, entryNodeID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            uuid.NewString(),
		FlowID:        flowID,
		CurrentNodeID: entryNodeID,
		Variables:     make(map[string]any),
		History:       make([]ExecutionStep, 0, 8),
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// LastStep returns the most recent history entry.
func (s *Session) LastStep() (*ExecutionStep, bool) {
	if len(s.History) == 0 {
		return nil, false
	}
	return &s.History[len(s.History)-1], true
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Variables = cloneMap(s.Variables)
	clone.Metadata = cloneMap(s.Metadata)
	clone.History = make([]ExecutionStep, len(s.History))
	copy(clone.History, s.History)
	for i := range clone.History {
		if step := &clone.History[i]; step.Error != nil {
			errCopy := *step.Error
			errCopy.Details = cloneMap(step.Error.Details)
			step.Error = &errCopy
		}
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Service persists sessions between engine calls.
//
// Get returns ErrNotFound when no session exists. Set is a full replacement
// atomic with respect to concurrent Gets of the same id. Implementations
// must be safe for concurrent use.
type Service interface {
	Get(ctx context.Context, id string) (*Session, error)
	Set(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, flowID string) ([]*Session, error)
	Close() error
}
