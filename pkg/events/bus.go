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

// Package events publishes runtime events to subscribers in a synchronous
// fan-out. Channel adapters subscribe to surface messages to users; the
// observability layer subscribes to count and trace them.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names one runtime event.
type Type string

const (
	SessionStarted   Type = "session_started"
	NodeStarted      Type = "node_started"
	NodeCompleted    Type = "node_completed"
	NodeError        Type = "node_error"
	MessageSent      Type = "message_sent"
	InputReceived    Type = "input_received"
	SessionCompleted Type = "session_completed"
	SessionEscalated Type = "session_escalated"
)

// Event is one runtime occurrence. Data carries the event-specific payload
// (message text, escalation reason, error details).
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	FlowID    string         `json:"flowId"`
	NodeID    string         `json:"nodeId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. Handlers run synchronously in the
// publisher's goroutine; slow handlers slow the run loop.
type Handler func(Event)

// Subscription is an active registration on a Bus. Close is idempotent.
type Subscription struct {
	bus     *Bus
	handler Handler
	once    sync.Once
}

// Close removes the subscriber from the bus. After Close returns, the
// handler receives no further events.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}

// Bus fans events out to subscribers in subscription order. A panicking
// subscriber never aborts delivery or the publishing run: the bus recovers,
// logs, and continues with the remaining subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its subscription.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	s := &Subscription{bus: b, handler: handler}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Publish delivers the event to every subscriber registered at call time,
// in subscription order. The snapshot is taken before delivery, so
// subscribing or closing during Publish does not affect the current
// delivery.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked", "event", event.Type, "session", event.SessionID, "panic", r)
		}
	}()
	sub.handler(event)
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Count returns the number of active subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
