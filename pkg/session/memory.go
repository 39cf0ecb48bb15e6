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

package session

import (
	"context"
	"sync"
)

// MemoryService is the default in-process session store. Sessions are
// deep-copied on the way in and out so callers never share state with the
// store.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryService creates an empty in-memory session store.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		sessions: make(map[string]*Session),
	}
}

// Get returns a copy of the stored session.
func (m *MemoryService) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Set stores a copy of the session, replacing any previous version.
func (m *MemoryService) Set(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (m *MemoryService) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// List returns copies of all sessions, optionally filtered by flow id.
func (m *MemoryService) List(ctx context.Context, flowID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if flowID != "" && s.FlowID != flowID {
			continue
		}
		sessions = append(sessions, s.Clone())
	}
	return sessions, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryService) Close() error {
	return nil
}

// Ensure MemoryService implements Service
var _ Service = (*MemoryService)(nil)
