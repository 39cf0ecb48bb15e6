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

import "sync"

// sessionLocks serialises engine calls per session id: at most one
// run-loop invocation may be active for a given session. Entries are
// reference-counted so the map does not grow with dead sessions.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the session's lock.
func (l *sessionLocks) acquire(id string) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// release unlocks and drops the entry once nobody holds or waits on it.
func (l *sessionLocks) release(id string) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
