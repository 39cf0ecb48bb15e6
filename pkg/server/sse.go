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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/nestor/pkg/events"
)

// sseBufferSize bounds how far a slow event-stream client may fall
// behind before events are dropped. Bus delivery runs in the engine's
// goroutine, so the subscriber must never block on the client.
const sseBufferSize = 64

// handleSessionEvents streams the session's bus events as SSE. The
// current session document is sent first as a "session" event so
// clients start from a known state; keep-alive comments hold idle
// connections open through proxies.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.engine.GetSession(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the snapshot so nothing published in between is
	// lost.
	ch := make(chan events.Event, sseBufferSize)
	var dropped atomic.Int64
	sub := s.engine.Subscribe(func(e events.Event) {
		if e.SessionID != sessionID {
			return
		}
		select {
		case ch <- e:
		default:
			dropped.Add(1)
		}
	})
	defer func() { _ = sub.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendSSE(w, flusher, "session", sess)

	keepAlive := time.NewTicker(s.config.SSEKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			if n := dropped.Load(); n > 0 {
				s.logger.Warn("Session event stream dropped events", "session", sessionID, "dropped", n)
			}
			return
		case e := <-ch:
			sendSSE(w, flusher, string(e.Type), e)
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// sendSSE writes one event in SSE framing: event: type\ndata: json\n\n.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
