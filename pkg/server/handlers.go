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
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/nestor/pkg/runtime"
	"github.com/kadirpekel/nestor/pkg/session"
)

// codeFlowNotFound is the facade's own error code for unknown flow ids;
// the runtime never sees the request.
const codeFlowNotFound = "FLOW_NOT_FOUND"

// startSessionRequest is the optional body of POST /v1/flows/{flowID}/sessions.
type startSessionRequest struct {
	// Metadata is attached to the session document verbatim (channel
	// name, external user id, correlation ids).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// processInputRequest is the body of POST /v1/sessions/{sessionID}/input.
type processInputRequest struct {
	Message string `json:"message"`
}

// flowSummary is one entry of GET /v1/flows.
type flowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	EntryNode   string `json:"entryNode"`
	Nodes       int    `json:"nodes"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.flows.List()
	summaries := make([]flowSummary, 0, len(flows))
	for _, f := range flows {
		summaries = append(summaries, flowSummary{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			Version:     f.Version,
			EntryNode:   f.EntryNode,
			Nodes:       len(f.Nodes),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": summaries})
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flows.Get(chi.URLParam(r, "flowID"))
	if !ok {
		writeError(w, http.StatusNotFound, codeFlowNotFound, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	f, ok := s.flows.Get(flowID)
	if !ok {
		writeError(w, http.StatusNotFound, codeFlowNotFound, "flow not found")
		return
	}

	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, runtime.CodeExecutionError, err.Error())
		return
	}

	sess, err := s.engine.StartSession(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// The session id is not known to anyone else yet, so attaching
	// metadata after the first run is race-free.
	if len(req.Metadata) > 0 {
		sess.Metadata = req.Metadata
		if err := s.engine.Sessions().Set(r.Context(), sess); err != nil {
			s.logger.Error("Failed to persist session metadata", "session", sess.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleProcessInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req processInputRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, runtime.CodeExecutionError, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, runtime.CodeExecutionError, "message is required")
		return
	}

	sess, err := s.engine.GetSession(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	f, ok := s.flows.Get(sess.FlowID)
	if !ok {
		writeError(w, http.StatusNotFound, codeFlowNotFound, "flow "+sess.FlowID+" is no longer loaded")
		return
	}

	sess, err = s.engine.ProcessInput(r.Context(), f, sessionID, req.Message)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// decodeBody decodes a JSON request body. An empty body decodes to the
// zero value so bodyless POSTs stay valid.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.New("invalid JSON body")
}

// writeError writes the structured error shape clients key off.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": &session.Error{Code: code, Message: message},
	})
}

// writeEngineError maps a runtime error onto an HTTP status: unknown
// ids are 404, resuming a session that is not waiting is 409, malformed
// requests are 400, anything uncoded is a 500.
func writeEngineError(w http.ResponseWriter, err error) {
	var serr *session.Error
	if !errors.As(err, &serr) {
		serr = &session.Error{Code: runtime.CodeExecutionError, Message: err.Error()}
	}
	writeJSON(w, statusForCode(serr.Code), map[string]any{"error": serr})
}

func statusForCode(code string) int {
	switch code {
	case runtime.CodeSessionNotFound, runtime.CodeEntryNotFound, codeFlowNotFound:
		return http.StatusNotFound
	case runtime.CodeSessionNotWaiting:
		return http.StatusConflict
	case runtime.CodeExecutionError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
