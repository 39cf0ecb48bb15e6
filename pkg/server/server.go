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

// Package server exposes the flow runtime over HTTP: session lifecycle
// endpoints under /v1, a per-session event stream, and the usual health
// and metrics endpoints. The API is plain JSON; sessions are returned as
// full documents so channel adapters never need a second fetch.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/runtime"
)

// Server serves the flow runtime API.
type Server struct {
	config config.ServerConfig
	engine *runtime.Engine
	flows  *flow.Store
	logger *slog.Logger

	httpServer *http.Server
}

// Options configures a Server.
type Options struct {
	// Config holds the listen address, timeouts, CORS and SSE settings.
	Config config.ServerConfig

	// Engine executes flows. Required.
	Engine *runtime.Engine

	// Flows resolves flow ids for session starts and input turns. Required.
	Flows *flow.Store

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New builds a server. The listener is not opened until Start.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Config.SetDefaults()

	s := &Server{
		config: opts.Config,
		engine: opts.Engine,
		flows:  opts.Flows,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Config.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}
	return s, nil
}

// Handler assembles the router. Exposed so tests can serve the API
// through httptest without opening a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestObserver)
	r.Use(requestLogger(s.logger))
	r.Use(corsMiddleware(s.config.CORSAllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/flows", s.handleListFlows)
		r.Get("/flows/{flowID}", s.handleGetFlow)
		r.Post("/flows/{flowID}/sessions", s.handleStartSession)

		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Delete("/sessions/{sessionID}", s.handleEndSession)
		r.Post("/sessions/{sessionID}/input", s.handleProcessInput)
		r.Get("/sessions/{sessionID}/events", s.handleSessionEvents)
	})

	return r
}

// Start opens the listener and serves until Shutdown is called or the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
