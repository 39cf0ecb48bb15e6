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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/nestor/pkg/ai"
	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/flow/source"
	"github.com/kadirpekel/nestor/pkg/knowledge"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/runtime"
	"github.com/kadirpekel/nestor/pkg/server"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/tool"
)

// ServeCmd starts the flow runtime HTTP server.
type ServeCmd struct {
	// Flow source overrides
	Flows string `help:"Flow definitions file or directory (overrides the config)." type:"path" placeholder:"PATH"`
	Watch *bool  `negatable:"" help:"Reload flows when their source changes (enabled by default)."`

	// Server options
	Host string `help:"Interface to bind (overrides the config)." placeholder:"HOST"`
	Port int    `help:"Port to listen on (overrides the config)." placeholder:"PORT"`

	// Observability options
	Observe bool `help:"Enable observability (metrics + OTLP tracing to localhost:4317)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	c.applyOverrides(cfg)

	// Config file logger settings apply only where CLI flags and env left
	// gaps, so this never undoes an explicit --log-level.
	logCleanup, err := applyLoggerConfig(cli, cfg.Logger)
	if err != nil {
		return err
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	// Shared database pool so SQLite never sees competing connections.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	sessions, err := newSessionService(ctx, cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	services, closeServices, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeServices()

	store, err := openFlowStore(ctx, cfg.Flows)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	lintFlows(store.List())

	engine := runtime.NewEngine(
		runtime.WithSessionService(sessions),
		runtime.WithServices(services),
		runtime.WithMaxSteps(cfg.Runtime.MaxSteps),
		runtime.WithDefaultToolTimeout(cfg.Runtime.DefaultToolTimeout),
	)
	defer func() { _ = engine.Close() }()

	srv, err := server.New(server.Options{
		Config: cfg.Server,
		Engine: engine,
		Flows:  store,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printServeInfo(cfg, store.List())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Flows.WatchEnabled() {
		g.Go(func() error {
			if err := store.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyOverrides lays the serve flags over the loaded config.
func (c *ServeCmd) applyOverrides(cfg *config.Config) {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Flows != "" {
		cfg.Flows.Type = config.FlowSourceFile
		cfg.Flows.Path = c.Flows
		cfg.Flows.Endpoints = nil
	}
	if c.Watch != nil {
		cfg.Flows.Watch = c.Watch
	}
	if c.Observe {
		cfg.Observability.Metrics.Enabled = true
		cfg.Observability.Tracing.Enabled = true
		slog.Info("Observability enabled",
			"tracing", "otlp://"+cfg.Observability.Tracing.Endpoint, "metrics", "prometheus")
	}
}

// loadConfig loads the configuration file named by --config, or falls
// back to the built-in defaults so `nestor serve --flows ./flows` works
// without one.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config == "" {
		slog.Info("No config file given, using defaults")
		return config.Default(), nil
	}

	config.LoadEnvFiles(filepath.Join(filepath.Dir(cli.Config), ".env"))
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", cli.Config)
	return cfg, nil
}

// newSessionService builds the configured session backend. SQL backends
// draw connections from the shared pool.
func newSessionService(ctx context.Context, cfg *config.Config, dbPool *config.DBPool) (session.Service, error) {
	switch {
	case cfg.Sessions.IsSQL():
		dbCfg := cfg.SessionDatabase()
		if dbCfg == nil {
			return nil, fmt.Errorf("sessions reference unknown database %q", cfg.Sessions.Database)
		}
		db, err := dbPool.Get(dbCfg)
		if err != nil {
			return nil, err
		}
		slog.Info("Session persistence enabled", "backend", "sql", "driver", dbCfg.Driver)
		return session.NewSQLService(db, dbCfg.Dialect())

	case cfg.Sessions.IsRedis():
		rc := cfg.Sessions.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", rc.Addr, err)
		}
		slog.Info("Session persistence enabled", "backend", "redis", "addr", rc.Addr)
		return session.NewRedisService(rdb, rc.TTL)

	default:
		return session.NewMemoryService(), nil
	}
}

// buildServices constructs the pluggable collaborators the engine
// dispatches to, plus a closer releasing them in reverse order.
func buildServices(ctx context.Context, cfg *config.Config) (runtime.Services, func(), error) {
	classifiers, err := ai.NewServiceFromConfig(cfg.Classifiers)
	if err != nil {
		return runtime.Services{}, nil, fmt.Errorf("failed to build classifiers: %w", err)
	}

	kb, err := knowledge.NewServiceFromConfig(ctx, cfg.Knowledge)
	if err != nil {
		_ = classifiers.Close()
		return runtime.Services{}, nil, fmt.Errorf("failed to build knowledge bases: %w", err)
	}

	tools, err := tool.NewServiceFromConfig(cfg.Tools)
	if err != nil {
		_ = kb.Close()
		_ = classifiers.Close()
		return runtime.Services{}, nil, fmt.Errorf("failed to build tool executors: %w", err)
	}

	closeAll := func() {
		_ = tools.Close()
		_ = kb.Close()
		_ = classifiers.Close()
	}
	return runtime.Services{
		Classifiers: classifiers,
		Knowledge:   kb,
		Tools:       tools,
	}, closeAll, nil
}

// openFlowStore connects the configured flow source and performs the
// initial load.
func openFlowStore(ctx context.Context, cfg config.FlowsConfig) (*flow.Store, error) {
	srcType, err := source.ParseType(cfg.Type)
	if err != nil {
		return nil, err
	}
	src, err := source.New(source.Config{
		Type:      srcType,
		Path:      cfg.Path,
		Endpoints: cfg.Endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open flow source: %w", err)
	}

	store := flow.NewStore([]source.Source{src})
	if err := store.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}
	return store, nil
}

// lintFlows logs lint findings without failing startup: broken node
// references surface as coded errors at run time, and a watched source
// can ship the fix without a restart.
func lintFlows(flows []*flow.Flow) {
	for _, f := range flows {
		for _, issue := range flow.Lint(f) {
			if issue.Severity == flow.SeverityError {
				slog.Warn("Flow lint error", "flow", f.ID, "issue", issue.String())
			} else {
				slog.Debug("Flow lint warning", "flow", f.ID, "issue", issue.String())
			}
		}
	}
}

// printServeInfo prints the startup summary.
func printServeInfo(cfg *config.Config, flows []*flow.Flow) {
	indigoColor := "\033[38;2;99;102;241m"
	resetColor := "\033[0m"
	addr := displayAddress(cfg.Server)

	fmt.Printf("\n%s🚀 Nestor server ready!%s\n", indigoColor, resetColor)
	fmt.Printf("   Flows API:   http://%s/v1/flows\n", addr)
	fmt.Printf("   Sessions:    http://%s/v1/sessions\n", addr)
	fmt.Printf("   Health:      http://%s/health\n", addr)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     http://%s/metrics\n", addr)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}

	switch {
	case cfg.Sessions.IsSQL():
		fmt.Printf("   Storage:     sql (%s)\n", cfg.Sessions.Database)
	case cfg.Sessions.IsRedis():
		fmt.Printf("   Storage:     redis (%s)\n", cfg.Sessions.Redis.Addr)
	default:
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	}

	fmt.Println("\n   Flows:")
	if len(flows) == 0 {
		fmt.Println("     (none loaded)")
	}
	for _, f := range flows {
		name := f.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("     - %s: %s (%d nodes)\n", f.ID, name, len(f.Nodes))
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

// displayAddress renders the bind address with the wildcard host
// replaced by localhost so the printed URLs are clickable.
func displayAddress(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Port)
}
