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

package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool shares *sql.DB handles between components that point at the
// same database. Handles are keyed by DSN and opened lazily.
type DBPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewDBPool() *DBPool {
	return &DBPool{dbs: make(map[string]*sql.DB)}
}

// Get returns the pooled handle for cfg, opening and pinging it on
// first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("no DSN for driver '%s'", cfg.Driver)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}

	openDSN := dsn
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(cfg.Database); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		// WAL keeps readers from blocking the writer; the busy timeout
		// covers the remaining writer-writer contention.
		openDSN = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000", cfg.Database)
	}

	db, err := sql.Open(cfg.DriverName(), openDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite allows a single writer; funnel everything through one
		// connection so the driver serializes instead of erroring.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	p.dbs[dsn] = db
	return db, nil
}

// Close closes every pooled handle and returns the first error seen.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for dsn, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, dsn)
	}
	return firstErr
}

var defaultPool = NewDBPool()

// OpenDatabase opens cfg through the process-wide pool.
func OpenDatabase(cfg *DatabaseConfig) (*sql.DB, error) {
	return defaultPool.Get(cfg)
}

// CloseDatabases closes every handle in the process-wide pool.
func CloseDatabases() error {
	return defaultPool.Close()
}
