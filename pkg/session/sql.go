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
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLService implements Service using a SQL database. The session JSON is
// the source of truth; flow_id, status, and timestamps are denormalised for
// listing. Concurrency is handled by database-level locking.
type SQLService struct {
	db      *sql.DB
	dialect string
}

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) NOT NULL,
    flow_id VARCHAR(255) NOT NULL,
    status VARCHAR(32) NOT NULL,
    session_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id)
)`

var sessionIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_flow ON sessions(flow_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
}

// NewSQLService creates a SQL-backed session store and initialises its
// schema.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{
		db:      db,
		dialect: dialect,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; duplicate-index errors on
	// repeat startups are harmless.
	for _, stmt := range sessionIndexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			slog.Debug("Session index creation skipped", "error", err)
		}
	}

	return nil
}

// Get retrieves a session by id.
func (s *SQLService) Get(ctx context.Context, id string) (*Session, error) {
	query := s.rebind(`SELECT session_json FROM sessions WHERE id = ?`)

	var raw string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Set stores the session as a full replacement.
func (s *SQLService) Set(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	_, err = s.db.ExecContext(ctx, s.upsertQuery(),
		session.ID, session.FlowID, string(session.Status), string(raw),
		session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLService) upsertQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO sessions (id, flow_id, status, session_json, created_at, updated_at)
                VALUES ($1, $2, $3, $4, $5, $6)
                ON CONFLICT (id) DO UPDATE SET flow_id = $2, status = $3, session_json = $4,
                    created_at = $5, updated_at = $6`
	case "mysql":
		return `INSERT INTO sessions (id, flow_id, status, session_json, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE flow_id = VALUES(flow_id), status = VALUES(status),
                    session_json = VALUES(session_json), created_at = VALUES(created_at),
                    updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO sessions (id, flow_id, status, session_json, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?)
                ON CONFLICT (id) DO UPDATE SET flow_id = excluded.flow_id, status = excluded.status,
                    session_json = excluded.session_json, created_at = excluded.created_at,
                    updated_at = excluded.updated_at`
	}
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *SQLService) Delete(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM sessions WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List returns sessions, optionally filtered by flow id, newest first.
func (s *SQLService) List(ctx context.Context, flowID string) ([]*Session, error) {
	query := `SELECT session_json FROM sessions`
	args := []any{}
	if flowID != "" {
		query += ` WHERE flow_id = ?`
		args = append(args, flowID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// Close closes the database connection.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLService) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			b.WriteString(fmt.Sprintf("$%d", paramNum))
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Ensure SQLService implements Service
var _ Service = (*SQLService)(nil)
