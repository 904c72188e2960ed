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

package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// InMemoryStore is a non-durable CheckpointStore for tests and
// single-process runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

// Save stores a copy of the checkpoint.
func (s *InMemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *cp
	clone.Draft = cp.Draft.Clone()
	s.checkpoints[cp.ID] = &clone
	return nil
}

// Get retrieves a checkpoint by run ID.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	clone := *cp
	clone.Draft = cp.Draft.Clone()
	return &clone, nil
}

// List returns checkpoints in the given state, oldest first.
func (s *InMemoryStore) List(_ context.Context, state State) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if state == "" || cp.State == state {
			clone := *cp
			clone.Draft = cp.Draft.Clone()
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a checkpoint.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checkpoints[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	delete(s.checkpoints, id)
	return nil
}

// SQLStore persists checkpoints in a SQL database so pending approvals
// survive process restarts. Concurrency is handled by database-level
// locking.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createCheckpointsSchemaSQL = `
CREATE TABLE IF NOT EXISTS approval_checkpoints (
    id VARCHAR(255) PRIMARY KEY,
    incident_id VARCHAR(255) NOT NULL,
    severity VARCHAR(10) NOT NULL,
    state VARCHAR(32) NOT NULL,
    outcome_state VARCHAR(32) NOT NULL,
    incident_json TEXT NOT NULL,
    draft_json TEXT NOT NULL,
    review_json TEXT NOT NULL,
    payload_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createCheckpointsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_checkpoints_state ON approval_checkpoints(state, created_at)`

// NewSQLStore opens a SQL-backed store. driver is one of sqlite3,
// postgres, mysql; dsn is the driver-specific connection string.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	store := &SQLStore{db: db, dialect: driver}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreWithDB wraps an existing database handle (e.g. a shared
// pool) without taking ownership of it.
func NewSQLStoreWithDB(db *sql.DB, dialect string) (*SQLStore, error) {
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.createSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) createSchema() error {
	for _, stmt := range []string{createCheckpointsSchemaSQL, createCheckpointsIndexSQL} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create checkpoint schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts or replaces a checkpoint.
func (s *SQLStore) Save(ctx context.Context, cp *Checkpoint) error {
	incidentJSON, err := json.Marshal(cp.Incident)
	if err != nil {
		return fmt.Errorf("failed to serialize incident: %w", err)
	}
	draftJSON, err := json.Marshal(cp.Draft)
	if err != nil {
		return fmt.Errorf("failed to serialize draft: %w", err)
	}
	reviewJSON, err := json.Marshal(cp.Review)
	if err != nil {
		return fmt.Errorf("failed to serialize review: %w", err)
	}

	// Upsert via delete+insert keeps the statement portable across
	// the three dialects.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM approval_checkpoints WHERE id = ?`), cp.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO approval_checkpoints
		(id, incident_id, severity, state, outcome_state, incident_json, draft_json, review_json, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cp.ID, cp.Incident.ID, cp.Incident.Severity.String(), string(cp.State), string(cp.OutcomeState),
		string(incidentJSON), string(draftJSON), string(reviewJSON), string(cp.Payload),
		cp.CreatedAt, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return tx.Commit()
}

// Get retrieves a checkpoint by run ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, state, outcome_state, incident_json, draft_json, review_json, payload_json, created_at, updated_at
		FROM approval_checkpoints WHERE id = ?`), id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return cp, err
}

// List returns checkpoints in the given state, oldest first. An empty
// state matches all checkpoints.
func (s *SQLStore) List(ctx context.Context, state State) ([]*Checkpoint, error) {
	query := `
		SELECT id, state, outcome_state, incident_json, draft_json, review_json, payload_json, created_at, updated_at
		FROM approval_checkpoints`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete removes a checkpoint.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM approval_checkpoints WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp                                  Checkpoint
		state, outcomeState                 string
		incidentJSON, draftJSON, reviewJSON string
		payloadJSON                         sql.NullString
		createdAt, updatedAt                time.Time
	)
	err := row.Scan(&cp.ID, &state, &outcomeState, &incidentJSON, &draftJSON, &reviewJSON, &payloadJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	cp.State = State(state)
	cp.OutcomeState = report.OutcomeState(outcomeState)
	cp.CreatedAt = createdAt
	cp.UpdatedAt = updatedAt

	cp.Incident = &incident.Incident{}
	if err := json.Unmarshal([]byte(incidentJSON), cp.Incident); err != nil {
		return nil, fmt.Errorf("failed to deserialize incident: %w", err)
	}
	cp.Draft = &report.Draft{}
	if err := json.Unmarshal([]byte(draftJSON), cp.Draft); err != nil {
		return nil, fmt.Errorf("failed to deserialize draft: %w", err)
	}
	if err := json.Unmarshal([]byte(reviewJSON), &cp.Review); err != nil {
		return nil, fmt.Errorf("failed to deserialize review: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		cp.Payload = json.RawMessage(payloadJSON.String)
	}
	return &cp, nil
}
