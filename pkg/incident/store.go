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

package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrHistoryNotFound is returned when no history entry exists for an
// incident ID.
var ErrHistoryNotFound = errors.New("history entry not found")

// summaryLimit caps the stored report excerpt.
const summaryLimit = 500

// HistoryEntry is the record kept for a finalized postmortem. Only a
// report excerpt is stored; the full report lives with its consumer.
type HistoryEntry struct {
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Severity   Severity  `json:"severity"`
	RootCause  string    `json:"root_cause"`
	Summary    string    `json:"report_summary"`
	Score      float64   `json:"score"`
	ApprovedBy string    `json:"approved_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// SimilarEntry is a history entry with its keyword relevance score.
type SimilarEntry struct {
	HistoryEntry
	Relevance int `json:"relevance_score"`
}

// RootCauseCount pairs a normalized root cause with its occurrence
// count across the history.
type RootCauseCount struct {
	RootCause string `json:"root_cause"`
	Count     int    `json:"count"`
}

// HistoryStore records finalized postmortems so future incidents can
// pull in similar past cases.
type HistoryStore interface {
	// Save records an entry, replacing any prior entry for the same
	// incident ID.
	Save(ctx context.Context, entry *HistoryEntry) error

	// Get retrieves an entry by incident ID.
	Get(ctx context.Context, incidentID string) (*HistoryEntry, error)

	// SearchSimilar ranks entries by keyword overlap between the query
	// and the entry title plus root cause. Entries with no overlap are
	// omitted.
	SearchSimilar(ctx context.Context, query string, limit int) ([]*SimilarEntry, error)

	// ListBySeverity returns all entries of the given severity, newest
	// first.
	ListBySeverity(ctx context.Context, sev Severity) ([]*HistoryEntry, error)

	// CommonRootCauses returns the most frequent root causes, most
	// common first.
	CommonRootCauses(ctx context.Context, limit int) ([]RootCauseCount, error)
}

// NewHistoryEntry builds an entry from a finalized report, truncating
// the body to the stored excerpt size.
func NewHistoryEntry(incidentID, title string, sev Severity, rootCause, body, approvedBy string, score float64) *HistoryEntry {
	summary := body
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}
	return &HistoryEntry{
		IncidentID: incidentID,
		Title:      title,
		Severity:   sev,
		RootCause:  rootCause,
		Summary:    summary,
		Score:      score,
		ApprovedBy: approvedBy,
		CreatedAt:  time.Now().UTC(),
	}
}

// relevance counts how many query keywords occur in the entry's title
// or root cause.
func relevance(entry *HistoryEntry, keywords []string) int {
	searchable := strings.ToLower(entry.Title + " " + entry.RootCause)
	score := 0
	for _, kw := range keywords {
		if strings.Contains(searchable, kw) {
			score++
		}
	}
	return score
}

// normalizeRootCause folds near-identical root causes together for
// frequency counting.
func normalizeRootCause(rc string) string {
	if rc == "" {
		return "unknown"
	}
	if len(rc) > 100 {
		rc = rc[:100]
	}
	return strings.ToLower(rc)
}

func rankSimilar(entries []*HistoryEntry, query string, limit int) []*SimilarEntry {
	keywords := strings.Fields(strings.ToLower(query))
	var out []*SimilarEntry
	for _, e := range entries {
		if score := relevance(e, keywords); score > 0 {
			out = append(out, &SimilarEntry{HistoryEntry: *e, Relevance: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func countRootCauses(entries []*HistoryEntry, limit int) []RootCauseCount {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[normalizeRootCause(e.RootCause)]++
	}
	out := make([]RootCauseCount, 0, len(counts))
	for rc, n := range counts {
		out = append(out, RootCauseCount{RootCause: rc, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RootCause < out[j].RootCause
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// InMemoryHistory is a non-durable HistoryStore.
type InMemoryHistory struct {
	mu      sync.RWMutex
	entries map[string]*HistoryEntry
}

// NewInMemoryHistory creates an empty in-memory history.
func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{entries: make(map[string]*HistoryEntry)}
}

func (s *InMemoryHistory) Save(_ context.Context, entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.entries[entry.IncidentID] = &clone
	return nil
}

func (s *InMemoryHistory) Get(_ context.Context, incidentID string) (*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[incidentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, incidentID)
	}
	clone := *entry
	return &clone, nil
}

func (s *InMemoryHistory) SearchSimilar(_ context.Context, query string, limit int) ([]*SimilarEntry, error) {
	return rankSimilar(s.snapshot(), query, limit), nil
}

func (s *InMemoryHistory) ListBySeverity(_ context.Context, sev Severity) ([]*HistoryEntry, error) {
	var out []*HistoryEntry
	for _, e := range s.snapshot() {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryHistory) CommonRootCauses(_ context.Context, limit int) ([]RootCauseCount, error) {
	return countRootCauses(s.snapshot(), limit), nil
}

func (s *InMemoryHistory) snapshot() []*HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*HistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		clone := *e
		out = append(out, &clone)
	}
	return out
}

// SQLHistory is a SQL-backed HistoryStore sharing the database used
// for approval checkpoints.
type SQLHistory struct {
	db      *sql.DB
	dialect string
}

const createHistorySchemaSQL = `
CREATE TABLE IF NOT EXISTS incident_history (
    incident_id VARCHAR(255) PRIMARY KEY,
    title TEXT NOT NULL,
    severity VARCHAR(10) NOT NULL,
    root_cause TEXT NOT NULL,
    report_summary TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    approved_by VARCHAR(32) NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createHistoryIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_history_severity ON incident_history(severity, created_at)`

// NewSQLHistory opens a SQL-backed history store.
func NewSQLHistory(driver, dsn string) (*SQLHistory, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	store := &SQLHistory{db: db, dialect: driver}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLHistoryWithDB wraps an existing database handle without taking
// ownership of it.
func NewSQLHistoryWithDB(db *sql.DB, dialect string) (*SQLHistory, error) {
	store := &SQLHistory{db: db, dialect: dialect}
	if err := store.createSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLHistory) createSchema() error {
	for _, stmt := range []string{createHistorySchemaSQL, createHistoryIndexSQL} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create history schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLHistory) Close() error {
	return s.db.Close()
}

func (s *SQLHistory) rebind(query string) string {
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

func (s *SQLHistory) Save(ctx context.Context, entry *HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM incident_history WHERE incident_id = ?`), entry.IncidentID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO incident_history
		(incident_id, title, severity, root_cause, report_summary, score, approved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.IncidentID, entry.Title, entry.Severity.String(), entry.RootCause,
		entry.Summary, entry.Score, entry.ApprovedBy, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save history entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLHistory) Get(ctx context.Context, incidentID string) (*HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT incident_id, title, severity, root_cause, report_summary, score, approved_by, created_at
		FROM incident_history WHERE incident_id = ?`), incidentID)
	entry, err := scanHistoryEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, incidentID)
	}
	return entry, err
}

// SearchSimilar loads all entries and ranks in process. Keyword
// relevance scoring does not map onto portable SQL.
func (s *SQLHistory) SearchSimilar(ctx context.Context, query string, limit int) ([]*SimilarEntry, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT incident_id, title, severity, root_cause, report_summary, score, approved_by, created_at
		FROM incident_history`)
	if err != nil {
		return nil, err
	}
	return rankSimilar(entries, query, limit), nil
}

func (s *SQLHistory) ListBySeverity(ctx context.Context, sev Severity) ([]*HistoryEntry, error) {
	return s.queryEntries(ctx, `
		SELECT incident_id, title, severity, root_cause, report_summary, score, approved_by, created_at
		FROM incident_history WHERE severity = ? ORDER BY created_at DESC`, sev.String())
}

func (s *SQLHistory) CommonRootCauses(ctx context.Context, limit int) ([]RootCauseCount, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT incident_id, title, severity, root_cause, report_summary, score, approved_by, created_at
		FROM incident_history`)
	if err != nil {
		return nil, err
	}
	return countRootCauses(entries, limit), nil
}

func (s *SQLHistory) queryEntries(ctx context.Context, query string, args ...any) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type historyRowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryEntry(row historyRowScanner) (*HistoryEntry, error) {
	var (
		entry    HistoryEntry
		severity string
	)
	err := row.Scan(&entry.IncidentID, &entry.Title, &severity, &entry.RootCause,
		&entry.Summary, &entry.Score, &entry.ApprovedBy, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	sev, err := ParseSeverity(severity)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize history entry: %w", err)
	}
	entry.Severity = sev
	return &entry, nil
}
