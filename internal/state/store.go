package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ExecutionRecord is one stored check or action outcome.
type ExecutionRecord struct {
	ID         int64
	RuleID     int
	Phase      string // "check", "action", or "throttled"
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS int64
	TimedOut   bool
}

// RuleStats summarizes a rule's history for the stats CLI verb.
type RuleStats struct {
	RuleID         int
	Checks         int64
	Actions        int64
	ActionsLast24h int64
	LastCheckAt    time.Time
	LastActionAt   time.Time
}

// Store persists execution history backing the stats CLI verb. "Last 24h"
// is computed as a genuine sliding window over stored timestamps,
// consistent with the in-memory rate limiter's own window semantics.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS execution_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL,
	phase TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	timed_out BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_execution_history_rule ON execution_history(rule_id);
CREATE INDEX IF NOT EXISTS idx_execution_history_phase ON execution_history(phase);
CREATE INDEX IF NOT EXISTS idx_execution_history_started ON execution_history(started_at);
`

// Open opens or creates a state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordExecution stores a check or action outcome.
func (s *Store) RecordExecution(rec ExecutionRecord) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO execution_history
		(rule_id, phase, exit_code, started_at, finished_at, duration_ms, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RuleID, rec.Phase, rec.ExitCode, rec.StartedAt, rec.FinishedAt,
		rec.DurationMS, rec.TimedOut,
	)
	if err != nil {
		return 0, fmt.Errorf("recording execution: %w", err)
	}
	return result.LastInsertId()
}

// History returns a rule's recent executions, most recent first, optionally
// filtered by phase ("" for both).
func (s *Store) History(ruleID int, phase string, limit int) ([]ExecutionRecord, error) {
	query := "SELECT id, rule_id, phase, exit_code, started_at, finished_at, duration_ms, timed_out FROM execution_history WHERE rule_id = ?"
	args := []any{ruleID}

	if phase != "" {
		query += " AND phase = ?"
		args = append(args, phase)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.RuleID, &r.Phase, &r.ExitCode,
			&r.StartedAt, &r.FinishedAt, &r.DurationMS, &r.TimedOut); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats computes RuleStats for a rule as of now, with ActionsLast24h a
// sliding window over the preceding 24 hours.
func (s *Store) Stats(ruleID int, now time.Time) (RuleStats, error) {
	stats := RuleStats{RuleID: ruleID}

	row := s.db.QueryRow(`SELECT COUNT(*), MAX(started_at) FROM execution_history WHERE rule_id = ? AND phase = 'check'`, ruleID)
	var lastCheck sql.NullTime
	if err := row.Scan(&stats.Checks, &lastCheck); err != nil {
		return stats, fmt.Errorf("querying check totals: %w", err)
	}
	stats.LastCheckAt = lastCheck.Time

	row = s.db.QueryRow(`SELECT COUNT(*), MAX(started_at) FROM execution_history WHERE rule_id = ? AND phase = 'action'`, ruleID)
	var lastAction sql.NullTime
	if err := row.Scan(&stats.Actions, &lastAction); err != nil {
		return stats, fmt.Errorf("querying action totals: %w", err)
	}
	stats.LastActionAt = lastAction.Time

	cutoff := now.Add(-24 * time.Hour)
	row = s.db.QueryRow(`SELECT COUNT(*) FROM execution_history WHERE rule_id = ? AND phase = 'action' AND started_at >= ?`, ruleID, cutoff)
	if err := row.Scan(&stats.ActionsLast24h); err != nil {
		return stats, fmt.Errorf("querying sliding action count: %w", err)
	}

	return stats, nil
}

// Prune removes rule ids no longer present in keep, so a deleted rule's
// history doesn't accumulate forever.
func (s *Store) Prune(keep map[int]bool) error {
	rows, err := s.db.Query(`SELECT DISTINCT rule_id FROM execution_history`)
	if err != nil {
		return fmt.Errorf("listing rule ids: %w", err)
	}
	var stale []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rule id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := s.db.Exec(`DELETE FROM execution_history WHERE rule_id = ?`, id); err != nil {
			return fmt.Errorf("pruning rule %d history: %w", id, err)
		}
	}
	return nil
}
