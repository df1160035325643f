// Package sqlite is a schedule store backed by an SQLite file, for setups that
// keep schedules next to the rest of their relational data.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS backup_schedules (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schedule_runs (
		schedule_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (schedule_id, run_id)
	)`); err != nil {
		return err
	}
	return nil
}

func (s *Store) PutSchedule(ctx context.Context, id string, schedule []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO backup_schedules (id, payload, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`, id, schedule)
	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_schedules WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_runs WHERE schedule_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListSchedules(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM backup_schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]byte{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		out[id] = payload
	}
	return out, rows.Err()
}

func (s *Store) RecordScheduleRun(ctx context.Context, scheduleID, runID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO schedule_runs (schedule_id, run_id, payload) VALUES (?, ?, ?)`, scheduleID, runID, payload)
	return err
}

// ListScheduleRuns returns the newest limit runs, oldest first.
func (s *Store) ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([][]byte, error) {
	query := `SELECT payload FROM (
		SELECT run_id, payload FROM schedule_runs WHERE schedule_id = ? ORDER BY run_id DESC LIMIT ?
	) ORDER BY run_id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}
