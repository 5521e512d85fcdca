// Package sqlite persists launch history under the state directory so that
// `mcpup ps` and `mcpup logs` can report on past runs. One row per launch.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type LaunchRecord struct {
	RunID     string `json:"runId"`
	Target    string `json:"target"`
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

func Open(stateDir string) (*Store, error) {
	if stateDir == "" {
		stateDir = ".mcpup"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(stateDir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS launches (
		run_id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		pid INTEGER,
		exit_code INTEGER,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		last_error TEXT
	);`)
	return err
}

func (s *Store) InsertLaunch(r LaunchRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO launches (run_id, target, status, pid, exit_code, started_at, ended_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Target, r.Status, nullableInt(intPtrOrNil(r.PID)), nullableInt(r.ExitCode),
		r.StartedAt, nullableString(r.EndedAt), nullableString(r.LastError),
	)
	return err
}

func (s *Store) UpdateLaunchCompletion(runID, status string, exitCode *int, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE launches SET status = ?, exit_code = ?, ended_at = ?, last_error = ? WHERE run_id = ?`,
		status, nullableInt(exitCode), time.Now().UTC().Format(time.RFC3339Nano), nullableString(lastError), runID,
	)
	return err
}

func (s *Store) GetLaunch(runID string) (LaunchRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, target, status, COALESCE(pid, 0), exit_code, started_at, COALESCE(ended_at,''), COALESCE(last_error,'')
		 FROM launches WHERE run_id = ?`, runID)
	r, err := scanLaunch(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LaunchRecord{}, fmt.Errorf("launch not found: %s", runID)
		}
		return LaunchRecord{}, err
	}
	return r, nil
}

func (s *Store) ListLaunches(limit int) ([]LaunchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT run_id, target, status, COALESCE(pid, 0), exit_code, started_at, COALESCE(ended_at,''), COALESCE(last_error,'')
		 FROM launches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LaunchRecord, 0)
	for rows.Next() {
		r, err := scanLaunch(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanLaunch(scan func(...any) error) (LaunchRecord, error) {
	var r LaunchRecord
	var exit sql.NullInt64
	if err := scan(&r.RunID, &r.Target, &r.Status, &r.PID, &exit, &r.StartedAt, &r.EndedAt, &r.LastError); err != nil {
		return LaunchRecord{}, err
	}
	if exit.Valid {
		v := int(exit.Int64)
		r.ExitCode = &v
	}
	return r, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtrOrNil(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
