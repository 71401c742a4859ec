package eventlog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store mirrors recorded events into a sqlite database as they happen.
// The CSV written by Persist remains the primary output; the store exists
// so a crash mid-run does not lose everything.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_wall_ns BIGINT
		);
		CREATE TABLE IF NOT EXISTS events (
			run_id TEXT,
			event TEXT,
			t_ns BIGINT,
			t_wall BIGINT,
			replay_id TEXT,
			phase TEXT,
			extra TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// BeginRun registers a run before its events arrive.
func (s *Store) BeginRun(runID string, startedWallNS int64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO runs (run_id, started_wall_ns) VALUES (?, ?)",
		runID, startedWallNS)
	return err
}

// AppendEvent writes one event row for the given run.
func (s *Store) AppendEvent(runID string, e Event) error {
	_, err := s.db.Exec(
		"INSERT INTO events (run_id, event, t_ns, t_wall, replay_id, phase, extra) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, e.Name, e.MonotonicNS, e.WallNS, e.ReplayID, e.Phase, e.Extra)
	return err
}

// Events returns all events for a run in insertion order.
func (s *Store) Events(runID string) ([]Event, error) {
	rows, err := s.db.Query(
		"SELECT event, t_ns, t_wall, replay_id, phase, extra FROM events WHERE run_id = ? ORDER BY rowid",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Name, &e.MonotonicNS, &e.WallNS, &e.ReplayID, &e.Phase, &e.Extra); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
