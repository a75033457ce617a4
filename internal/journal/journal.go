// Package journal persists dockhost events in a SQLite database so runs can
// be inspected after the process that drove them has exited.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/everydev1618/dockhost"
	_ "modernc.org/sqlite"
)

// Journal records events using modernc.org/sqlite (pure Go).
// It implements dockhost.Observer.
type Journal struct {
	db *sql.DB
}

// RunSummary aggregates the recorded events of one run.
type RunSummary struct {
	Run      dockhost.RunID
	Events   int
	Failures int
	Hosts    int
	LastSeen time.Time
}

// Open opens or creates a journal at path and ensures its schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers from concurrent hosts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id     TEXT NOT NULL,
		type         TEXT NOT NULL,
		run_id       TEXT NOT NULL,
		host         TEXT NOT NULL DEFAULT '',
		container_id TEXT NOT NULL DEFAULT '',
		command      TEXT NOT NULL DEFAULT '',
		path         TEXT NOT NULL DEFAULT '',
		exit_code    INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		duration_ns  INTEGER NOT NULL DEFAULT 0,
		timestamp_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS events_run ON events (run_id, id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores one event.
func (j *Journal) Record(e dockhost.Event) error {
	_, err := j.db.Exec(
		`INSERT INTO events (event_id, type, run_id, host, container_id, command, path, exit_code, error, duration_ns, timestamp_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), string(e.Run), e.Host, e.Container, e.Command, e.Path,
		e.ExitCode, e.Error, int64(e.Duration), e.Timestamp.UnixNano(),
	)
	return err
}

// Observe records e, logging instead of failing when the write does not succeed.
func (j *Journal) Observe(e dockhost.Event) {
	if err := j.Record(e); err != nil {
		slog.Warn("journal: record event failed", "type", e.Type, "run", e.Run, "error", err)
	}
}

// Events returns the events of a run in the order they were recorded.
// A limit of zero or less returns all of them.
func (j *Journal) Events(run dockhost.RunID, limit int) ([]dockhost.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(
		`SELECT event_id, type, run_id, host, container_id, command, path, exit_code, error, duration_ns, timestamp_ns
		 FROM events WHERE run_id = ? ORDER BY id ASC LIMIT ?`, string(run), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []dockhost.Event
	for rows.Next() {
		var (
			e          dockhost.Event
			typ, runID string
			dur, ts    int64
		)
		if err := rows.Scan(&e.ID, &typ, &runID, &e.Host, &e.Container, &e.Command, &e.Path, &e.ExitCode, &e.Error, &dur, &ts); err != nil {
			return nil, err
		}
		e.Type = dockhost.EventType(typ)
		e.Run = dockhost.RunID(runID)
		e.Duration = time.Duration(dur)
		e.Timestamp = time.Unix(0, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Runs summarizes every recorded run, most recently active first.
func (j *Journal) Runs() ([]RunSummary, error) {
	rows, err := j.db.Query(
		`SELECT run_id,
		        COUNT(*),
		        SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		        COUNT(DISTINCT NULLIF(host, '')),
		        MAX(timestamp_ns)
		 FROM events GROUP BY run_id ORDER BY MAX(id) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s     RunSummary
			runID string
			last  int64
		)
		if err := rows.Scan(&runID, &s.Events, &s.Failures, &s.Hosts, &last); err != nil {
			return nil, err
		}
		s.Run = dockhost.RunID(runID)
		s.LastSeen = time.Unix(0, last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes events recorded before cutoff and returns how many were removed.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	result, err := j.db.Exec(`DELETE FROM events WHERE timestamp_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
