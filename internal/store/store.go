// Package store persists clock snapshots and conversion errors in SQLite.
//
// Every Store belongs to one session, identified by a random UUID, so that
// several replays can share a database file.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrzor/trace-clocksync/internal/clocksync"

	_ "modernc.org/sqlite"
)

// ClockSnapshotRow is one clock of one accepted snapshot.
type ClockSnapshotRow struct {
	// TS is the snapshot instant in trace time.
	TS         int64
	Clock      clocksync.ClockID
	ClockName  string
	ClockValue int64
	SnapshotID uint32
	MachineID  uint32
}

// Store manages all SQLite operations with WAL mode.
type Store struct {
	db        *sql.DB
	sessionID string
}

// New opens (or creates) the SQLite database, initializes the schema and
// starts a new session.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, sessionID: uuid.NewString()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		s.sessionID, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// SessionID returns the id every row written by this Store carries.
func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clock_snapshot (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL REFERENCES sessions(id),
		ts            INTEGER NOT NULL,
		clock_id      INTEGER NOT NULL,
		seq_id        INTEGER NOT NULL DEFAULT 0,
		trace_file_id INTEGER NOT NULL DEFAULT 0,
		clock_name    TEXT,
		clock_value   INTEGER NOT NULL,
		snapshot_id   INTEGER NOT NULL,
		machine_id    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_clock_snapshot_session ON clock_snapshot(session_id, snapshot_id);

	CREATE TABLE IF NOT EXISTS conversion_error (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL REFERENCES sessions(id),
		machine_id    INTEGER NOT NULL DEFAULT 0,
		kind          TEXT NOT NULL,
		src_clock     TEXT NOT NULL,
		target_clock  TEXT NOT NULL,
		src_ts        INTEGER NOT NULL,
		byte_offset   INTEGER NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversion_error_kind ON conversion_error(session_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Clock snapshots
// ---------------------------------------------------------------------------

// InsertClockSnapshot appends one clock_snapshot row.
func (s *Store) InsertClockSnapshot(r ClockSnapshotRow) error {
	var name sql.NullString
	if r.ClockName != "" {
		name = sql.NullString{String: r.ClockName, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO clock_snapshot
		 (session_id, ts, clock_id, seq_id, trace_file_id, clock_name, clock_value, snapshot_id, machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, r.TS, r.Clock.Clock, r.Clock.SeqID, r.Clock.TraceFileID,
		name, r.ClockValue, r.SnapshotID, r.MachineID,
	)
	if err != nil {
		return fmt.Errorf("insert clock snapshot: %w", err)
	}
	return nil
}

// ListClockSnapshots returns the session's rows in insertion order.
func (s *Store) ListClockSnapshots() ([]ClockSnapshotRow, error) {
	rows, err := s.db.Query(
		`SELECT ts, clock_id, seq_id, trace_file_id, clock_name, clock_value, snapshot_id, machine_id
		 FROM clock_snapshot WHERE session_id = ? ORDER BY id`, s.sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClockSnapshotRow
	for rows.Next() {
		var r ClockSnapshotRow
		var name sql.NullString
		if err := rows.Scan(&r.TS, &r.Clock.Clock, &r.Clock.SeqID, &r.Clock.TraceFileID,
			&name, &r.ClockValue, &r.SnapshotID, &r.MachineID); err != nil {
			return nil, err
		}
		r.ClockName = name.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Conversion errors
// ---------------------------------------------------------------------------

// InsertConversionError records a failed conversion.
func (s *Store) InsertConversionError(machineID uint32, cerr *clocksync.ConversionError) error {
	_, err := s.db.Exec(
		`INSERT INTO conversion_error
		 (session_id, machine_id, kind, src_clock, target_clock, src_ts, byte_offset, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, machineID, cerr.Kind.String(), cerr.Src.String(), cerr.Target.String(),
		cerr.SrcTimestamp, cerr.ByteOffset, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert conversion error: %w", err)
	}
	return nil
}

// CountConversionErrors returns the number of errors of the session, per kind.
func (s *Store) CountConversionErrors() (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT kind, COUNT(*) FROM conversion_error WHERE session_id = ? GROUP BY kind`, s.sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
