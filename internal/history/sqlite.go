package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const maxReasonLen = 512

// timeLayout is the on-disk timestamp format. It sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000"

// SQLiteRecorder implements Recorder using a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS merge_runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f','now')),
    official_path   TEXT    NOT NULL,
    candidate_path  TEXT    NOT NULL,
    output_path     TEXT    NOT NULL DEFAULT '',
    official_count  INTEGER NOT NULL DEFAULT 0,
    candidate_count INTEGER NOT NULL DEFAULT 0,
    replaced        INTEGER NOT NULL DEFAULT 0,
    outcome         TEXT    NOT NULL,
    reason          TEXT    NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_matches (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       INTEGER NOT NULL REFERENCES merge_runs(id),
    record_index INTEGER NOT NULL,
    hw           TEXT    NOT NULL,
    tp           REAL    NOT NULL,
    conc         REAL    NOT NULL,
    old_tput     REAL,
    new_tput     REAL,
    old_intvty   REAL,
    new_intvty   REAL
);

CREATE INDEX IF NOT EXISTS idx_run_ts ON merge_runs(timestamp);
CREATE INDEX IF NOT EXISTS idx_match_run ON run_matches(run_id);
`

// DefaultDBPath returns the default history database path.
// It checks $BENCH_MERGE_HISTORY_DB, then $XDG_DATA_HOME/bench-merge/history.db,
// then falls back to ~/.local/share/bench-merge/history.db.
func DefaultDBPath() string {
	if p := os.Getenv("BENCH_MERGE_HISTORY_DB"); p != "" {
		return p
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "bench-merge", "history.db")
}

// Open opens (or creates) a SQLite history database at the given path.
// It runs the schema migration and configures WAL mode with a 5-second busy timeout.
func Open(dbPath string) (*SQLiteRecorder, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database %q: %w", dbPath, err)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"set WAL mode", func() error { _, err := db.Exec("PRAGMA journal_mode=WAL"); return err }},
		{"set busy_timeout", func() error { _, err := db.Exec("PRAGMA busy_timeout=5000"); return err }},
		{"create schema", func() error { _, err := db.Exec(schema); return err }},
		{"migrate", func() error { return migrate(db) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("history: %s: %w (also failed to close: %v)", step.name, err, closeErr)
			}
			return nil, fmt.Errorf("history: %s: %w", step.name, err)
		}
	}

	return &SQLiteRecorder{db: db}, nil
}

// migrate applies incremental schema migrations using PRAGMA user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version == 0 {
		exists, err := columnExists(db, "merge_runs", "unique_keys")
		if err != nil {
			return fmt.Errorf("check unique_keys column: %w", err)
		}
		if !exists {
			if _, err := db.Exec("ALTER TABLE merge_runs ADD COLUMN unique_keys INTEGER NOT NULL DEFAULT 0"); err != nil {
				return fmt.Errorf("add unique_keys column: %w", err)
			}
		}
		if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
			return fmt.Errorf("set user_version to 1: %w", err)
		}
	}

	return nil
}

// columnExists checks whether a column exists in the given table.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// DB returns the underlying *sql.DB for use with query helpers.
// Returns nil if the receiver is nil.
func (r *SQLiteRecorder) DB() *sql.DB {
	if r == nil {
		return nil
	}
	return r.db
}

// RecordRun inserts a run and its matches in a single transaction.
// Nil receiver is a no-op.
func (r *SQLiteRecorder) RecordRun(run Run) error {
	if r == nil {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ts := run.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := tx.Exec(
		`INSERT INTO merge_runs (timestamp, official_path, candidate_path, output_path, official_count, candidate_count, unique_keys, replaced, outcome, reason, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(timeLayout),
		run.OfficialPath,
		run.CandidatePath,
		run.OutputPath,
		run.OfficialCount,
		run.CandidateCount,
		run.UniqueKeys,
		run.Replaced,
		run.Outcome,
		TruncateReason(run.Reason, maxReasonLen),
		run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("history: insert merge_run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("history: get last insert id: %w", err)
	}

	for _, m := range run.Matches {
		_, err := tx.Exec(
			`INSERT INTO run_matches (run_id, record_index, hw, tp, conc, old_tput, new_tput, old_intvty, new_intvty)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			m.RecordIndex,
			m.HW,
			m.TP,
			m.Conc,
			nullFloat(m.OldTput),
			nullFloat(m.NewTput),
			nullFloat(m.OldIntvty),
			nullFloat(m.NewIntvty),
		)
		if err != nil {
			return fmt.Errorf("history: insert match for record %d: %w", m.RecordIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit transaction: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
// Nil receiver is a no-op.
func (r *SQLiteRecorder) Close() error {
	if r == nil {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("history: close database: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
