package history

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = "id, timestamp, official_path, candidate_path, output_path, official_count, candidate_count, unique_keys, replaced, outcome, reason, duration_ms"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var tsStr string
	if err := s.Scan(&r.ID, &tsStr, &r.OfficialPath, &r.CandidatePath, &r.OutputPath,
		&r.OfficialCount, &r.CandidateCount, &r.UniqueKeys, &r.Replaced,
		&r.Outcome, &r.Reason, &r.DurationMs); err != nil {
		return Run{}, err
	}
	ts, err := time.Parse(timeLayout, tsStr)
	if err != nil {
		return Run{}, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
	}
	r.Timestamp = ts
	return r, nil
}

// ListRuns returns merge runs with optional filtering by outcome and official path.
// Results are ordered by timestamp descending (newest first).
func ListRuns(db *sql.DB, limit, offset int, filterOutcome, filterOfficial string) ([]Run, error) {
	if db == nil {
		return nil, fmt.Errorf("history: ListRuns called with nil db")
	}

	query := "SELECT " + runColumns + " FROM merge_runs WHERE 1=1"
	var args []any

	if filterOutcome != "" {
		query += " AND outcome = ?"
		args = append(args, filterOutcome)
	}
	if filterOfficial != "" {
		query += " AND official_path = ?"
		args = append(args, filterOfficial)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate run rows: %w", err)
	}

	return runs, nil
}

// GetRun returns a single run by ID, including its matches.
func GetRun(db *sql.DB, id int64) (*Run, error) {
	if db == nil {
		return nil, fmt.Errorf("history: GetRun called with nil db")
	}

	r, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM merge_runs WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("history: get run %d: %w", id, err)
	}

	rows, err := db.Query(
		"SELECT id, run_id, record_index, hw, tp, conc, old_tput, new_tput, old_intvty, new_intvty FROM run_matches WHERE run_id = ? ORDER BY record_index",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("history: get matches for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m MatchRow
		var oldTput, newTput, oldIntvty, newIntvty sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.RunID, &m.RecordIndex, &m.HW, &m.TP, &m.Conc,
			&oldTput, &newTput, &oldIntvty, &newIntvty); err != nil {
			return nil, fmt.Errorf("history: scan match: %w", err)
		}
		m.OldTput = floatPtr(oldTput)
		m.NewTput = floatPtr(newTput)
		m.OldIntvty = floatPtr(oldIntvty)
		m.NewIntvty = floatPtr(newIntvty)
		r.Matches = append(r.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate matches: %w", err)
	}

	return &r, nil
}

// Tail returns the last n runs ordered by timestamp descending (newest first).
func Tail(db *sql.DB, n int) ([]Run, error) {
	return ListRuns(db, n, 0, "", "")
}

// Prune deletes runs (and their matches) older than the given duration.
// Returns the number of runs deleted.
func Prune(db *sql.DB, olderThan time.Duration) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("history: Prune called with nil db")
	}
	return PruneBefore(db, time.Now().UTC().Add(-olderThan))
}

// PruneBefore deletes runs (and their matches) recorded before cutoff.
// Returns the number of runs deleted.
func PruneBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("history: PruneBefore called with nil db")
	}

	cutoffStr := cutoff.UTC().Format(timeLayout)

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("history: begin prune transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Matches reference runs, so they go first.
	_, err = tx.Exec(
		"DELETE FROM run_matches WHERE run_id IN (SELECT id FROM merge_runs WHERE timestamp < ?)",
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("history: prune matches: %w", err)
	}

	result, err := tx.Exec("DELETE FROM merge_runs WHERE timestamp < ?", cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("history: prune runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit prune: %w", err)
	}

	return count, nil
}

// GetStats returns aggregate statistics from the history database.
func GetStats(db *sql.DB) (*Stats, error) {
	if db == nil {
		return nil, fmt.Errorf("history: GetStats called with nil db")
	}

	stats := &Stats{
		CountByOutcome: make(map[string]int64),
	}

	err := db.QueryRow("SELECT COALESCE(COUNT(*), 0), COALESCE(AVG(duration_ms), 0), COALESCE(AVG(replaced), 0) FROM merge_runs").
		Scan(&stats.TotalRuns, &stats.AvgDurationMs, &stats.AvgReplaced)
	if err != nil {
		return nil, fmt.Errorf("history: stats totals: %w", err)
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM merge_runs").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("history: stats min/max timestamp: %w", err)
	}

	oldest, err := time.Parse(timeLayout, oldestStr)
	if err != nil {
		return nil, fmt.Errorf("history: parse oldest timestamp %q: %w", oldestStr, err)
	}
	stats.OldestEntry = oldest

	newest, err := time.Parse(timeLayout, newestStr)
	if err != nil {
		return nil, fmt.Errorf("history: parse newest timestamp %q: %w", newestStr, err)
	}
	stats.NewestEntry = newest

	rows, err := db.Query("SELECT outcome, COUNT(*) FROM merge_runs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("history: stats by outcome: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("history: scan outcome count: %w", err)
		}
		stats.CountByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate outcome rows: %w", err)
	}

	return stats, nil
}
