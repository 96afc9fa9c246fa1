package history

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RotationConfig controls auto-rotation of history entries.
type RotationConfig struct {
	Retention   time.Duration // runs older than this are archived
	ArchiveDir  string        // directory for zip archives
	ThrottleDir string        // directory for .last-rotation marker
}

// RotationFor returns the rotation layout used next to a history database:
// archives go to <dir>/archives and the throttle marker lives in <dir>.
func RotationFor(dbPath string, retention time.Duration) RotationConfig {
	dir := filepath.Dir(dbPath)
	return RotationConfig{
		Retention:   retention,
		ArchiveDir:  filepath.Join(dir, "archives"),
		ThrottleDir: dir,
	}
}

// ArchiveInfo describes a single history archive file.
type ArchiveInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// MaybeRotate exports old runs to a zip archive and prunes them from the DB.
// It runs at most once per hour. Errors are logged, never returned; a merge
// must not fail because its history could not be rotated.
func MaybeRotate(db *sql.DB, cfg RotationConfig, logger *slog.Logger) {
	if db == nil || cfg.Retention <= 0 {
		return
	}

	markerPath := filepath.Join(cfg.ThrottleDir, ".last-rotation")
	if !shouldRotate(markerPath) {
		logger.Debug("rotation throttled")
		return
	}

	// Touch first so a failing rotation is not retried on every run.
	touchMarker(markerPath, logger)

	cutoff := time.Now().UTC().Add(-cfg.Retention)

	runs, err := exportRuns(db, cutoff)
	if err != nil {
		logger.Warn("rotation: export runs failed", "err", err)
		return
	}
	if len(runs) == 0 {
		logger.Debug("rotation: no runs to archive")
		return
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		logger.Warn("rotation: create archive dir", "err", err)
		return
	}

	archiveName := fmt.Sprintf("history-%s.zip", time.Now().UTC().Format("20060102T150405Z"))
	archivePath := filepath.Join(cfg.ArchiveDir, archiveName)

	if err := writeArchive(archivePath, runs); err != nil {
		logger.Warn("rotation: write archive failed", "err", err)
		return
	}

	pruned, err := PruneBefore(db, cutoff)
	if err != nil {
		logger.Warn("rotation: prune failed (archive already written)", "err", err)
		return
	}

	logger.Info("rotation complete",
		"archived", len(runs),
		"pruned", pruned,
		"archive", archivePath,
	)
}

// shouldRotate returns true if the marker file does not exist or is older than 1 hour.
func shouldRotate(markerPath string) bool {
	info, err := os.Stat(markerPath)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) >= time.Hour
}

func touchMarker(path string, logger *slog.Logger) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("rotation: create throttle dir", "err", err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("rotation: touch marker", "err", err)
		return
	}
	if err := f.Close(); err != nil {
		logger.Warn("rotation: close marker", "err", err)
	}
}

// exportRuns loads runs older than cutoff, oldest first, with their matches.
func exportRuns(db *sql.DB, cutoff time.Time) ([]Run, error) {
	rows, err := db.Query(
		"SELECT id FROM merge_runs WHERE timestamp < ? ORDER BY timestamp ASC",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query old run IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run IDs: %w", err)
	}

	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		r, err := GetRun(db, id)
		if err != nil {
			return nil, fmt.Errorf("get run %d: %w", id, err)
		}
		runs = append(runs, *r)
	}

	return runs, nil
}

// writeArchive writes runs as history.json inside a zip archive, via a temp
// file renamed into place.
func writeArchive(path string, runs []Run) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}

	fail := func(format string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf(format, err)
	}

	zw := zip.NewWriter(f)

	w, err := zw.Create("history.json")
	if err != nil {
		return fail("create zip entry: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		return fail("encode runs: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fail("close zip writer: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp archive: %w", err)
	}

	return nil
}

// ListArchives returns archive files in the given directory, sorted by modification time (newest first).
func ListArchives(archiveDir string) ([]ArchiveInfo, error) {
	dirEntries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var archives []ArchiveInfo
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".zip") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Path:    filepath.Join(archiveDir, de.Name()),
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ModTime.After(archives[j].ModTime)
	})

	return archives, nil
}
