package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Fuabioo/bench-merge/internal/record"
)

// CheckInputs verifies that both input paths exist, official first.
func CheckInputs(opts Options) error {
	for _, in := range []struct{ role, path string }{
		{RoleOfficial, opts.Official},
		{RoleCandidate, opts.Candidate},
	} {
		if _, err := os.Stat(in.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &MissingFileError{Role: in.role, Path: in.path}
			}
			return &ParseError{Path: in.path, Err: err}
		}
	}
	return nil
}

// LoadFile reads a JSON array of records. Read and decode failures are
// returned as *ParseError.
func LoadFile(path string) ([]record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	records, err := record.ParseArray(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return records, nil
}

// SaveFile writes records as a 2-space indented JSON array. The data goes to
// a temp file in the same directory which is then renamed over path, so a
// failed write never leaves a truncated file behind.
func SaveFile(path string, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("merge: encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("merge: create directory %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("merge: create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("merge: write temp file: %w", err)
	}

	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("merge: chmod temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("merge: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("merge: rename temp file: %w", err)
	}

	return nil
}
