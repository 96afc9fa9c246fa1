package merge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fuabioo/bench-merge/internal/record"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	return path
}

const (
	officialJSON = `[
  {"hw": "H100", "tp": 1, "conc": 8, "tput_per_gpu": 10.0, "median_intvty": 5.0},
  {"hw": "H200", "tp": 2, "conc": 16, "tput_per_gpu": 20.0, "median_intvty": 6.0}
]`
	candidateJSON = `[{"hw": "H100", "tp": 1, "conc": 8, "tput_per_gpu": 12.5, "median_intvty": 4.2}]`
)

func TestRunWritesOutputAndReport(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Official:  writeFile(t, dir, "official.json", officialJSON),
		Candidate: writeFile(t, dir, "candidate.json", candidateJSON),
		Output:    filepath.Join(dir, "out", "merged.json"),
	}

	var buf bytes.Buffer
	res, err := Run(context.Background(), opts, &buf, testLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Replaced() != 1 {
		t.Errorf("Replaced() = %d, want 1", res.Replaced())
	}
	if res.Output != opts.Output {
		t.Errorf("Output = %q, want %q", res.Output, opts.Output)
	}

	data, err := os.ReadFile(opts.Output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `[
  {
    "hw": "H100",
    "tp": 1,
    "conc": 8,
    "tput_per_gpu": 12.5,
    "median_intvty": 4.2
  },
  {
    "hw": "H200",
    "tp": 2,
    "conc": 16,
    "tput_per_gpu": 20.0,
    "median_intvty": 6.0
  }
]
`
	if string(data) != want {
		t.Errorf("output =\n%s\nwant\n%s", data, want)
	}

	// Official file is untouched when an output path is given.
	orig, err := os.ReadFile(opts.Official)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(orig) != officialJSON {
		t.Error("official file was modified")
	}

	report := buf.String()
	for _, s := range []string{
		"Loading official data from: " + opts.Official,
		"  Loaded 2 records",
		"  Loaded 1 records",
		"Created lookup table with 1 unique (hw, tp, conc) combinations",
		"Records replaced: 1",
		"  Record 0: hw=H100, tp=1, conc=8",
		"    tput_per_gpu: 10.00 -> 12.50",
		"    median_intvty: 5.00 -> 4.20",
		"Saving updated data to: " + opts.Output,
		"✓ Successfully saved updated data",
	} {
		if !strings.Contains(report, s) {
			t.Errorf("report missing %q\n%s", s, report)
		}
	}
}

func TestRunInPlace(t *testing.T) {
	dir := t.TempDir()
	official := writeFile(t, dir, "official.json", officialJSON)
	opts := Options{
		Official:  official,
		Candidate: writeFile(t, dir, "candidate.json", candidateJSON),
	}

	if _, err := Run(context.Background(), opts, io.Discard, testLogger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := LoadFile(official)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m := got[0].Metric(record.FieldTput); m.Value != 12.5 {
		t.Errorf("tput_per_gpu = %v, want 12.5", m.Value)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Official:  writeFile(t, dir, "official.json", officialJSON),
		Candidate: writeFile(t, dir, "candidate.json", candidateJSON),
		Output:    filepath.Join(dir, "merged.json"),
	}

	if _, err := Run(context.Background(), opts, io.Discard, testLogger()); err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	first, err := os.ReadFile(opts.Output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, err := Run(context.Background(), opts, io.Discard, testLogger()); err != nil {
		t.Fatalf("Run 2: %v", err)
	}
	second, err := os.ReadFile(opts.Output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("second run produced different output")
	}
}

func TestRunMissingFile(t *testing.T) {
	dir := t.TempDir()
	official := writeFile(t, dir, "official.json", officialJSON)

	tests := []struct {
		name     string
		opts     Options
		wantRole string
	}{
		{"official", Options{Official: filepath.Join(dir, "nope.json"), Candidate: official}, RoleOfficial},
		{"candidate", Options{Official: official, Candidate: filepath.Join(dir, "nope.json")}, RoleCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := Run(context.Background(), tt.opts, &buf, testLogger())
			var mfe *MissingFileError
			if !errors.As(err, &mfe) {
				t.Fatalf("Run error = %v, want *MissingFileError", err)
			}
			if mfe.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", mfe.Role, tt.wantRole)
			}
			if buf.Len() != 0 {
				t.Errorf("report written before pre-flight check: %q", buf.String())
			}
		})
	}
}

func TestRunFailuresDoNotWrite(t *testing.T) {
	tests := []struct {
		name      string
		official  string
		candidate string
		check     func(error) bool
	}{
		{
			name:      "malformed official",
			official:  `[{"hw":`,
			candidate: candidateJSON,
			check:     func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:      "candidate not an array",
			official:  officialJSON,
			candidate: `{"hw":"H100"}`,
			check:     func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:      "official record without tp",
			official:  `[{"hw":"H100","conc":8}]`,
			candidate: candidateJSON,
			check:     func(err error) bool { var se *SchemaError; return errors.As(err, &se) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			opts := Options{
				Official:  writeFile(t, dir, "official.json", tt.official),
				Candidate: writeFile(t, dir, "candidate.json", tt.candidate),
				Output:    filepath.Join(dir, "merged.json"),
			}
			_, err := Run(context.Background(), opts, io.Discard, testLogger())
			if err == nil || !tt.check(err) {
				t.Fatalf("Run error = %v, wrong type", err)
			}
			if _, err := os.Stat(opts.Output); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("output exists after failed run (stat err = %v)", err)
			}
		})
	}
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Official:  writeFile(t, dir, "official.json", officialJSON),
		Candidate: writeFile(t, dir, "candidate.json", candidateJSON),
		Output:    filepath.Join(dir, "merged.json"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, opts, io.Discard, testLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(opts.Output); !errors.Is(err, os.ErrNotExist) {
		t.Error("output written after cancellation")
	}
}

func TestSaveFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "out.json", "stale contents that are longer than the new ones")

	rs := records(t, `[{"hw":"<A&B>","tp":1,"conc":1}]`)
	if err := SaveFile(path, rs); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "[\n  {\n    \"hw\": \"<A&B>\",\n    \"tp\": 1,\n    \"conc\": 1\n  }\n]\n"
	if string(data) != want {
		t.Errorf("SaveFile wrote %q, want %q", data, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestSaveFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := SaveFile(path, nil); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[]\n" {
		t.Errorf("SaveFile(nil) wrote %q, want %q", data, "[]\n")
	}
}

func TestWriteSummaryNoMatches(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, Result{OfficialCount: 3, CandidateCount: 2})
	out := buf.String()
	if !strings.Contains(out, "Records replaced: 0") {
		t.Errorf("summary missing replaced count:\n%s", out)
	}
	if strings.Contains(out, "Matched records:") {
		t.Errorf("summary lists matches when there are none:\n%s", out)
	}
}

func TestWriteCompletion(t *testing.T) {
	var buf bytes.Buffer
	WriteCompletion(&buf, Options{Official: "a.json", Output: "b.json"}, Result{Matches: make([]Match, 3)})
	out := buf.String()
	for _, s := range []string{
		"✓ Merge complete! 3 records were updated.",
		"✓ Output saved to: b.json",
		"cp b.json a.json",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("completion missing %q:\n%s", s, out)
		}
	}

	buf.Reset()
	WriteCompletion(&buf, Options{Official: "a.json"}, Result{})
	if strings.Contains(buf.String(), "cp ") {
		t.Errorf("in-place completion suggests a copy:\n%s", buf.String())
	}
}
