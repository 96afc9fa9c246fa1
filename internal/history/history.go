package history

import "time"

// Outcome constants for Run.
const (
	OutcomeSuccess     = "success"
	OutcomeMissingFile = "missing_file"
	OutcomeParseError  = "parse_error"
	OutcomeSchemaError = "schema_error"
	OutcomeError       = "error"
)

// Recorder stores merge runs.
type Recorder interface {
	RecordRun(run Run) error
	Close() error
}

// Run represents one merge invocation.
type Run struct {
	ID             int64
	Timestamp      time.Time
	OfficialPath   string
	CandidatePath  string
	OutputPath     string
	OfficialCount  int
	CandidateCount int
	UniqueKeys     int
	Replaced       int
	Outcome        string // success|missing_file|parse_error|schema_error|error
	Reason         string
	DurationMs     int64
	Matches        []MatchRow
}

// MatchRow is one replaced record within a run. Nil values were absent or
// not numeric in the source file.
type MatchRow struct {
	ID          int64
	RunID       int64
	RecordIndex int
	HW          string
	TP          float64
	Conc        float64
	OldTput     *float64
	NewTput     *float64
	OldIntvty   *float64
	NewIntvty   *float64
}

// Stats holds aggregate statistics from the history database.
type Stats struct {
	TotalRuns      int64
	CountByOutcome map[string]int64
	AvgDurationMs  float64
	AvgReplaced    float64
	OldestEntry    time.Time
	NewestEntry    time.Time
}

// TruncateReason truncates s to max bytes, appending "..." if truncated.
func TruncateReason(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
