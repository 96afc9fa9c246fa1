package merge

import (
	"fmt"

	"github.com/Fuabioo/bench-merge/internal/record"
)

// Collection roles used in errors and reports.
const (
	RoleOfficial  = "official"
	RoleCandidate = "candidate"
)

// MissingFileError is returned before any processing when an input path does
// not exist.
type MissingFileError struct {
	Role string
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s data file not found: %s", e.Role, e.Path)
}

// ParseError is returned when an input cannot be read or is not a JSON array.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError is returned when a record cannot be keyed or merged.
type SchemaError = record.SchemaError
