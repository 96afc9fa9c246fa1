package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Options names the files a merge reads and writes.
type Options struct {
	Official  string
	Candidate string
	Output    string // empty means overwrite Official
}

// OutputPath returns Output, or Official when Output is unset.
func (o Options) OutputPath() string {
	if o.Output == "" {
		return o.Official
	}
	return o.Output
}

// Run loads both collections, merges candidate metrics into the official
// records, prints a report to w and saves the result. Nothing is written to
// the output path unless every earlier step succeeded.
func Run(ctx context.Context, opts Options, w io.Writer, logger *slog.Logger) (Result, error) {
	if err := CheckInputs(opts); err != nil {
		return Result{}, err
	}

	reportLoading(w, RoleOfficial, opts.Official)
	official, err := LoadFile(opts.Official)
	if err != nil {
		return Result{}, err
	}
	reportLoaded(w, len(official))

	fmt.Fprintln(w)
	reportLoading(w, RoleCandidate, opts.Candidate)
	candidate, err := LoadFile(opts.Candidate)
	if err != nil {
		return Result{}, err
	}
	reportLoaded(w, len(candidate))

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("merge: %w", err)
	}

	res, err := Merge(official, candidate)
	if err != nil {
		return Result{}, err
	}
	res.Output = opts.OutputPath()

	logger.Debug("merged collections",
		"official", res.OfficialCount,
		"candidate", res.CandidateCount,
		"unique_keys", res.UniqueKeys,
		"replaced", res.Replaced())

	fmt.Fprintf(w, "\nCreated lookup table with %d unique (hw, tp, conc) combinations\n", res.UniqueKeys)
	WriteSummary(w, res)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("merge: %w", err)
	}

	fmt.Fprintf(w, "Saving updated data to: %s\n", res.Output)
	if err := SaveFile(res.Output, res.Records); err != nil {
		return res, err
	}
	fmt.Fprintln(w, "✓ Successfully saved updated data")

	logger.Debug("saved merged data", "path", res.Output)
	return res, nil
}
