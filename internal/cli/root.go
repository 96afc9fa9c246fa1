package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/bench-merge/internal/config"
	"github.com/Fuabioo/bench-merge/internal/history"
	"github.com/Fuabioo/bench-merge/internal/merge"
	"github.com/Fuabioo/bench-merge/internal/record"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("BENCH_MERGE_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bench-merge",
		Short: "Merge candidate benchmark metrics into official benchmark data",
		Long: `Merge candidate benchmark metrics into official benchmark data.

Records are matched on (hw, tp, conc). For every official record with a
matching candidate record, tput_per_gpu and median_intvty are replaced with
the candidate's values. All other fields and the record order are kept.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	root.PersistentFlags().String("config", "", "path to config file (default: auto-detected)")
	addPathFlags(root)
	root.Flags().Bool("in-place", false, "overwrite the official file instead of writing --output")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

func addPathFlags(cmd *cobra.Command) {
	cmd.Flags().String("official", "", "official benchmark JSON (default: "+config.DefaultOfficial+")")
	cmd.Flags().String("candidate", "", "candidate benchmark JSON (default: "+config.DefaultCandidate+")")
	cmd.Flags().String("output", "", "merged output JSON (default: "+config.DefaultOutput+")")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "bench-merge: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads --config when given, otherwise searches the standard locations.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid --config: %w", err)
	}
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// resolveOptions layers flags over the config file over the defaults.
func resolveOptions(cmd *cobra.Command, cfg config.Config) (merge.Options, error) {
	paths := cfg.Paths()
	opts := merge.Options{
		Official:  paths.Official,
		Candidate: paths.Candidate,
		Output:    paths.Output,
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"official", &opts.Official},
		{"candidate", &opts.Candidate},
		{"output", &opts.Output},
	} {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		v, err := cmd.Flags().GetString(f.name)
		if err != nil {
			return merge.Options{}, fmt.Errorf("invalid --%s: %w", f.name, err)
		}
		*f.dst = v
	}

	if cmd.Flags().Lookup("in-place") != nil {
		inPlace, err := cmd.Flags().GetBool("in-place")
		if err != nil {
			return merge.Options{}, fmt.Errorf("invalid --in-place: %w", err)
		}
		if inPlace {
			if cmd.Flags().Changed("output") {
				return merge.Options{}, errors.New("--in-place and --output are mutually exclusive")
			}
			opts.Output = ""
		}
	}

	return opts, nil
}

// runRoot is the default command: merge candidate metrics into the official data.
func runRoot(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bench-merge: config error: %v\n", err)
		return &exitError{code: 2}
	}

	opts, err := resolveOptions(cmd, cfg)
	if err != nil {
		return err
	}

	// History is fail-open: errors are logged and never fail the merge.
	var recorder history.Recorder
	if cfg.HistoryEnabled() {
		dbPath := cfg.HistoryDBPath()
		if dbPath == "" {
			dbPath = history.DefaultDBPath()
		}
		r, err := history.Open(dbPath)
		if err != nil {
			logger.Warn("failed to open history db, continuing without history", "err", err)
		} else {
			recorder = r
			defer r.Close()
			defer rotateHistory(r, dbPath, cfg, logger)
		}
	}

	logger.Debug("resolved paths",
		"official", opts.Official,
		"candidate", opts.Candidate,
		"output", opts.OutputPath())

	start := time.Now()
	res, err := merge.Run(cmd.Context(), opts, cmd.OutOrStdout(), logger)
	recordHistory(recorder, opts, res, err, start, logger)

	if err != nil {
		var missing *merge.MissingFileError
		if errors.As(err, &missing) {
			fmt.Fprintf(cmd.OutOrStdout(), "Error: %v\n", missing)
			return &exitError{code: 1}
		}
		return err
	}

	merge.WriteCompletion(cmd.OutOrStdout(), opts, res)
	return nil
}

// recordHistory stores one run. Failures are logged only.
func recordHistory(recorder history.Recorder, opts merge.Options, res merge.Result, runErr error, start time.Time, logger *slog.Logger) {
	if recorder == nil {
		return
	}

	run := history.Run{
		Timestamp:      start.UTC(),
		OfficialPath:   opts.Official,
		CandidatePath:  opts.Candidate,
		OutputPath:     opts.OutputPath(),
		OfficialCount:  res.OfficialCount,
		CandidateCount: res.CandidateCount,
		UniqueKeys:     res.UniqueKeys,
		Outcome:        outcomeOf(runErr),
		DurationMs:     time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		run.Reason = runErr.Error()
	} else {
		run.Replaced = res.Replaced()
		run.Matches = make([]history.MatchRow, 0, len(res.Matches))
		for _, m := range res.Matches {
			run.Matches = append(run.Matches, history.MatchRow{
				RecordIndex: m.Index,
				HW:          m.Key.HW,
				TP:          m.Key.TP,
				Conc:        m.Key.Conc,
				OldTput:     m.OldTput.Ptr(),
				NewTput:     m.NewTput.Ptr(),
				OldIntvty:   m.OldIntvty.Ptr(),
				NewIntvty:   m.NewIntvty.Ptr(),
			})
		}
	}

	if err := recorder.RecordRun(run); err != nil {
		logger.Warn("failed to record history", "err", err)
	}
}

func outcomeOf(err error) string {
	var (
		missing *merge.MissingFileError
		parse   *merge.ParseError
		schema  *record.SchemaError
	)
	switch {
	case err == nil:
		return history.OutcomeSuccess
	case errors.As(err, &missing):
		return history.OutcomeMissingFile
	case errors.As(err, &parse):
		return history.OutcomeParseError
	case errors.As(err, &schema):
		return history.OutcomeSchemaError
	default:
		return history.OutcomeError
	}
}

func rotateHistory(r *history.SQLiteRecorder, dbPath string, cfg config.Config, logger *slog.Logger) {
	retention, err := cfg.Retention()
	if err != nil {
		logger.Warn("invalid history retention, skipping rotation", "err", err)
		return
	}
	history.MaybeRotate(r.DB(), history.RotationFor(dbPath, retention), logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bench-merge %s (%s)\n", Version, Commit)
		},
	}
}
