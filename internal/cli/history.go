package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/bench-merge/internal/config"
	"github.com/Fuabioo/bench-merge/internal/history"
	"github.com/Fuabioo/bench-merge/internal/record"
	_ "modernc.org/sqlite"
)

// resolveDBPath returns the history database path from --db, the config
// file, or the default.
func resolveDBPath(cmd *cobra.Command) string {
	if dbPath, err := cmd.Flags().GetString("db"); err == nil && dbPath != "" {
		return dbPath
	}
	if cfg, err := loadConfig(cmd); err == nil {
		if p := cfg.HistoryDBPath(); p != "" {
			return p
		}
	}
	return history.DefaultDBPath()
}

// openHistoryDBReadOnly opens an existing history DB for read-only queries.
// Returns a clear error if the DB doesn't exist.
func openHistoryDBReadOnly(cmd *cobra.Command) (*sql.DB, error) {
	dbPath := resolveDBPath(cmd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("history database not found at %s (is history enabled?)", dbPath)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on history db %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect history db %q: %w", dbPath, err)
	}
	return db, nil
}

// openHistoryDBWrite opens (or creates) the history DB for write operations.
// It returns the underlying *sql.DB, a cleanup function, and any error.
func openHistoryDBWrite(cmd *cobra.Command) (*sql.DB, func(), error) {
	r, err := history.Open(resolveDBPath(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}
	return r.DB(), func() { _ = r.Close() }, nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the merge run history",
	}
	cmd.PersistentFlags().String("db", "", "path to history database (default: auto-detected)")
	cmd.AddCommand(
		newHistoryListCmd(),
		newHistoryShowCmd(),
		newHistoryTailCmd(),
		newHistoryPruneCmd(),
		newHistoryStatsCmd(),
		newHistoryDBPathCmd(),
		newHistoryArchivesCmd(),
	)
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().Int("offset", 0, "skip N entries")
	cmd.Flags().String("outcome", "", "filter by outcome")
	cmd.Flags().String("official", "", "filter by official file path")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("invalid --limit: %w", err)
	}
	offset, err := cmd.Flags().GetInt("offset")
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	outcome, err := cmd.Flags().GetString("outcome")
	if err != nil {
		return fmt.Errorf("invalid --outcome: %w", err)
	}
	official, err := cmd.Flags().GetString("official")
	if err != nil {
		return fmt.Errorf("invalid --official: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := history.ListRuns(db, limit, offset, outcome, official)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	return printRunTable(cmd.OutOrStdout(), runs)
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show details of a merge run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	run, err := history.GetRun(db, id)
	if err != nil {
		return fmt.Errorf("get run %d: %w", id, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, run)
	}

	fmt.Fprintf(out, "Run #%d\n", run.ID)
	fmt.Fprintf(out, "  Timestamp:  %s\n", run.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  Official:   %s (%d records)\n", run.OfficialPath, run.OfficialCount)
	fmt.Fprintf(out, "  Candidate:  %s (%d records, %d unique keys)\n", run.CandidatePath, run.CandidateCount, run.UniqueKeys)
	fmt.Fprintf(out, "  Output:     %s\n", run.OutputPath)
	fmt.Fprintf(out, "  Replaced:   %d\n", run.Replaced)
	fmt.Fprintf(out, "  Outcome:    %s\n", run.Outcome)
	if run.Reason != "" {
		fmt.Fprintf(out, "  Reason:     %s\n", run.Reason)
	}
	fmt.Fprintf(out, "  Duration:   %dms\n", run.DurationMs)

	if len(run.Matches) > 0 {
		fmt.Fprintf(out, "\n  Matches:\n")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  IDX\tHW\tTP\tCONC\tTPUT_PER_GPU\tMEDIAN_INTVTY")
		for _, m := range run.Matches {
			_, _ = fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s -> %s\t%s -> %s\n",
				m.RecordIndex, m.HW,
				record.FormatNumber(m.TP), record.FormatNumber(m.Conc),
				formatValue(m.OldTput), formatValue(m.NewTput),
				formatValue(m.OldIntvty), formatValue(m.NewIntvty))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush tabwriter: %w", err)
		}
	}

	return nil
}

func newHistoryTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show last N merge runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryTail,
	}
	cmd.Flags().Int("n", 10, "number of entries")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryTail(cmd *cobra.Command, _ []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := cmd.Flags().GetInt("n")
	if err != nil {
		return fmt.Errorf("invalid --n: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := history.Tail(db, n)
	if err != nil {
		return fmt.Errorf("tail: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	return printRunTable(cmd.OutOrStdout(), runs)
}

func newHistoryPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		Args:  cobra.NoArgs,
		RunE:  runHistoryPrune,
	}
	cmd.Flags().String("older-than", "", "delete entries older than duration (e.g., 7d, 24h, 30d)")
	if err := cmd.MarkFlagRequired("older-than"); err != nil {
		panic(fmt.Sprintf("mark --older-than required: %v", err))
	}
	return cmd
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	olderThanStr, err := cmd.Flags().GetString("older-than")
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}

	dur, err := config.ParseDuration(olderThanStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", olderThanStr, err)
	}

	db, cleanup, err := openHistoryDBWrite(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := history.Prune(db, dur)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d merge run(s).\n", count)
	return nil
}

func newHistoryStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show history statistics",
		Args:  cobra.NoArgs,
		RunE:  runHistoryStats,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	stats, err := history.GetStats(db)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Total runs:     %d\n", stats.TotalRuns)
	fmt.Fprintf(out, "Avg duration:   %.1fms\n", stats.AvgDurationMs)
	fmt.Fprintf(out, "Avg replaced:   %.1f\n", stats.AvgReplaced)

	if stats.TotalRuns > 0 {
		fmt.Fprintf(out, "Oldest entry:   %s\n", stats.OldestEntry.Format(time.RFC3339))
		fmt.Fprintf(out, "Newest entry:   %s\n", stats.NewestEntry.Format(time.RFC3339))
	}

	if len(stats.CountByOutcome) > 0 {
		fmt.Fprintf(out, "\nBy outcome:\n")
		for outcome, count := range stats.CountByOutcome {
			fmt.Fprintf(out, "  %-14s %d\n", outcome, count)
		}
	}

	return nil
}

func newHistoryDBPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-path",
		Short: "Print the history database path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveDBPath(cmd))
		},
	}
}

func newHistoryArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List history archive files",
		Args:  cobra.NoArgs,
		RunE:  runHistoryArchives,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryArchives(cmd *cobra.Command, _ []string) error {
	archiveDir := filepath.Join(filepath.Dir(resolveDBPath(cmd)), "archives")

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	archives, err := history.ListArchives(archiveDir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(archives) == 0 {
		fmt.Fprintln(out, "No archives found.")
		return nil
	}

	if asJSON {
		return printJSON(out, archives)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tDATE")
	for _, a := range archives {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			a.Name,
			formatSize(a.Size),
			a.ModTime.Format(time.RFC3339),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func formatValue(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// printRunTable outputs merge runs in a tabwriter table.
func printRunTable(out io.Writer, runs []history.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIMESTAMP\tOFFICIAL\tCANDIDATE\tREPLACED\tOUTCOME\tREASON\tDURATION")

	for _, r := range runs {
		reason := r.Reason
		if len(reason) > 40 {
			reason = reason[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%dms\n",
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			filepath.Base(r.OfficialPath),
			filepath.Base(r.CandidatePath),
			r.Replaced,
			r.OfficialCount,
			r.Outcome,
			reason,
			r.DurationMs,
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

// printJSON marshals v as indented JSON and writes it to out.
func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
