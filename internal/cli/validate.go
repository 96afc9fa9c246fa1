package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/bench-merge/internal/merge"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check both inputs can be loaded and keyed, without writing anything",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	addPathFlags(cmd)
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bench-merge: config error: %v\n", err)
		return &exitError{code: 2}
	}

	opts, err := resolveOptions(cmd, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if err := merge.CheckInputs(opts); err != nil {
		var missing *merge.MissingFileError
		if errors.As(err, &missing) {
			fmt.Fprintf(out, "Error: %v\n", missing)
			return &exitError{code: 1}
		}
		return err
	}

	official, err := merge.LoadFile(opts.Official)
	if err != nil {
		return err
	}
	candidate, err := merge.LoadFile(opts.Candidate)
	if err != nil {
		return err
	}

	lookup, dupes, err := merge.Index(candidate)
	if err != nil {
		return err
	}

	res, err := merge.Merge(official, candidate)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Official:   %s (%d records)\n", opts.Official, len(official))
	fmt.Fprintf(out, "Candidate:  %s (%d records, %d unique keys)\n", opts.Candidate, len(candidate), len(lookup))
	fmt.Fprintf(out, "Output:     %s\n", opts.OutputPath())
	fmt.Fprintf(out, "Would replace %d record(s).\n", res.Replaced())

	if len(dupes) > 0 {
		fmt.Fprintf(out, "\nDuplicate candidate keys (last occurrence wins):\n")
		for _, k := range dupes {
			fmt.Fprintf(out, "  %s\n", k)
		}
	}

	return nil
}
