package merge

import (
	"fmt"
	"io"
	"strings"
)

var (
	heavyRule = strings.Repeat("=", 80)
	lightRule = strings.Repeat("-", 80)
)

func reportLoading(w io.Writer, role, path string) {
	fmt.Fprintf(w, "Loading %s data from: %s\n", role, path)
}

func reportLoaded(w io.Writer, n int) {
	fmt.Fprintf(w, "  Loaded %d records\n", n)
}

// WriteSummary prints record counts followed by the before and after values
// of every replaced record.
func WriteSummary(w io.Writer, res Result) {
	fmt.Fprintf(w, "\n%s\n", heavyRule)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintf(w, "Total records in official data: %d\n", res.OfficialCount)
	fmt.Fprintf(w, "Total records in candidate data: %d\n", res.CandidateCount)
	fmt.Fprintf(w, "Records replaced: %d\n", res.Replaced())
	fmt.Fprintln(w, heavyRule)

	if len(res.Matches) == 0 {
		return
	}

	fmt.Fprintln(w, "\nMatched records:")
	fmt.Fprintln(w, lightRule)
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  Record %d: %s\n", m.Index, m.Key)
		fmt.Fprintf(w, "    tput_per_gpu: %s -> %s\n", m.OldTput, m.NewTput)
		fmt.Fprintf(w, "    median_intvty: %s -> %s\n", m.OldIntvty, m.NewIntvty)
		fmt.Fprintln(w)
	}
}

// WriteCompletion prints the closing lines shown after a successful merge.
func WriteCompletion(w io.Writer, opts Options, res Result) {
	out := opts.OutputPath()
	fmt.Fprintf(w, "\n✓ Merge complete! %d records were updated.\n", res.Replaced())
	fmt.Fprintf(w, "✓ Output saved to: %s\n", out)
	if out == opts.Official {
		return
	}
	fmt.Fprintln(w, "\nTo use the merged data, you can:")
	fmt.Fprintf(w, "  1. Review the changes in: %s\n", out)
	fmt.Fprintf(w, "  2. If satisfied, replace the original: cp %s %s\n", out, opts.Official)
}
