package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/results"
)

var resultsCmd = &cobra.Command{
	Use:   "results <results.jsonl>",
	Short: "Summarize a results file",
	Long: `Read the outcome records of a results file and print them grouped by job.
Use "-" to read from stdin.

Examples:
  rasterbench results reports/runs/<run_id>/results.jsonl
  rasterbench results results.jsonl --failed
  rasterbench run --output stdout | rasterbench results -`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

var (
	resultsJSON   bool
	resultsFailed bool
)

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Output as JSON, one object per job")
	resultsCmd.Flags().BoolVar(&resultsFailed, "failed", false, "Only show failed outcomes")
}

func runResults(_ *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "Failed to open results file", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	outcomes, err := output.ReadOutcomes(r)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read results", err)
	}
	if resultsFailed {
		outcomes = failedOnly(outcomes)
	}
	set := results.NewSet(outcomes)

	if resultsJSON {
		return writeResultsJSON(os.Stdout, set)
	}
	printResults(os.Stdout, set)
	return nil
}

func failedOnly(outcomes []results.Outcome) []results.Outcome {
	var out []results.Outcome
	for _, o := range outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// printResults writes one block per job, in job order.
func printResults(w io.Writer, set *results.Set) {
	if set.Len() == 0 {
		_, _ = fmt.Fprintln(w, "No outcomes found")
		return
	}

	succeeded := 0
	it := set.Iterator()
	for {
		job, outcomes, ok := it.Next()
		if !ok {
			break
		}
		_, _ = fmt.Fprintf(w, "%s\n", job)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "  BACKEND\tMODE\tRESULT\tTIME\tDETAIL")
		for _, o := range outcomes {
			result, detail := "ok", o.File
			if o.Failed() {
				result, detail = o.ErrorCode, o.Error
			} else {
				succeeded++
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", o.Backend, modeOrDash(o), result, formatSeconds(o.TimeToResultSeconds), detail)
		}
		_ = tw.Flush()
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "%d outcomes, %d succeeded, %d failed\n", set.Len(), succeeded, set.Len()-succeeded)
}

func writeResultsJSON(w io.Writer, set *results.Set) error {
	type jobJSON struct {
		Job      string                  `json:"job"`
		Outcomes []*output.OutcomeRecord `json:"outcomes"`
	}

	docs := []jobJSON{}
	it := set.Iterator()
	for {
		job, outcomes, ok := it.Next()
		if !ok {
			break
		}
		doc := jobJSON{Job: job}
		for _, o := range outcomes {
			doc.Outcomes = append(doc.Outcomes, output.NewOutcomeRecord(o))
		}
		docs = append(docs, doc)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

func modeOrDash(o results.Outcome) string {
	if o.Mode == "" {
		return "-"
	}
	return o.Mode.String()
}

// formatSeconds renders a time to result; failed attempts have none.
func formatSeconds(s float64) string {
	if math.IsInf(s, 0) || math.IsNaN(s) {
		return "-"
	}
	return fmt.Sprintf("%.1fs", s)
}
