package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/rasterbench/internal/observability"
	"github.com/3leaps/rasterbench/pkg/history"
	"github.com/3leaps/rasterbench/pkg/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query recorded outcomes across runs",
	Long: `Query the history database populated by 'run --history'.

Examples:
  rasterbench history --job 'europe-*'
  rasterbench history --backend VITO --failed
  rasterbench history --stats
  rasterbench history --runs`,
	RunE: runHistory,
}

var (
	historyRunID   string
	historyJob     string
	historyBackend string
	historyFailed  bool
	historyLimit   int
	historyStats   bool
	historyRuns    bool
	historyJSON    bool
)

func init() {
	rootCmd.AddCommand(historyCmd)

	f := historyCmd.Flags()
	f.String("history-db", "", "History database path")
	f.StringVar(&historyRunID, "run", "", "Only outcomes of this run")
	f.StringVar(&historyJob, "job", "", "Job identifier glob, e.g. 'europe-*' (with --stats: exact job)")
	f.StringVar(&historyBackend, "backend", "", "Only outcomes of this backend")
	f.BoolVar(&historyFailed, "failed", false, "Only failed outcomes")
	f.IntVar(&historyLimit, "limit", 100, "Maximum rows (0 = no limit)")
	f.BoolVar(&historyStats, "stats", false, "Show per-backend statistics instead of outcomes")
	f.BoolVar(&historyRuns, "runs", false, "List recorded runs instead of outcomes")
	f.BoolVar(&historyJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.History.Path); errors.Is(err, os.ErrNotExist) {
		return exitError(foundry.ExitFileNotFound, "History database not found", fmt.Errorf("%s (record runs with 'run --history')", cfg.History.Path))
	}

	store, err := history.Open(ctx, history.Config{Path: cfg.History.Path})
	if err != nil {
		observability.CLILogger.Error("Failed to open history database", zap.String("path", cfg.History.Path), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open history database", err)
	}
	defer func() { _ = store.Close() }()

	switch {
	case historyRuns:
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list runs", err)
		}
		if historyJSON {
			return encodeJSON(os.Stdout, runs)
		}
		printHistoryRuns(os.Stdout, runs)
	case historyStats:
		stats, err := store.BackendStats(ctx, historyJob)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to compute statistics", err)
		}
		if historyJSON {
			return encodeJSON(os.Stdout, statsJSON(stats))
		}
		printBackendStats(os.Stdout, stats)
	default:
		rows, err := store.QueryOutcomes(ctx, history.QueryParams{
			RunID:      historyRunID,
			JobPattern: historyJob,
			Backend:    historyBackend,
			FailedOnly: historyFailed,
			Limit:      historyLimit,
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to query history", err)
		}
		if historyJSON {
			return encodeJSON(os.Stdout, storedOutcomesJSON(rows))
		}
		printStoredOutcomes(os.Stdout, rows)
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHistoryRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tATTEMPTED\tSUCCEEDED\tFAILED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.RunID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.Attempted,
			r.Succeeded,
			r.Failed,
			duration,
		)
	}
}

func printBackendStats(w io.Writer, stats []history.BackendStats) {
	if len(stats) == 0 {
		_, _ = fmt.Fprintln(w, "No outcomes recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "BACKEND\tATTEMPTS\tSUCCESS RATE\tMEAN\tMIN\tMAX")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%s\t%s\t%s\n",
			s.Backend,
			s.Attempts,
			s.SuccessRate()*100,
			formatSeconds(s.MeanTimeToResult),
			formatSeconds(s.MinTimeToResult),
			formatSeconds(s.MaxTimeToResult),
		)
	}
}

func printStoredOutcomes(w io.Writer, rows []history.StoredOutcome) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "No outcomes found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "RECORDED\tJOB\tBACKEND\tRESULT\tTIME\tRUN")
	for _, r := range rows {
		result := "ok"
		if r.Outcome.Failed() {
			result = r.Outcome.ErrorCode
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RecordedAt.Format("2006-01-02 15:04:05"),
			r.Outcome.Job,
			r.Outcome.Backend,
			result,
			formatSeconds(r.Outcome.TimeToResultSeconds),
			r.RunID,
		)
	}
}

type backendStatsJSON struct {
	Backend     string   `json:"backend"`
	Attempts    int      `json:"attempts"`
	Successes   int      `json:"successes"`
	Failures    int      `json:"failures"`
	SuccessRate float64  `json:"success_rate"`
	Mean        *float64 `json:"mean_seconds"`
	Min         *float64 `json:"min_seconds"`
	Max         *float64 `json:"max_seconds"`
}

// statsJSON converts stats for encoding; JSON cannot carry +Inf so
// backends without successes have null timings.
func statsJSON(stats []history.BackendStats) []backendStatsJSON {
	finite := func(v float64) *float64 {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil
		}
		return &v
	}
	out := make([]backendStatsJSON, 0, len(stats))
	for _, s := range stats {
		out = append(out, backendStatsJSON{
			Backend:     s.Backend,
			Attempts:    s.Attempts,
			Successes:   s.Successes,
			Failures:    s.Failures,
			SuccessRate: s.SuccessRate(),
			Mean:        finite(s.MeanTimeToResult),
			Min:         finite(s.MinTimeToResult),
			Max:         finite(s.MaxTimeToResult),
		})
	}
	return out
}

type storedOutcomeJSON struct {
	RunID      string `json:"run_id"`
	RecordedAt string `json:"recorded_at"`
	*output.OutcomeRecord
}

func storedOutcomesJSON(rows []history.StoredOutcome) []storedOutcomeJSON {
	out := make([]storedOutcomeJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, storedOutcomeJSON{
			RunID:         r.RunID,
			RecordedAt:    r.RecordedAt.UTC().Format(time.RFC3339),
			OutcomeRecord: output.NewOutcomeRecord(r.Outcome),
		})
	}
	return out
}
