package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/rasterbench/pkg/runregistry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run records",
	Long: `Every run writes a record under <reports>/runs/<run_id>/run.json. These
commands list and show those records.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run (a unique id prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().String("reports", "", "Reports root")
	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runsStore(cmd *cobra.Command) (*runregistry.Store, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, err
	}
	return runregistry.NewStore(filepath.Join(cfg.Jobs.ReportsRoot, "runs")), nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := runsStore(cmd)
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list runs", err)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs found")
		return nil
	}

	if jsonOutput {
		return encodeJSON(os.Stdout, runs)
	}
	printRunRecords(os.Stdout, runs)
	return nil
}

func printRunRecords(w io.Writer, runs []runregistry.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "RUN ID\tSTATE\tSTARTED\tENDED\tTASKS\tOK\tFAILED\tJOB ROOT")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortRunID(r.RunID),
			r.State,
			formatOptionalTime(r.StartedAt),
			formatOptionalTime(r.EndedAt),
			r.Counts.Planned,
			r.Counts.Succeeded,
			r.Counts.Failed,
			r.JobRoot,
		)
	}
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return exitError(foundry.ExitInvalidArgument, "run_id is required", errors.New("empty run id"))
	}

	store, err := runsStore(cmd)
	if err != nil {
		return err
	}
	resolved, err := resolveRunID(store, runID)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Run not found", err)
	}
	rec, err := store.Get(resolved)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read run", err)
	}

	if jsonOutput {
		return encodeJSON(os.Stdout, rec)
	}
	printRunRecord(os.Stdout, rec)
	return nil
}

func printRunRecord(w io.Writer, rec *runregistry.RunRecord) {
	_, _ = fmt.Fprintf(w, "run_id=%s\n", rec.RunID)
	_, _ = fmt.Fprintf(w, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(w, "job_root=%s\n", rec.JobRoot)
	_, _ = fmt.Fprintf(w, "providers_path=%s\n", rec.ProvidersPath)
	if rec.SelectedJob != "" {
		_, _ = fmt.Fprintf(w, "selected_job=%s\n", rec.SelectedJob)
	}
	if rec.ResultsPath != "" {
		_, _ = fmt.Fprintf(w, "results_path=%s\n", rec.ResultsPath)
	}
	if rec.Offline {
		_, _ = fmt.Fprintln(w, "offline=true")
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(w, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	c := rec.Counts
	_, _ = fmt.Fprintf(w, "counts=planned:%d attempted:%d succeeded:%d failed:%d skipped:%d cancelled:%d\n",
		c.Planned, c.Attempted, c.Succeeded, c.Failed, c.Skipped, c.Cancelled)
	if rec.Error != "" {
		_, _ = fmt.Fprintf(w, "error=%s\n", rec.Error)
	}
}

// resolveRunID accepts a full id or a unique prefix.
func resolveRunID(store *runregistry.Store, id string) (string, error) {
	if _, err := store.Get(id); err == nil {
		return id, nil
	}
	runs, err := store.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, id) {
			matches = append(matches, r.RunID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", runregistry.ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run id prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortRunID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
