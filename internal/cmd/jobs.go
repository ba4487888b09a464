package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/rasterbench/pkg/discover"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the work the job tree defines",
	Long: `Enumerate the job tree against the provider manifest and print one row per
(job, backend) pair: runnable tasks and the pairs that would be skipped.

Examples:
  rasterbench jobs
  rasterbench jobs --skips
  rasterbench jobs --json`,
	RunE: runJobs,
}

var (
	jobsJSON  bool
	jobsSkips bool
	jobsMock  bool

	jobsIncludes []string
	jobsExcludes []string
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	addTreeFlags(jobsCmd.Flags())
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output as JSON")
	jobsCmd.Flags().BoolVar(&jobsSkips, "skips", false, "Include skipped (job, backend) pairs")
	jobsCmd.Flags().StringArrayVar(&jobsIncludes, "include", nil, "Only list jobs matching this <region>/<job> glob (repeatable)")
	jobsCmd.Flags().StringArrayVar(&jobsExcludes, "exclude", nil, "Skip jobs matching this <region>/<job> glob (repeatable)")
	jobsCmd.Flags().BoolVar(&jobsMock, "mock", false, "Use jobs.mock_root as the job tree")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}
	env, err := prepareRun(cfg, jobSelection{Includes: jobsIncludes, Excludes: jobsExcludes, Mock: jobsMock})
	if err != nil {
		return err
	}

	if jobsJSON {
		return writePlanJSON(os.Stdout, env, jobsSkips)
	}
	printPlan(os.Stdout, env.plan)
	if jobsSkips {
		_, _ = fmt.Fprintln(os.Stdout)
		printSkips(os.Stdout, env)
	}
	return nil
}

type planTaskJSON struct {
	Job             string `json:"job"`
	Backend         string `json:"backend"`
	Mode            string `json:"mode"`
	ProcessGraph    string `json:"process_graph"`
	ValidationRules string `json:"validation_rules"`
	ReportDir       string `json:"report_dir"`
}

type planSkipJSON struct {
	Job     string `json:"job"`
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
	Path    string `json:"path,omitempty"`
}

func writePlanJSON(w io.Writer, env *runEnv, withSkips bool) error {
	doc := struct {
		Root  string         `json:"root"`
		Tasks []planTaskJSON `json:"tasks"`
		Skips []planSkipJSON `json:"skips,omitempty"`
	}{Root: env.root, Tasks: []planTaskJSON{}}

	for _, t := range env.plan.Tasks {
		doc.Tasks = append(doc.Tasks, planTaskJSON{
			Job:             t.JobID,
			Backend:         t.Backend.Name,
			Mode:            t.Backend.ExecutionMode.String(),
			ProcessGraph:    t.ProcessGraphPath,
			ValidationRules: t.ValidationRulesPath,
			ReportDir:       t.ReportDir,
		})
	}
	if withSkips {
		for _, s := range env.plan.Skips {
			doc.Skips = append(doc.Skips, planSkipJSON{Job: s.JobID, Backend: s.Backend, Reason: s.Reason, Path: s.Path})
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// printPlan writes the runnable tasks as a table.
func printPlan(w io.Writer, p *discover.Plan) {
	if len(p.Tasks) == 0 {
		_, _ = fmt.Fprintln(w, "No runnable tasks found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB\tBACKEND\tMODE\tPROCESS GRAPH")
	for _, t := range p.Tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.JobID, t.Backend.Name, t.Backend.ExecutionMode, t.ProcessGraphPath)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d tasks across %d jobs\n", len(p.Tasks), len(p.JobIDs()))
}

func printSkips(w io.Writer, env *runEnv) {
	if len(env.plan.Skips) == 0 {
		_, _ = fmt.Fprintln(w, "No skipped pairs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB\tBACKEND\tREASON")
	for _, s := range env.plan.Skips {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", s.JobID, s.Backend, s.Reason)
	}
	_ = tw.Flush()
}
