package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/3leaps/rasterbench/internal/config"
	"github.com/3leaps/rasterbench/internal/observability"
	"github.com/3leaps/rasterbench/internal/server"
	"github.com/3leaps/rasterbench/internal/server/handlers"
	"github.com/3leaps/rasterbench/pkg/discover"
	"github.com/3leaps/rasterbench/pkg/history"
	"github.com/3leaps/rasterbench/pkg/manifest"
	"github.com/3leaps/rasterbench/pkg/match"
	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/provider/openeo"
	"github.com/3leaps/rasterbench/pkg/publish"
	"github.com/3leaps/rasterbench/pkg/runner"
	"github.com/3leaps/rasterbench/pkg/runregistry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every job against every configured backend",
	Long: `Enumerate the job tree, execute each (job, backend) pair and record one
outcome per attempt as JSONL.

Examples:
  rasterbench run
  rasterbench run --job europe-ndvi
  rasterbench run --include 'europe/**' --exclude '*/draft-*'
  rasterbench run --mock --offline
  rasterbench run --dry-run
  rasterbench run --status --status-port 8081`,
	RunE: runRun,
}

var (
	runJob           string
	runIncludes      []string
	runExcludes      []string
	runMock          bool
	runOffline       bool
	runDryRun        bool
	runOutput        string
	runStatus        bool
	runRecordHistory bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	addTreeFlags(f)
	f.StringVarP(&runJob, "job", "j", "", "Only run the job with this identifier (<region>-<job>)")
	f.StringArrayVar(&runIncludes, "include", nil, "Only run jobs matching this <region>/<job> glob (repeatable)")
	f.StringArrayVar(&runExcludes, "exclude", nil, "Skip jobs matching this <region>/<job> glob (repeatable)")
	f.BoolVar(&runMock, "mock", false, "Use jobs.mock_root as the job tree")
	f.BoolVar(&runOffline, "offline", false, "Do not contact remote backends; record immediate successes")
	f.BoolVar(&runDryRun, "dry-run", false, "Show the execution plan without running it")
	f.StringVarP(&runOutput, "output", "o", "", "Results destination: file path or stdout (default: <reports>/runs/<run_id>/results.jsonl)")
	f.Int("concurrency", 0, "Number of tasks executed in parallel")
	f.Duration("poll-interval", 0, "Wait between result download attempts")
	f.Int("max-attempts", 0, "Maximum download attempts per job (0 = unlimited)")
	f.Duration("poll-timeout", 0, "Deadline for one remote task (0 = none)")
	f.Float64("rate-limit", 0, "Maximum task starts per second (0 = unlimited)")
	f.String("format", "", "Output format requested from remote backends")
	f.BoolVar(&runStatus, "status", false, "Serve run status over HTTP while running")
	f.Int("status-port", 0, "Status server port")
	f.BoolVar(&runRecordHistory, "history", false, "Record the run in the history database")
	f.String("history-db", "", "History database path")
	f.String("publish", "", "Upload artifacts to this S3 bucket after the run")
}

// addTreeFlags registers the flags that locate the job tree and manifest.
func addTreeFlags(f *pflag.FlagSet) {
	f.String("job-root", "", "Job tree root")
	f.String("mock-root", "", "Mock job tree root")
	f.String("reports", "", "Reports root for downloaded artifacts")
	f.String("graph-glob", "", "Glob selecting the process graph in a backend directory")
	f.String("providers", "", "Provider manifest (YAML or JSON)")
}

// runEnv is everything a run needs, resolved from configuration.
type runEnv struct {
	cfg      *config.Config
	manifest *manifest.Manifest
	plan     *discover.Plan
	root     string
}

// jobSelection narrows the job tree to the jobs a command works on.
type jobSelection struct {
	Job      string
	Includes []string
	Excludes []string
	Mock     bool
}

// prepareRun loads the manifest and enumerates the plan.
func prepareRun(cfg *config.Config, sel jobSelection) (*runEnv, error) {
	jobs, err := match.New(match.Config{Includes: sel.Includes, Excludes: sel.Excludes})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid job pattern", err)
	}

	m, err := manifest.Load(cfg.Providers.Path)
	if err != nil {
		observability.CLILogger.Error("Failed to load provider manifest",
			zap.String("path", cfg.Providers.Path),
			zap.Error(err))
		if errors.Is(err, manifest.ErrNotFound) {
			return nil, exitError(foundry.ExitFileNotFound, "Provider manifest not found", err)
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid provider manifest", err)
	}

	root := cfg.Jobs.Root
	if sel.Mock {
		if cfg.Jobs.MockRoot == "" {
			return nil, exitError(foundry.ExitInvalidArgument, "Mock mode requires jobs.mock_root", errors.New("mock root is not configured"))
		}
		root = cfg.Jobs.MockRoot
	}

	plan, err := discover.Enumerate(discover.Config{
		Root:             root,
		ReportsRoot:      cfg.Jobs.ReportsRoot,
		ProcessGraphGlob: cfg.Jobs.ProcessGraphGlob,
		SelectedJob:      sel.Job,
		Jobs:             jobs,
	}, m.Providers)
	if err != nil {
		if errors.Is(err, discover.ErrRootNotFound) {
			return nil, exitError(foundry.ExitFileNotFound, "Job root not found", err)
		}
		return nil, exitError(foundry.ExitFileReadError, "Failed to enumerate jobs", err)
	}

	return &runEnv{cfg: cfg, manifest: m, plan: plan, root: root}, nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}

	env, err := prepareRun(cfg, jobSelection{Job: runJob, Includes: runIncludes, Excludes: runExcludes, Mock: runMock})
	if err != nil {
		return err
	}

	if runDryRun {
		return showRunPlan(os.Stdout, env)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return executeRun(ctx, env, runOptions{
		Output:  runOutput,
		Offline: runOffline,
		Status:  runStatus || cfg.Status.Enabled,
		History: runRecordHistory || cfg.History.Enabled,
		Job:     runJob,
	})
}

// runOptions are per-invocation switches that are not configuration.
type runOptions struct {
	Output  string
	Offline bool
	Status  bool
	History bool
	Job     string
}

// showRunPlan prints what would run without executing anything.
func showRunPlan(w io.Writer, env *runEnv) error {
	_, _ = fmt.Fprintln(w, "=== Run Plan (dry-run) ===")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Job root:    %s\n", env.root)
	_, _ = fmt.Fprintf(w, "Reports:     %s\n", env.cfg.Jobs.ReportsRoot)
	_, _ = fmt.Fprintf(w, "Providers:   %s\n", env.cfg.Providers.Path)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "Backends:")
	for _, b := range env.manifest.Providers {
		_, _ = fmt.Fprintf(w, "  - %-12s %s\n", b.Name, b.ExecutionMode)
	}
	_, _ = fmt.Fprintln(w)

	printPlan(w, env.plan)

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Concurrency: %d\n", env.cfg.Runner.Concurrency)
	_, _ = fmt.Fprintf(w, "Poll:        every %s, timeout %s\n", env.cfg.Runner.PollInterval, env.cfg.Runner.PollTimeout)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Plan validated successfully. Remove --dry-run to execute.")
	return nil
}

func runnerConfig(cfg *config.Config, offline bool) runner.Config {
	return runner.Config{
		Concurrency:     cfg.Runner.Concurrency,
		PollInterval:    cfg.Runner.PollInterval,
		MaxPollAttempts: cfg.Runner.MaxPollAttempts,
		PollTimeout:     cfg.Runner.PollTimeout,
		RateLimit:       cfg.Runner.RateLimit,
		OutputFormat:    cfg.Runner.OutputFormat,
		Offline:         offline,
		Logger:          observability.CLILogger,
	}
}

// executeRun runs the plan with the full ambient stack: run registry,
// results file, metrics, optional status server, history and publishing.
func executeRun(ctx context.Context, env *runEnv, opts runOptions) error {
	cfg := env.cfg
	logger := observability.CLILogger
	runID := uuid.New().String()

	registry := runregistry.NewStore(filepath.Join(cfg.Jobs.ReportsRoot, "runs"))
	resultsPath := opts.Output
	if resultsPath == "" {
		resultsPath = registry.ResultsPath(runID)
	}

	rec := &runregistry.RunRecord{
		RunID:         runID,
		JobRoot:       env.root,
		ProvidersPath: cfg.Providers.Path,
		ReportsRoot:   cfg.Jobs.ReportsRoot,
		SelectedJob:   opts.Job,
		Offline:       opts.Offline,
	}
	if resultsPath != "stdout" && resultsPath != "-" {
		rec.ResultsPath = resultsPath
	}
	if err := registry.Start(rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to record run", err)
	}

	writer, closeWriter, err := createResultsWriter(resultsPath, runID)
	if err != nil {
		_ = registry.Finish(rec, runregistry.RunStateFailed, runregistry.Counts{}, err)
		return exitError(foundry.ExitFileWriteError, "Failed to create results output", err)
	}
	defer closeWriter()

	metrics := observability.NewMetrics()
	conn := openeo.NewConnector(openeo.Config{
		Timeout:   cfg.Runner.RequestTimeout,
		RateLimit: cfg.Runner.RequestRateLimit,
		UserAgent: binaryName + "/" + versionInfo.Version,
	})
	r := runner.New(conn, writer, runID, runnerConfig(cfg, opts.Offline)).WithObserver(metrics)

	var store *history.Store
	if opts.History {
		store, err = history.Open(ctx, history.Config{Path: cfg.History.Path})
		if err != nil {
			logger.Warn("History disabled: failed to open database", zap.String("path", cfg.History.Path), zap.Error(err))
		} else {
			defer func() { _ = store.Close() }()
			if err := store.StartRun(ctx, runID, env.root, opts.Job, time.Now()); err != nil {
				logger.Warn("Failed to record run start in history", zap.Error(err))
			}
			r.WithObserver(store.NewRecorder(runID, func(err error) {
				logger.Warn("Failed to record outcome in history", zap.Error(err))
			}))
		}
	}

	if opts.Status {
		srv := startStatusServer(cfg, r, metrics)
		if srv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("job_root", env.root),
		zap.Int("tasks", len(env.plan.Tasks)),
		zap.Int("skips", len(env.plan.Skips)),
		zap.Bool("offline", opts.Offline))

	summary, runErr := r.Run(ctx, env.plan)
	state := finalState(ctx, summary, runErr)
	counts := runregistry.Counts{Planned: len(env.plan.Tasks)}
	if summary != nil {
		counts.Attempted = int(summary.Attempted)
		counts.Succeeded = int(summary.Succeeded)
		counts.Failed = int(summary.Failed)
		counts.Skipped = int(summary.Skipped)
		counts.Cancelled = int(summary.Cancelled)
	}

	if store != nil {
		status := history.RunStatusSuccess
		switch state {
		case runregistry.RunStatePartial, runregistry.RunStateFailed:
			status = history.RunStatusPartial
		case runregistry.RunStateCancelled:
			status = history.RunStatusCancelled
		}
		totals := history.RunTotals{Attempted: counts.Attempted, Succeeded: counts.Succeeded, Failed: counts.Failed, Skipped: counts.Skipped}
		if err := store.FinishRun(context.WithoutCancel(ctx), runID, status, totals, time.Now()); err != nil {
			logger.Warn("Failed to record run end in history", zap.Error(err))
		}
	}

	if err := registry.Finish(rec, state, counts, runErr); err != nil {
		logger.Warn("Failed to update run record", zap.Error(err))
	}

	if runErr != nil {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled",
				zap.String("run_id", runID),
				zap.Int("attempted", counts.Attempted),
				zap.Int("cancelled", counts.Cancelled))
			return exitError(foundry.ExitSignalInt, "Run cancelled", runErr)
		}
		logger.Error("Run failed", zap.String("run_id", runID), zap.Error(runErr))
		return exitError(foundry.ExitFileWriteError, "Run failed", runErr)
	}

	logger.Info("Run completed",
		zap.String("run_id", runID),
		zap.Int("attempted", counts.Attempted),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
		zap.Duration("duration", summary.Duration))

	if cfg.Publish.Bucket != "" {
		if err := publishRun(ctx, cfg, runID, summary, rec.ResultsPath); err != nil {
			return err
		}
	}
	return nil
}

func finalState(ctx context.Context, summary *runner.Summary, runErr error) runregistry.RunState {
	switch {
	case runErr != nil && ctx.Err() != nil:
		return runregistry.RunStateCancelled
	case runErr != nil:
		return runregistry.RunStateFailed
	case summary != nil && summary.Failed > 0:
		return runregistry.RunStatePartial
	default:
		return runregistry.RunStateSuccess
	}
}

// createResultsWriter opens the results destination. "stdout" and "-"
// write to standard output.
func createResultsWriter(dest, runID string) (output.Writer, func(), error) {
	if dest == "" || dest == "stdout" || dest == "-" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", dest, err)
	}

	w := output.NewJSONLWriter(f, runID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

// startStatusServer serves run status in the background. Failure to bind
// is logged and the run continues without it.
func startStatusServer(cfg *config.Config, r *runner.Runner, metrics *observability.Metrics) *server.Server {
	handlers.InitHealthManager(versionInfo.Version)
	srv := server.New(cfg.Status.Host, cfg.Status.Port, server.Options{
		Version: handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
		Outcomes: r.Outcomes,
		Metrics:  metrics.Handler(),
	})
	if err := srv.Start(); err != nil {
		observability.CLILogger.Warn("Status server disabled", zap.Error(err))
		return nil
	}
	observability.CLILogger.Info("Status server listening", zap.String("addr", srv.Addr()))
	return srv
}

func publishRun(ctx context.Context, cfg *config.Config, runID string, summary *runner.Summary, resultsPath string) error {
	logger := observability.CLILogger
	pub, err := publish.New(ctx, publish.Config{
		Bucket:         cfg.Publish.Bucket,
		Prefix:         cfg.Publish.Prefix,
		Region:         cfg.Publish.Region,
		Endpoint:       cfg.Publish.Endpoint,
		Profile:        cfg.Publish.Profile,
		ForcePathStyle: cfg.Publish.Endpoint != "",
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid publish configuration", err)
	}

	rep, err := pub.PublishRun(ctx, runID, summary.Results, resultsPath)
	if err != nil {
		return exitError(foundry.ExitSignalInt, "Publishing cancelled", err)
	}
	for key, ferr := range rep.Failed {
		logger.Warn("Failed to publish artifact", zap.String("key", key), zap.Error(ferr))
	}
	logger.Info("Published run artifacts",
		zap.String("bucket", cfg.Publish.Bucket),
		zap.Int("uploaded", len(rep.Uploaded)),
		zap.Int("failed", len(rep.Failed)))
	if len(rep.Failed) > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Some artifacts were not published",
			fmt.Errorf("failed=%d", len(rep.Failed)))
	}
	return nil
}
