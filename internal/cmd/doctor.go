package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/rasterbench/internal/config"
	"github.com/3leaps/rasterbench/internal/observability"
	"github.com/3leaps/rasterbench/pkg/discover"
	"github.com/3leaps/rasterbench/pkg/history"
	"github.com/3leaps/rasterbench/pkg/manifest"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and suggest fixes for common issues.

Examples:
  rasterbench doctor
  rasterbench doctor --mock`,
	RunE: runDoctor,
}

var doctorMock bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorMock, "mock", false, "Check the mock job tree instead of the real one")
	addTreeFlags(doctorCmd.Flags())
}

// doctorCheck is one diagnostic. It returns a short detail for the report
// or an error.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

func doctorChecks(cfg *config.Config, mock bool) []doctorCheck {
	checks := []doctorCheck{
		{name: "Go version", run: checkGoVersion},
		{name: "provider manifest", run: checkManifest},
		{name: "job tree", run: func(_ context.Context, cfg *config.Config) (string, error) {
			return checkJobTree(cfg, mock)
		}},
		{name: "reports directory", run: checkReportsWritable},
	}
	if cfg.History.Enabled {
		checks = append(checks, doctorCheck{name: "history database", run: checkHistory})
	}
	if cfg.Publish.Bucket != "" {
		checks = append(checks, doctorCheck{name: "AWS credentials", run: checkAWSCredentials})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}

	logger := observability.CLILogger
	logger.Info("=== " + binaryName + " doctor ===")
	logger.Info("")

	allChecks := runDoctorChecks(ctx, cfg, doctorChecks(cfg, doctorMock))

	logger.Info("")
	if allChecks {
		logger.Info("All checks passed.")
	} else {
		logger.Warn("Some checks failed. Review the output above for details.")
		if cfg.Publish.Bucket != "" {
			printAWSCredentialsHelp()
		}
	}
	logger.Info("=== End Diagnostics ===")
	return nil
}

// runDoctorChecks runs every check and reports whether all passed.
func runDoctorChecks(ctx context.Context, cfg *config.Config, checks []doctorCheck) bool {
	logger := observability.CLILogger
	ok := true
	for i, c := range checks {
		detail, err := c.run(ctx, cfg)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			logger.Error(prefix+" FAILED", zap.Error(err))
			ok = false
			continue
		}
		logger.Info(prefix+" ok "+detail, zap.String("check", c.name))
	}
	return ok
}

func checkGoVersion(context.Context, *config.Config) (string, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkManifest(_ context.Context, cfg *config.Config) (string, error) {
	m, err := manifest.Load(cfg.Providers.Path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d backends)", cfg.Providers.Path, len(m.Providers)), nil
}

func checkJobTree(cfg *config.Config, mock bool) (string, error) {
	m, err := manifest.Load(cfg.Providers.Path)
	if err != nil {
		return "", fmt.Errorf("manifest required: %w", err)
	}
	root := cfg.Jobs.Root
	if mock {
		root = cfg.Jobs.MockRoot
	}
	plan, err := discover.Enumerate(discover.Config{
		Root:             root,
		ReportsRoot:      cfg.Jobs.ReportsRoot,
		ProcessGraphGlob: cfg.Jobs.ProcessGraphGlob,
	}, m.Providers)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d jobs, %d tasks, %d skips)", root, len(plan.JobIDs()), len(plan.Tasks), len(plan.Skips)), nil
}

func checkReportsWritable(_ context.Context, cfg *config.Config) (string, error) {
	dir := cfg.Jobs.ReportsRoot
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("reports directory is not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	abs, _ := filepath.Abs(dir)
	return abs, nil
}

func checkHistory(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := history.Open(ctx, history.Config{Path: cfg.History.Path})
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	return cfg.History.Path, nil
}

func checkAWSCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Publish.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Publish.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("cannot load AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (source: %s)", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	logger := observability.CLILogger
	logger.Info("")
	logger.Info("To configure AWS credentials for publishing:")
	logger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	logger.Info("  2. Run 'aws configure' and set publish.profile")
	logger.Info("")
	logger.Info("For S3-compatible storage, also set publish.endpoint.")
}
