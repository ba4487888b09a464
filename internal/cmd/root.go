// Package cmd implements the rasterbench command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/rasterbench/internal/config"
	"github.com/3leaps/rasterbench/internal/observability"
)

const binaryName = "rasterbench"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	configPath string
	debug      bool
	logLevel   string
	logProfile string

	// appConfig is set by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Benchmark openEO compute backends",
	Long: `rasterbench runs every job of a job tree against every configured compute
backend, measures time to result and records one outcome per attempt.

Job tree layout:
  <root>/<region>/<job>/validation-rules.json
  <root>/<region>/<job>/<backend>/<process-graph>.json`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ./rasterbench.yaml or user config dir)")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logProfile, "log-profile", "", "Log profile: console or structured")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and initializes the CLI logger. Flags
// that were set explicitly become runtime overrides.
func loadConfig(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if debug {
		logging["level"] = "debug"
	}
	if logProfile != "" {
		logging["profile"] = logProfile
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}
	for section, values := range commandOverrides(cmd) {
		overrides[section] = values
	}

	cfg, err := config.LoadFile(cmd.Context(), configPath, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.CLILogger = logger.Named(binaryName)
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("job_root", cfg.Jobs.Root),
		zap.String("providers", cfg.Providers.Path),
		zap.Int("concurrency", cfg.Runner.Concurrency))
	return nil
}

// commandOverrides turns the flags the user set on cmd into config
// overrides, keyed by section.
func commandOverrides(cmd *cobra.Command) map[string]map[string]any {
	out := map[string]map[string]any{}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		section, field, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		if out[section] == nil {
			out[section] = map[string]any{}
		}
		out[section][field] = f.Value.String()
	}
	return out
}

// flagKeys maps command flags to the config keys they override.
var flagKeys = map[string]string{
	"job-root":      "jobs.root",
	"mock-root":     "jobs.mock_root",
	"reports":       "jobs.reports_root",
	"graph-glob":    "jobs.process_graph_glob",
	"providers":     "providers.path",
	"concurrency":   "runner.concurrency",
	"poll-interval": "runner.poll_interval",
	"max-attempts":  "runner.max_poll_attempts",
	"poll-timeout":  "runner.poll_timeout",
	"rate-limit":    "runner.rate_limit",
	"format":        "runner.output_format",
	"history-db":    "history.path",
	"status-port":   "status.port",
	"publish":       "publish.bucket",
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error { return e.err }

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// currentConfig returns the loaded configuration, loading defaults when a
// command runs without the root pre-run hook.
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	return cfg, nil
}
