// Package observability provides the CLI logger and run metrics.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	// ProfileConsole is human-oriented output on stderr.
	ProfileConsole = "console"

	// ProfileStructured is JSON output on stderr.
	ProfileStructured = "structured"
)

// CLILogger is the process-wide logger used by commands. It is a no-op
// until InitCLILogger is called.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for a command-line session.
// Debug lowers the level to debug; otherwise info is used.
func InitCLILogger(name string, debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	logger, err := NewLogger(level, ProfileConsole)
	if err != nil {
		// Level and profile are fixed here, so this only fails if stderr
		// cannot be opened.
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return
	}
	CLILogger = logger.Named(name)
}

// NewLogger builds a logger for the given level and profile.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	case ProfileStructured:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log profile %q (want %s or %s)", profile, ProfileConsole, ProfileStructured)
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = lvl > zapcore.DebugLevel

	return cfg.Build()
}
