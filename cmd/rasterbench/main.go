// Command rasterbench benchmarks openEO compute backends against a job tree.
package main

import (
	"fmt"
	"os"

	"github.com/3leaps/rasterbench/internal/cmd"
)

// Set via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cmd.ExitCode(err))
	}
}
