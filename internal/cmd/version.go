package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		extended, _ := cmd.Flags().GetBool("extended")
		printVersion(os.Stdout, extended)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("extended", false, "Include build details")
}

func printVersion(w io.Writer, extended bool) {
	_, _ = fmt.Fprintf(w, "%s %s\n", binaryName, versionInfo.Version)
	if !extended {
		return
	}
	_, _ = fmt.Fprintf(w, "Commit:     %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(w, "Build date: %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
	_, _ = fmt.Fprintf(w, "Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
