package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/rasterbench/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults, config file, environment and flags
have been applied. The output is a valid config file.`,
	RunE: runConfigShow,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List the environment variables that override configuration",
	Run: func(_ *cobra.Command, _ []string) {
		printEnvSpecs(os.Stdout, config.EnvSpecs())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}
	if err := writeConfigYAML(os.Stdout, cfg); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to print configuration", err)
	}
	return nil
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return err
	}
	return enc.Close()
}

func printEnvSpecs(w io.Writer, specs []config.EnvSpec) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "VARIABLE\tKEY")
	for _, s := range specs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Path)
	}
}
