package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/rasterbench/internal/config"
)

const testManifest = `providers:
  - name: LOCAL
    local: true
  - name: VITO
    baseURL: http://127.0.0.1:1
    credentials:
      user: bench
      password: secret
`

// writeJobTree creates a workspace with a provider manifest and one job
// (europe/ndvi) that has a graph for both backends. It returns the
// workspace directory.
func writeJobTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	artifact := filepath.Join(dir, "fixtures", "ndvi.png")
	write("fixtures/ndvi.png", "PNG")
	write("providers.yaml", testManifest)
	write("jobs/europe/ndvi/validation-rules.json", `{}`)
	write("jobs/europe/ndvi/LOCAL/graph.json", `{"process_graph": {}, "file": "`+filepath.ToSlash(artifact)+`"}`)
	write("jobs/europe/ndvi/VITO/graph.json", `{"process_graph": {}}`)
	return dir
}

// treeConfig returns a config pointing at a workspace from writeJobTree.
func treeConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Profile = "console"
	cfg.Jobs.Root = filepath.Join(dir, "jobs")
	cfg.Jobs.ReportsRoot = filepath.Join(dir, "reports")
	cfg.Jobs.ProcessGraphGlob = "*.json"
	cfg.Providers.Path = filepath.Join(dir, "providers.yaml")
	cfg.Runner.Concurrency = 2
	cfg.Runner.PollInterval = 10 * time.Millisecond
	cfg.Runner.OutputFormat = "PNG"
	cfg.History.Path = filepath.Join(dir, "reports", "history.db")
	cfg.Status.Host = "127.0.0.1"
	return cfg
}

// captureStdout runs fn with os.Stdout redirected and returns the output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()

	defer func() { os.Stdout = orig }()
	fn()
	_ = w.Close()
	return string(<-done)
}
