// Package discover enumerates (job, backend) work from a job tree on disk.
//
// The tree is laid out as:
//
//	<root>/<region>/<job>/validation-rules.json
//	<root>/<region>/<job>/<backend-name>/<graph>.json
//
// Every (region, job) pair is combined with every configured backend. A
// tuple without a backend directory or without a process graph is skipped,
// never failed.
package discover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/rasterbench/pkg/manifest"
	"github.com/3leaps/rasterbench/pkg/match"
)

// ValidationRulesFile is the per-job rules file name. The enumerator only
// derives its path; it is read by the validation step.
const ValidationRulesFile = "validation-rules.json"

// DefaultProcessGraphGlob selects process graph files in a backend directory.
const DefaultProcessGraphGlob = "*.json"

// Skip reasons.
const (
	ReasonNoProviderDir  = "no_provider_dir"
	ReasonNoProcessGraph = "no_process_graph"
	ReasonFiltered       = "filtered"
)

// ErrRootNotFound indicates the job root does not exist.
var ErrRootNotFound = errors.New("job root not found")

// Config controls enumeration.
type Config struct {
	// Root is the job tree root.
	Root string

	// ReportsRoot is where downloaded artifacts are written. Report
	// directories mirror the job tree. Default: "reports".
	ReportsRoot string

	// ProcessGraphGlob filters files in a backend directory.
	// Default: DefaultProcessGraphGlob.
	ProcessGraphGlob string

	// SelectedJob restricts the plan to one job identifier when set.
	SelectedJob string

	// Jobs selects jobs by "<region>/<job>" pattern. Nil selects all.
	Jobs *match.Matcher
}

// Task is one (job, backend) tuple to execute.
type Task struct {
	// JobID is "<region>-<job>".
	JobID  string
	Region string
	Job    string

	// JobDir is the job directory.
	JobDir string

	Backend manifest.Backend

	ProcessGraphPath    string
	ValidationRulesPath string

	// ReportDir receives remote artifacts for this tuple.
	ReportDir string
}

// Skip records a tuple that will not be attempted.
type Skip struct {
	JobID   string
	Backend string
	Reason  string
	Path    string
}

// Plan is the result of enumeration, in discovery order.
type Plan struct {
	Tasks []Task
	Skips []Skip
}

// JobIDs returns the distinct job identifiers in the plan, in discovery order.
func (p *Plan) JobIDs() []string {
	seen := make(map[string]struct{}, len(p.Tasks))
	var ids []string
	for _, t := range p.Tasks {
		if _, ok := seen[t.JobID]; ok {
			continue
		}
		seen[t.JobID] = struct{}{}
		ids = append(ids, t.JobID)
	}
	return ids
}

// JobID derives the identifier for a job directory.
func JobID(region, job string) string {
	return region + "-" + job
}

// Enumerate walks cfg.Root and pairs every job with every backend.
func Enumerate(cfg Config, backends []manifest.Backend) (*Plan, error) {
	if cfg.ReportsRoot == "" {
		cfg.ReportsRoot = "reports"
	}
	if cfg.ProcessGraphGlob == "" {
		cfg.ProcessGraphGlob = DefaultProcessGraphGlob
	}
	if !doublestar.ValidatePattern(cfg.ProcessGraphGlob) {
		return nil, fmt.Errorf("invalid process graph glob %q", cfg.ProcessGraphGlob)
	}

	regions, err := subdirs(cfg.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, cfg.Root)
		}
		return nil, fmt.Errorf("read job root: %w", err)
	}

	plan := &Plan{}
	for _, region := range regions {
		regionDir := filepath.Join(cfg.Root, region)
		jobs, err := subdirs(regionDir)
		if err != nil {
			return nil, fmt.Errorf("read region %s: %w", region, err)
		}

		for _, job := range jobs {
			jobDir := filepath.Join(regionDir, job)
			jobID := JobID(region, job)

			for _, b := range backends {
				backendDir := filepath.Join(jobDir, b.Name)

				info, err := os.Stat(backendDir)
				if err != nil || !info.IsDir() {
					plan.Skips = append(plan.Skips, Skip{JobID: jobID, Backend: b.Name, Reason: ReasonNoProviderDir, Path: backendDir})
					continue
				}

				graph, err := firstMatch(backendDir, cfg.ProcessGraphGlob)
				if err != nil {
					return nil, fmt.Errorf("read backend dir %s: %w", backendDir, err)
				}
				if graph == "" {
					plan.Skips = append(plan.Skips, Skip{JobID: jobID, Backend: b.Name, Reason: ReasonNoProcessGraph, Path: backendDir})
					continue
				}

				if (cfg.SelectedJob != "" && cfg.SelectedJob != jobID) || !cfg.Jobs.Match(region, job) {
					plan.Skips = append(plan.Skips, Skip{JobID: jobID, Backend: b.Name, Reason: ReasonFiltered})
					continue
				}

				plan.Tasks = append(plan.Tasks, Task{
					JobID:               jobID,
					Region:              region,
					Job:                 job,
					JobDir:              jobDir,
					Backend:             b,
					ProcessGraphPath:    filepath.Join(backendDir, graph),
					ValidationRulesPath: filepath.Join(jobDir, ValidationRulesFile),
					ReportDir:           filepath.Join(cfg.ReportsRoot, region, job, b.Name),
				})
			}
		}
	}

	return plan, nil
}

// subdirs lists the subdirectories of dir in lexical order.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if isDir(dir, e) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// isDir reports whether e is a directory, following symlinks. A dangling
// link is not a directory.
func isDir(dir string, e os.DirEntry) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.IsDir()
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.IsDir()
}

// firstMatch returns the name of the first regular file in dir matching
// pattern, or "" when none does.
func firstMatch(dir, pattern string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if isDir(dir, e) {
			continue
		}
		ok, err := doublestar.Match(pattern, e.Name())
		if err != nil {
			return "", err
		}
		if ok {
			return e.Name(), nil
		}
	}
	return "", nil
}
