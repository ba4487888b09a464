// Package provider defines abstractions for remote compute backends that
// execute process graphs and return raster imagery.
//
// Backends expose a deliberately small surface: open an authenticated
// session, run a graph synchronously, or submit it as a batch job that is
// polled until its result can be downloaded. Wire protocols live in
// sub-packages (see provider/openeo).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Connector opens sessions against remote backends.
//
// Implementations should be safe for concurrent use; the runner shares a
// single Connector across all workers.
type Connector interface {
	// Connect establishes an authenticated session with the backend at
	// ep.BaseURL. Any returned error aborts the current attempt.
	Connect(ctx context.Context, ep Endpoint) (Session, error)
}

// Session is an authenticated connection to a single backend.
type Session interface {
	// Execute runs the graph synchronously and writes the result to dest.
	Execute(ctx context.Context, graph ProcessGraph, dest string, format string) error

	// CreateJob registers the graph as a batch job. The job is not started.
	CreateJob(ctx context.Context, graph ProcessGraph, opts JobOptions) (Job, error)

	// Close releases any resources held by the session.
	Close() error
}

// Job is a batch job created on a backend.
type Job interface {
	// ID returns the backend-assigned job identifier.
	ID() string

	// Start queues the job for processing.
	Start(ctx context.Context) error

	// Describe returns the backend's current view of the job.
	Describe(ctx context.Context) (*JobDescription, error)

	// DownloadResults writes the job's result artifact to dest.
	// Returns an error matching ErrConnectionAborted while the result is not
	// yet available.
	DownloadResults(ctx context.Context, dest string) error

	// Delete removes the job from the backend.
	Delete(ctx context.Context) error
}

// Endpoint identifies a backend and the credentials used to reach it.
type Endpoint struct {
	// Name is the configured backend name, used for error context.
	Name string

	// BaseURL is the root URL of the backend API.
	BaseURL string

	// Credentials authenticate the session.
	Credentials Credentials
}

// Credentials are username/password credentials for a backend.
type Credentials struct {
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// JobOptions configures CreateJob.
type JobOptions struct {
	// Title is a human-readable job title. The runner uses the job identifier.
	Title string

	// Format is the requested output format (e.g., "PNG").
	Format string
}

// JobDescription is the status descriptor returned by Job.Describe.
type JobDescription struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`

	// Progress is the completion percentage when reported by the backend.
	Progress float64 `json:"progress,omitempty"`
}

// Job status values reported by backends.
const (
	JobStatusCreated  = "created"
	JobStatusQueued   = "queued"
	JobStatusRunning  = "running"
	JobStatusFinished = "finished"
	JobStatusCanceled = "canceled"
	JobStatusError    = "error"
)

// ProcessGraph is a parsed process-graph document.
//
// The document is kept as a generic JSON object so it can be forwarded to a
// backend unchanged.
type ProcessGraph map[string]any

// DeclaredFile returns the output location declared by the document's
// "file" field. Local backends read their result from this path.
func (g ProcessGraph) DeclaredFile() (string, bool) {
	v, ok := g["file"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// LoadProcessGraph reads and parses a process-graph document.
func LoadProcessGraph(path string) (ProcessGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidProcessGraph, path, err)
	}
	return ParseProcessGraph(data)
}

// ParseProcessGraph parses a process-graph document from raw JSON.
func ParseProcessGraph(data []byte) (ProcessGraph, error) {
	var g ProcessGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProcessGraph, err)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidProcessGraph)
	}
	return g, nil
}
