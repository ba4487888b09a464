// Package manifest provides loading and validation of rasterbench provider
// manifests.
//
// A provider manifest is a YAML or JSON file listing the compute backends
// every discovered job is executed against. Manifests are validated against
// an embedded JSON Schema before use; unknown properties are rejected.
//
// Example manifest (YAML):
//
//	providers:
//	  - name: VITO
//	    baseURL: https://openeo.vito.be/openeo/1.0
//	    credentials:
//	      user: alice
//	      password: secret
//	  - name: EURAC
//	    baseURL: https://openeo.eurac.edu
//	    credentials: {user: alice, password: secret}
//	  - name: local-sim
//	    local: true
package manifest

import (
	"strings"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// Manifest represents a validated provider manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Optional; "1.0" when set.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Providers lists the backends in execution order.
	Providers []Backend `json:"providers" yaml:"providers"`
}

// Backend describes one compute backend.
//
// Backends are immutable once loaded. ExecutionMode is resolved during
// loading and never re-derived from the name afterwards.
type Backend struct {
	// Name identifies the backend. It is also the name of the per-job
	// subdirectory holding the backend's process graph.
	Name string `json:"name" yaml:"name"`

	// BaseURL is the API root. Required for remote backends.
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`

	// Credentials authenticate the session. Required for remote backends.
	Credentials *provider.Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	// Local marks a stand-in backend that reads a pre-existing file.
	Local bool `json:"local,omitempty" yaml:"local,omitempty"`

	// Mode optionally forces the execution protocol.
	// Values: "local", "synchronous" ("sync"), "async" ("asynchronous").
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// DeleteFailedJobs deletes the remote job when an async execution fails.
	DeleteFailedJobs bool `json:"delete_failed_jobs,omitempty" yaml:"delete_failed_jobs,omitempty"`

	// ExecutionMode is the resolved protocol (set by ApplyDefaults).
	ExecutionMode provider.ExecutionMode `json:"-" yaml:"-"`
}

// Endpoint returns the connection parameters for the backend.
func (b Backend) Endpoint() provider.Endpoint {
	ep := provider.Endpoint{Name: b.Name, BaseURL: b.BaseURL}
	if b.Credentials != nil {
		ep.Credentials = *b.Credentials
	}
	return ep
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"
)

// SynchronousBackends names backends that default to synchronous execution
// when no explicit mode is configured.
var SynchronousBackends = []string{"EURAC"}

// ApplyDefaults fills in default values and resolves each backend's
// execution mode.
//
// Resolution order: local flag, explicit mode, SynchronousBackends, async.
// Mode values are assumed valid (see Validate).
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	for i := range m.Providers {
		m.Providers[i].ExecutionMode = resolveMode(m.Providers[i])
	}
}

func resolveMode(b Backend) provider.ExecutionMode {
	if b.Local {
		return provider.ModeLocal
	}
	if b.Mode != "" {
		if mode, err := provider.ParseExecutionMode(b.Mode); err == nil {
			return mode
		}
	}
	for _, name := range SynchronousBackends {
		if strings.EqualFold(b.Name, name) {
			return provider.ModeSynchronous
		}
	}
	return provider.ModeAsyncPollable
}

// Backend returns the backend with the given name.
func (m *Manifest) Backend(name string) (Backend, bool) {
	for _, b := range m.Providers {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}
