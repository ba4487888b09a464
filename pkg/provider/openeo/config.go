// Package openeo implements the provider interfaces for openEO-style
// compute backends over HTTP.
package openeo

import (
	"net/http"
	"time"
)

// Config configures an openEO connector.
type Config struct {
	// HTTPClient is the client used for all requests.
	// Default: a client with Timeout applied.
	HTTPClient *http.Client

	// Timeout bounds a single HTTP request (not a whole poll loop).
	// Result downloads can be large, so keep this generous.
	// Default: 5m
	Timeout time.Duration

	// RateLimit is the maximum requests per second across all sessions
	// created by the connector. Zero means unlimited.
	RateLimit float64

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 5 * time.Minute

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "rasterbench"

// DefaultConfig returns the default connector configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}
