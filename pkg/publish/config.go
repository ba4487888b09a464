// Package publish uploads run artifacts (downloaded results and the run's
// JSONL output) to S3 or S3-compatible object storage.
package publish

import "strings"

// Config configures the publisher.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are set. For S3-compatible stores set Endpoint and
// usually ForcePathStyle.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Prefix is prepended to every key. Leading and trailing slashes are
	// ignored.
	Prefix string

	// Region is the AWS region. When empty and no Endpoint is set, the SDK
	// resolution falls back to us-east-1.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError is a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "publish config: " + e.Field + ": " + e.Message
}

// resolveRegion applies the us-east-1 fallback for AWS S3 only. sdkRegion
// already reflects explicit config, environment and profile.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
