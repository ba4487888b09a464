// Package config loads rasterbench configuration from defaults, an optional
// config file, environment variables and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RASTERBENCH"

// ConfigName is the base name of the config file searched for.
const ConfigName = "rasterbench"

// Config is the complete application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	History   HistoryConfig   `mapstructure:"history"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Status    StatusConfig    `mapstructure:"status"`
}

// LoggingConfig selects log level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// JobsConfig locates the job tree.
type JobsConfig struct {
	Root             string `mapstructure:"root"`
	MockRoot         string `mapstructure:"mock_root"`
	ReportsRoot      string `mapstructure:"reports_root"`
	ProcessGraphGlob string `mapstructure:"process_graph_glob"`
}

// ProvidersConfig locates the provider manifest.
type ProvidersConfig struct {
	Path string `mapstructure:"path"`
}

// RunnerConfig tunes task execution.
type RunnerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts  int           `mapstructure:"max_poll_attempts"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	OutputFormat     string        `mapstructure:"output_format"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RequestRateLimit float64       `mapstructure:"request_rate_limit"`
}

// HistoryConfig controls the cross-run SQLite history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PublishConfig controls artifact upload. An empty Bucket disables it.
type PublishConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`
}

// StatusConfig controls the status HTTP server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

var defaults = map[string]any{
	"logging.level":   "info",
	"logging.profile": "console",

	"jobs.root":               "jobs",
	"jobs.mock_root":          "",
	"jobs.reports_root":       "reports",
	"jobs.process_graph_glob": "*.json",

	"providers.path": "providers.yaml",

	"runner.concurrency":        4,
	"runner.poll_interval":      10 * time.Second,
	"runner.max_poll_attempts":  0,
	"runner.poll_timeout":       2 * time.Hour,
	"runner.rate_limit":         0.0,
	"runner.output_format":      "PNG",
	"runner.request_timeout":    5 * time.Minute,
	"runner.request_rate_limit": 0.0,

	"history.enabled": false,
	"history.path":    filepath.Join("reports", "history.db"),

	"publish.bucket":   "",
	"publish.prefix":   "",
	"publish.region":   "",
	"publish.endpoint": "",
	"publish.profile":  "",

	"status.enabled": false,
	"status.host":    "localhost",
	"status.port":    8080,
}

// aliases are short environment names accepted in addition to the
// automatic RASTERBENCH_<SECTION>_<KEY> form.
var aliases = map[string]string{
	"logging.level":        "LOG_LEVEL",
	"logging.profile":      "LOG_PROFILE",
	"jobs.root":            "JOB_ROOT",
	"providers.path":       "PROVIDERS",
	"runner.concurrency":   "CONCURRENCY",
	"runner.poll_interval": "POLL_INTERVAL",
	"status.port":          "STATUS_PORT",
}

// Load builds the configuration. Precedence, highest first: runtime
// overrides, environment, config file, defaults. The result also becomes
// the value returned by GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An empty path falls back
// to RASTERBENCH_CONFIG and the search path.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	bindAll(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: invalid value %q", c.Logging.Level))
	}
	if c.Runner.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("runner.concurrency: must be >= 1, got %d", c.Runner.Concurrency))
	}
	if c.Runner.MaxPollAttempts < 0 {
		errs = append(errs, fmt.Errorf("runner.max_poll_attempts: must be >= 0, got %d", c.Runner.MaxPollAttempts))
	}
	if c.Runner.RateLimit < 0 || c.Runner.RequestRateLimit < 0 {
		errs = append(errs, errors.New("runner: rate limits must be >= 0"))
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, fmt.Errorf("status.port: out of range: %d", c.Status.Port))
	}
	return errors.Join(errs...)
}

// Settings returns the configuration as nested maps keyed like the config
// file, with durations rendered as strings.
func (c *Config) Settings() (map[string]any, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(c, &out); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	stringifyDurations(out)
	return out, nil
}

func stringifyDurations(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case time.Duration:
			m[k] = val.String()
		case map[string]any:
			stringifyDurations(val)
		}
	}
}

// EnvSpecs lists every environment variable Load consults, automatic
// names and aliases, sorted by name.
func EnvSpecs() []EnvSpec {
	specs := make([]EnvSpec, 0, len(defaults)+len(aliases))
	for key := range defaults {
		specs = append(specs, EnvSpec{Name: envName(key), Path: key})
	}
	for key, alias := range aliases {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + alias, Path: key})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// bindAll binds each key to its automatic name and alias. Viper checks the
// names in order, so the automatic name wins when both are set.
func bindAll(v *viper.Viper) {
	for key := range defaults {
		names := []string{key, envName(key)}
		if alias, ok := aliases[key]; ok {
			names = append(names, EnvPrefix+"_"+alias)
		}
		// BindEnv only fails on an empty key.
		_ = v.BindEnv(names...)
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// readConfigFile reads path, or RASTERBENCH_CONFIG when path is empty,
// otherwise the first rasterbench.{yaml,json,toml} found in the working
// directory or the user config directory. Only a missing searched-for file
// is tolerated.
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(ConfigName)
	v.AddConfigPath(".")
	for _, dir := range getUserConfigPaths() {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func getUserConfigPaths() []string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return nil
	}
	return []string{filepath.Join(dir, ConfigName)}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
