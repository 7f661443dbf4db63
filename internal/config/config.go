// ABOUTME: Configuration loading and parsing for warren
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warren configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Routing   RoutingConfig   `yaml:"routing"`
	SLA       SLAConfig       `yaml:"sla"`
	Retention RetentionConfig `yaml:"retention"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RoutingConfig holds operator routing configuration
type RoutingConfig struct {
	LivenessWindow time.Duration `yaml:"-"`
	RouteTimeout   time.Duration `yaml:"-"`
	RetryInterval  time.Duration `yaml:"-"`

	ResetKeyword     string   `yaml:"reset_keyword"`
	HandoverKeywords []string `yaml:"handover_keywords"`

	// Raw string values for YAML unmarshaling
	LivenessWindowRaw string `yaml:"liveness_window"`
	RouteTimeoutRaw   string `yaml:"route_timeout"`
	RetryIntervalRaw  string `yaml:"retry_interval"`
}

// SLAConfig holds service-level thresholds
type SLAConfig struct {
	FirstResponse   time.Duration `yaml:"-"`
	Resolution      time.Duration `yaml:"-"`
	RecheckInterval time.Duration `yaml:"-"`

	FirstResponseRaw   string `yaml:"first_response"`
	ResolutionRaw      string `yaml:"resolution"`
	RecheckIntervalRaw string `yaml:"recheck_interval"`
}

// RetentionConfig holds archival sweep configuration
type RetentionConfig struct {
	Days          int           `yaml:"days"`
	SweepInterval time.Duration `yaml:"-"`

	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// NotifyConfig holds assignment notification broker configuration
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the file omits a value.
const (
	DefaultLivenessWindow  = 60 * time.Second
	DefaultRouteTimeout    = 5 * time.Second
	DefaultRetryInterval   = 30 * time.Second
	DefaultFirstResponse   = 60 * time.Second
	DefaultResolution      = 10 * time.Minute
	DefaultRecheckInterval = 5 * time.Minute
	DefaultRetentionDays   = 7
	DefaultSweepInterval   = 24 * time.Hour
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero values with the documented defaults.
func (c *Config) applyDefaults() {
	if c.Routing.LivenessWindow == 0 {
		c.Routing.LivenessWindow = DefaultLivenessWindow
	}
	if c.Routing.RouteTimeout == 0 {
		c.Routing.RouteTimeout = DefaultRouteTimeout
	}
	if c.Routing.RetryInterval == 0 {
		c.Routing.RetryInterval = DefaultRetryInterval
	}
	if c.Routing.ResetKeyword == "" {
		c.Routing.ResetKeyword = "menu"
	}
	if c.SLA.FirstResponse == 0 {
		c.SLA.FirstResponse = DefaultFirstResponse
	}
	if c.SLA.Resolution == 0 {
		c.SLA.Resolution = DefaultResolution
	}
	if c.SLA.RecheckInterval == 0 {
		c.SLA.RecheckInterval = DefaultRecheckInterval
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = DefaultRetentionDays
	}
	if c.Retention.SweepInterval == 0 {
		c.Retention.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must be non-negative")
	}

	if c.Notify.Enabled {
		if c.Notify.URL == "" {
			return fmt.Errorf("notify.url is required when notify is enabled")
		}
		if c.Notify.Exchange == "" {
			return fmt.Errorf("notify.exchange is required when notify is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Routing.LivenessWindowRaw, &cfg.Routing.LivenessWindow, "liveness_window"},
		{cfg.Routing.RouteTimeoutRaw, &cfg.Routing.RouteTimeout, "route_timeout"},
		{cfg.Routing.RetryIntervalRaw, &cfg.Routing.RetryInterval, "retry_interval"},
		{cfg.SLA.FirstResponseRaw, &cfg.SLA.FirstResponse, "first_response"},
		{cfg.SLA.ResolutionRaw, &cfg.SLA.Resolution, "resolution"},
		{cfg.SLA.RecheckIntervalRaw, &cfg.SLA.RecheckInterval, "recheck_interval"},
		{cfg.Retention.SweepIntervalRaw, &cfg.Retention.SweepInterval, "sweep_interval"},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}
