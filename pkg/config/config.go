// Package config provides configuration structures and loading logic
// for the compression pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the pipeline.
type Config struct {
	Templates TemplatesConfig `yaml:"templates"`
	Selector  SelectorConfig  `yaml:"selector"`
	Cache     CacheConfig     `yaml:"cache"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TemplatesConfig holds template store configuration.
type TemplatesConfig struct {
	// File is an optional store file layered over the built-in core
	// library.
	File string `yaml:"file"`
	// Watch enables hot reload of the discovered partition when the
	// file changes.
	Watch bool `yaml:"watch"`
	// MaxDiscovered bounds the discovered partition.
	MaxDiscovered int `yaml:"max_discovered"`
}

// SelectorConfig holds method selection configuration.
type SelectorConfig struct {
	// HeaderOverheadBytes is the never-worse allowance H.
	HeaderOverheadBytes int `yaml:"header_overhead_bytes"`
}

// CacheConfig holds conversation accelerator configuration.
type CacheConfig struct {
	SessionCacheCapacity int `yaml:"session_cache_capacity"`
}

// DiscoveryConfig holds template discovery configuration.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	// MinSupport is the minimum corpus occurrences before a skeleton
	// becomes a candidate.
	MinSupport int `yaml:"min_support"`
	// ValidationHoldoutFraction is the corpus share reserved for
	// overfit rejection.
	ValidationHoldoutFraction float64 `yaml:"validation_holdout_fraction"`
	// IntervalSeconds is the background mining period.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	EnableAuditLogging bool   `yaml:"enable_audit_logging"`
	Dir                string `yaml:"dir"`
	// StrictMode fails pipeline calls on sink failure instead of
	// queueing for retry.
	StrictMode   bool `yaml:"audit_strict_mode"`
	PendingLimit int  `yaml:"pending_limit"`
	// Secret keys the chain MAC. Usually supplied via
	// AURA_AUDIT_SECRET rather than the file.
	Secret string `yaml:"secret"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Templates: TemplatesConfig{
			MaxDiscovered: 512,
		},
		Selector: SelectorConfig{
			HeaderOverheadBytes: 3,
		},
		Cache: CacheConfig{
			SessionCacheCapacity: 256,
		},
		Discovery: DiscoveryConfig{
			MinSupport:                3,
			ValidationHoldoutFraction: 0.25,
			IntervalSeconds:           300,
		},
		Audit: AuditConfig{
			EnableAuditLogging: true,
			Dir:                "audit",
			StrictMode:         false,
			PendingLimit:       1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AURA_TEMPLATES_FILE"); val != "" {
		cfg.Templates.File = val
	}
	if val := os.Getenv("AURA_TEMPLATES_WATCH"); val == "true" {
		cfg.Templates.Watch = true
	}

	if val := os.Getenv("AURA_HEADER_OVERHEAD_BYTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Selector.HeaderOverheadBytes = n
		}
	}
	if val := os.Getenv("AURA_SESSION_CACHE_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Cache.SessionCacheCapacity = n
		}
	}

	if val := os.Getenv("AURA_DISCOVERY_ENABLED"); val == "true" {
		cfg.Discovery.Enabled = true
	}
	if val := os.Getenv("AURA_DISCOVERY_MIN_SUPPORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Discovery.MinSupport = n
		}
	}
	if val := os.Getenv("AURA_DISCOVERY_HOLDOUT_FRACTION"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Discovery.ValidationHoldoutFraction = f
		}
	}

	if val := os.Getenv("AURA_AUDIT_ENABLED"); val != "" {
		cfg.Audit.EnableAuditLogging = val == "true"
	}
	if val := os.Getenv("AURA_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}
	if val := os.Getenv("AURA_AUDIT_STRICT"); val == "true" {
		cfg.Audit.StrictMode = true
	}
	if val := os.Getenv("AURA_AUDIT_SECRET"); val != "" {
		cfg.Audit.Secret = val
	}

	if val := os.Getenv("AURA_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AURA_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("AURA_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Selector.HeaderOverheadBytes < 0 {
		return fmt.Errorf("selector.header_overhead_bytes must be >= 0, got %d", c.Selector.HeaderOverheadBytes)
	}
	if c.Cache.SessionCacheCapacity <= 0 {
		return fmt.Errorf("cache.session_cache_capacity must be > 0, got %d", c.Cache.SessionCacheCapacity)
	}
	if c.Templates.MaxDiscovered < 0 {
		return fmt.Errorf("templates.max_discovered must be >= 0, got %d", c.Templates.MaxDiscovered)
	}
	if c.Discovery.MinSupport <= 0 {
		return fmt.Errorf("discovery.min_support must be > 0, got %d", c.Discovery.MinSupport)
	}
	if f := c.Discovery.ValidationHoldoutFraction; f < 0 || f >= 1 {
		return fmt.Errorf("discovery.validation_holdout_fraction must be in [0, 1), got %v", f)
	}
	if c.Discovery.IntervalSeconds <= 0 {
		return fmt.Errorf("discovery.interval_seconds must be > 0, got %d", c.Discovery.IntervalSeconds)
	}
	if c.Audit.EnableAuditLogging {
		if c.Audit.Dir == "" {
			return fmt.Errorf("audit.dir is required when audit logging is enabled")
		}
		if c.Audit.PendingLimit < 0 {
			return fmt.Errorf("audit.pending_limit must be >= 0, got %d", c.Audit.PendingLimit)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
