// ABOUTME: Configuration loading and parsing for fluxmind
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultDatabasePath      = "fluxmind.db"
	DefaultBusDriver         = "memory"
	DefaultTopic             = "conversation-events"
	DefaultGroupID           = "fluxmind-events-consumer"
	DefaultPartitions        = 8
	DefaultRedeliveryDelay   = time.Second
	DefaultMaxRedeliveries   = 5
	DefaultProvider          = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultModel             = "llama3.1"
	DefaultGenerationTimeout = 60 * time.Second
	DefaultGeminiLocation    = "us-central1"
	DefaultArchiveInterval   = time.Hour
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultBatchSize         = 100
	MaxBatchSize             = 100
	DefaultDedupeWindow      = 24 * time.Hour
	DefaultDedupeCapacity    = 100000
	DefaultAppendRetries     = 3
)

// Config represents the complete fluxmind configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Bus        BusConfig        `yaml:"bus" toml:"bus"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Archiver   ArchiverConfig   `yaml:"archiver" toml:"archiver"`
	Analytics  AnalyticsConfig  `yaml:"analytics" toml:"analytics"`
	Responder  ResponderConfig  `yaml:"responder" toml:"responder"`
	Health     HealthConfig     `yaml:"health" toml:"health"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BusConfig selects and tunes the event bus substrate
type BusConfig struct {
	Driver          string        `yaml:"driver" toml:"driver"` // memory or kafka
	Brokers         []string      `yaml:"brokers" toml:"brokers"`
	Topic           string        `yaml:"topic" toml:"topic"`
	GroupID         string        `yaml:"group_id" toml:"group_id"`
	Partitions      int           `yaml:"partitions" toml:"partitions"`
	MaxRedeliveries int           `yaml:"max_redeliveries" toml:"max_redeliveries"`
	RedeliveryDelay time.Duration `yaml:"-" toml:"-"`

	RedeliveryDelayRaw string `yaml:"redelivery_delay" toml:"redelivery_delay"`
}

// GenerationConfig holds the reply generator settings
type GenerationConfig struct {
	Provider       string        `yaml:"provider" toml:"provider"` // ollama, gemini or echo
	BaseURL        string        `yaml:"base_url" toml:"base_url"`
	Model          string        `yaml:"model" toml:"model"`
	HistoryLimit   int           `yaml:"history_limit" toml:"history_limit"`
	GeminiProject  string        `yaml:"gemini_project" toml:"gemini_project"`
	GeminiLocation string        `yaml:"gemini_location" toml:"gemini_location"`
	Timeout        time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ArchiverConfig holds archival sweep timing
type ArchiverConfig struct {
	BatchSize int           `yaml:"batch_size" toml:"batch_size"`
	Interval  time.Duration `yaml:"-" toml:"-"`
	Retention time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IntervalRaw  string `yaml:"interval" toml:"interval"`
	RetentionRaw string `yaml:"retention" toml:"retention"`
}

// AnalyticsConfig controls event-id deduplication in the projector
type AnalyticsConfig struct {
	// Dedupe is a pointer so an absent key can default to true.
	Dedupe         *bool         `yaml:"dedupe" toml:"dedupe"`
	DedupeCapacity int           `yaml:"dedupe_capacity" toml:"dedupe_capacity"`
	DedupeWindow   time.Duration `yaml:"-" toml:"-"`

	DedupeWindowRaw string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// DedupeEnabled reports whether the projector should deduplicate by event id.
func (a AnalyticsConfig) DedupeEnabled() bool {
	return a.Dedupe == nil || *a.Dedupe
}

// ResponderConfig holds responder loop tuning
type ResponderConfig struct {
	AppendRetries int `yaml:"append_retries" toml:"append_retries"`
}

// HealthConfig holds the gRPC health endpoint address. Empty disables it.
type HealthConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content, then applies defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
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

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = DefaultBusDriver
	}
	if c.Bus.Topic == "" {
		c.Bus.Topic = DefaultTopic
	}
	if c.Bus.GroupID == "" {
		c.Bus.GroupID = DefaultGroupID
	}
	if c.Bus.Partitions == 0 {
		c.Bus.Partitions = DefaultPartitions
	}
	if c.Bus.RedeliveryDelay == 0 {
		c.Bus.RedeliveryDelay = DefaultRedeliveryDelay
	}
	if c.Bus.MaxRedeliveries == 0 {
		c.Bus.MaxRedeliveries = DefaultMaxRedeliveries
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = DefaultProvider
	}
	if c.Generation.BaseURL == "" && c.Generation.Provider == "ollama" {
		c.Generation.BaseURL = DefaultOllamaURL
	}
	if c.Generation.Model == "" {
		c.Generation.Model = DefaultModel
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = DefaultGenerationTimeout
	}
	if c.Generation.GeminiLocation == "" {
		c.Generation.GeminiLocation = DefaultGeminiLocation
	}

	if c.Archiver.Interval == 0 {
		c.Archiver.Interval = DefaultArchiveInterval
	}
	if c.Archiver.Retention == 0 {
		c.Archiver.Retention = DefaultRetention
	}
	if c.Archiver.BatchSize == 0 {
		c.Archiver.BatchSize = DefaultBatchSize
	}

	if c.Analytics.DedupeWindow == 0 {
		c.Analytics.DedupeWindow = DefaultDedupeWindow
	}
	if c.Analytics.DedupeCapacity == 0 {
		c.Analytics.DedupeCapacity = DefaultDedupeCapacity
	}

	if c.Responder.AppendRetries == 0 {
		c.Responder.AppendRetries = DefaultAppendRetries
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Bus.Driver {
	case "memory":
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			return fmt.Errorf("bus.brokers is required when bus.driver is kafka")
		}
	default:
		return fmt.Errorf("bus.driver must be memory or kafka, got %q", c.Bus.Driver)
	}
	if c.Bus.Topic == "" {
		return fmt.Errorf("bus.topic is required")
	}
	if c.Bus.Partitions < 1 {
		return fmt.Errorf("bus.partitions must be positive, got %d", c.Bus.Partitions)
	}
	if c.Bus.MaxRedeliveries < 0 {
		return fmt.Errorf("bus.max_redeliveries must not be negative")
	}

	switch c.Generation.Provider {
	case "ollama", "echo":
	case "gemini":
		if c.Generation.GeminiProject == "" {
			return fmt.Errorf("generation.gemini_project is required when generation.provider is gemini")
		}
	default:
		return fmt.Errorf("generation.provider must be ollama, gemini or echo, got %q", c.Generation.Provider)
	}
	if c.Generation.HistoryLimit < 0 {
		return fmt.Errorf("generation.history_limit must not be negative")
	}

	if c.Archiver.BatchSize < 1 || c.Archiver.BatchSize > MaxBatchSize {
		return fmt.Errorf("archiver.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Archiver.BatchSize)
	}
	if c.Archiver.Interval < 0 || c.Archiver.Retention < 0 {
		return fmt.Errorf("archiver.interval and archiver.retention must not be negative")
	}

	if c.Responder.AppendRetries < 0 {
		return fmt.Errorf("responder.append_retries must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bus.redelivery_delay", cfg.Bus.RedeliveryDelayRaw, &cfg.Bus.RedeliveryDelay},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
		{"archiver.interval", cfg.Archiver.IntervalRaw, &cfg.Archiver.Interval},
		{"archiver.retention", cfg.Archiver.RetentionRaw, &cfg.Archiver.Retention},
		{"analytics.dedupe_window", cfg.Analytics.DedupeWindowRaw, &cfg.Analytics.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// parseDuration accepts time.ParseDuration syntax plus a whole-day suffix ("30d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
