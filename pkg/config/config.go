// Package config provides configuration loading and validation for the
// regiontree tools.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidShards      = errors.New("index shards must be positive")
	ErrInvalidThreshold   = errors.New("hibernation threshold must not be negative")
	ErrInvalidCache       = errors.New("cache entries must not be negative")
	ErrInvalidStressOps   = errors.New("stress ops must be positive")
	ErrInvalidKeySpace    = errors.New("stress key space must be positive")
	ErrInvalidVerifyEvery = errors.New("stress verify_every must not be negative")
)

const (
	configName = "regiontree"
	envPrefix  = "REGIONTREE"

	formatText = "text"
	formatJSON = "json"
)

// Config holds all configuration for the regiontree tools.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Index     IndexConfig     `mapstructure:"index"`
	Stress    StressConfig    `mapstructure:"stress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IndexConfig configures region maps and their allocators.
type IndexConfig struct {
	Shards               int   `mapstructure:"shards"`
	HibernationThreshold int   `mapstructure:"hibernation_threshold"`
	CacheEntries         int64 `mapstructure:"cache_entries"`
	AllowOverlap         bool  `mapstructure:"allow_overlap"`
	DebugChecks          bool  `mapstructure:"debug_checks"`
}

// StressConfig holds defaults for the stress command.
type StressConfig struct {
	Ops         int   `mapstructure:"ops"`
	KeySpace    int   `mapstructure:"key_space"`
	Seed        int64 `mapstructure:"seed"`
	VerifyEvery int   `mapstructure:"verify_every"`
}

// TelemetryConfig holds OTLP and Prometheus settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (lc LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level

	// Validated by LoadConfig.
	_ = level.UnmarshalText([]byte(lc.Level))

	return level
}

// JSON reports whether logs are written as JSON.
func (lc LoggingConfig) JSON() bool {
	return lc.Format == formatJSON
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches for regiontree.yaml in the usual places
// and falls back to defaults when none exists.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/regiontree")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("index.shards", DefaultIndexShards)
	viperCfg.SetDefault("index.hibernation_threshold", DefaultIndexHibernationThreshold)
	viperCfg.SetDefault("index.allow_overlap", DefaultIndexAllowOverlap)
	viperCfg.SetDefault("index.debug_checks", DefaultIndexDebugChecks)
	viperCfg.SetDefault("index.cache_entries", DefaultIndexCacheEntries)

	viperCfg.SetDefault("stress.ops", DefaultStressOps)
	viperCfg.SetDefault("stress.key_space", DefaultStressKeySpace)
	viperCfg.SetDefault("stress.seed", DefaultStressSeed)
	viperCfg.SetDefault("stress.verify_every", DefaultStressVerifyEvery)

	viperCfg.SetDefault("telemetry.otlp_endpoint", DefaultTelemetryOTLPEndpoint)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultTelemetryOTLPInsecure)
	viperCfg.SetDefault("telemetry.metrics_addr", DefaultTelemetryMetricsAddr)
}

func validateConfig(config *Config) error {
	var level slog.Level

	if err := level.UnmarshalText([]byte(config.Logging.Level)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	if config.Logging.Format != formatText && config.Logging.Format != formatJSON {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if config.Index.Shards <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidShards, config.Index.Shards)
	}

	if config.Index.HibernationThreshold < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, config.Index.HibernationThreshold)
	}

	if config.Index.CacheEntries < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCache, config.Index.CacheEntries)
	}

	if config.Stress.Ops <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStressOps, config.Stress.Ops)
	}

	if config.Stress.KeySpace <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidKeySpace, config.Stress.KeySpace)
	}

	if config.Stress.VerifyEvery < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVerifyEvery, config.Stress.VerifyEvery)
	}

	return nil
}
