package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the CLI looks for a config file when none is given.
const DefaultConfigPath = "~/.config/blimp/config.yaml"

// Config holds application configuration
type Config struct {
	LogLevel             string        `yaml:"log_level" default:"info"`
	DeviceName           string        `yaml:"device_name" default:"blimp"`
	ProfilePath          string        `yaml:"profile" default:""`
	NotifyCredits        int           `yaml:"notify_credits" default:"8"`
	WriteQueueCapacity   int           `yaml:"write_queue_capacity" default:"16"`
	OverflowPolicy       string        `yaml:"overflow_policy" default:"reject"`
	WriteResponseTimeout time.Duration `yaml:"write_response_timeout" default:"5s"`
	JournalSize          uint32        `yaml:"journal_size" default:"256"`
	FeedChunkSize        int           `yaml:"feed_chunk_size" default:"20"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A leading ~ in path is expanded.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", expanded, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", expanded, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", path, err)
	}
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := peripheral.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		return fmt.Errorf("overflow_policy: %w", err)
	}
	if c.NotifyCredits < 1 {
		return fmt.Errorf("notify_credits must be >= 1, got %d", c.NotifyCredits)
	}
	if c.WriteResponseTimeout <= 0 {
		return fmt.Errorf("write_response_timeout must be positive, got %s", c.WriteResponseTimeout)
	}
	if c.JournalSize == 0 || c.JournalSize > peripheral.MaxJournalSize {
		return fmt.Errorf("journal_size must be between 1 and %d, got %d", peripheral.MaxJournalSize, c.JournalSize)
	}
	if c.FeedChunkSize < 1 {
		return fmt.Errorf("feed_chunk_size must be >= 1, got %d", c.FeedChunkSize)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel if it is invalid.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Policy returns the parsed write stream overflow policy, OverflowReject if it is invalid.
func (c *Config) Policy() peripheral.OverflowPolicy {
	p, err := peripheral.ParseOverflowPolicy(c.OverflowPolicy)
	if err != nil {
		return peripheral.OverflowReject
	}
	return p
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
