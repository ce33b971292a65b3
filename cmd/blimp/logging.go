package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/pkg/config"
)

const defaultConfigHint = config.DefaultConfigPath

// loadConfig loads --config, or the default config file when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath)
}

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose, which takes precedence over the config file.
// Returns a configured logger or error if the log-level is invalid.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logLevel := cfg.Level()

	// Check --log-level first (takes precedence)
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verboseFlagName != "" {
		// Fall back to --verbose flag if no --log-level specified
		if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
			logLevel = logrus.DebugLevel
		}
	}

	// Create logger with configured level
	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
