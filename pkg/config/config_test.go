package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "blimp", cfg.DeviceName)
	assert.Equal(t, 8, cfg.NotifyCredits)
	assert.Equal(t, 16, cfg.WriteQueueCapacity)
	assert.Equal(t, peripheral.OverflowReject, cfg.Policy())
	assert.Equal(t, 5*time.Second, cfg.WriteResponseTimeout)
	assert.Equal(t, uint32(256), cfg.JournalSize)
	assert.Equal(t, 20, cfg.FeedChunkSize)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on invalid level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	path := testutils.WriteTempFile(t, "config.yaml", `
log_level: debug
device_name: bench
overflow_policy: drop-oldest
write_response_timeout: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, "bench", cfg.DeviceName)
	assert.Equal(t, peripheral.OverflowDropOldest, cfg.Policy())
	assert.Equal(t, 250*time.Millisecond, cfg.WriteResponseTimeout)
	assert.Equal(t, 8, cfg.NotifyCredits, "missing keys MUST keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad policy":  "overflow_policy: spill\n",
		"bad level":   "log_level: chatty\n",
		"no credits":  "notify_credits: 0\n",
		"bad journal": "journal_size: 0\n",
		"not yaml":    "log_level: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(testutils.WriteTempFile(t, "config.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault_Missing(t *testing.T) {
	cfg, err := LoadOrDefault(t.TempDir() + "/none.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = Load(t.TempDir() + "/none.yaml")
	assert.Error(t, err, "Load MUST fail for a missing file")
}
