package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "Download", cfg.DownloadDir)
	assert.Equal(t, int64(65536), cfg.MaxBufferSize)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Zero(t, cfg.MaxConcurrent)
	assert.Zero(t, cfg.KeepDownloadedFor)
	assert.Equal(t, "rangefetch.db", cfg.DBPath)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("RANGEFETCH_DOWNLOAD_DIR", "/data")
	t.Setenv("RANGEFETCH_MAX_BUFFER_SIZE", "1024")
	t.Setenv("RANGEFETCH_MAX_CONCURRENT", "3")
	t.Setenv("RANGEFETCH_KEEP_DOWNLOADED_FOR", "24h")
	t.Setenv("RANGEFETCH_TELEMETRY_ENABLED", "false")
	t.Setenv("RANGEFETCH_WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.DownloadDir)
	assert.Equal(t, int64(1024), cfg.MaxBufferSize)
	assert.Equal(t, int64(3), cfg.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.KeepDownloadedFor)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestLoadConfig_RejectsEmptyBuffer(t *testing.T) {
	t.Setenv("RANGEFETCH_MAX_BUFFER_SIZE", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
