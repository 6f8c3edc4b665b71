package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "RANGEFETCH"

// Config struct for environment variables.
type Config struct {
	DownloadDir    string        `envconfig:"DOWNLOAD_DIR" default:"Download"`
	MaxBufferSize  int64         `envconfig:"MAX_BUFFER_SIZE" default:"65536"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	MaxConcurrent  int64         `envconfig:"MAX_CONCURRENT" default:"0"`

	KeepDownloadedFor   time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval     time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL   string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath              string        `envconfig:"DB_PATH" default:"rangefetch.db"`
	ProgressLogInterval int64         `envconfig:"PROGRESS_LOG_INTERVAL" default:"0"`

	Telemetry struct {
		Enabled      bool   `default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	// Empty credentials leave the API open.
	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxBufferSize <= 0 {
		return nil, fmt.Errorf("MAX_BUFFER_SIZE must be positive, got %d", cfg.MaxBufferSize)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
