package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/rangefetch/internal/config"
	"github.com/italolelis/rangefetch/internal/engine"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/scheduler"
	"github.com/italolelis/rangefetch/internal/telemetry"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rangefetch",
		Short:         "Resumable, integrity-checked HTTP downloads",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newGetCmd())

	return root
}

// setup loads the configuration and returns a signal-aware context carrying the logger.
func setup(cmd *cobra.Command, verbose bool) (context.Context, context.CancelFunc, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return nil, nil, nil, err
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}

	logger := logctx.NewLogger(os.Stdout, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	return logctx.WithLogger(ctx, logger), stop, cfg, nil
}

func newEngine(cfg *config.Config, pool *scheduler.Pool, tel *telemetry.Telemetry, progressInterval int64) *engine.Engine {
	return engine.New(pool, engine.Options{
		Dir:                 cfg.DownloadDir,
		MaxBufferSize:       cfg.MaxBufferSize,
		ConnectTimeout:      cfg.ConnectTimeout,
		ProgressLogInterval: progressInterval,
		Telemetry:           tel,
	})
}
