package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/rangefetch/internal/cleanup"
	"github.com/italolelis/rangefetch/internal/config"
	"github.com/italolelis/rangefetch/internal/engine"
	"github.com/italolelis/rangefetch/internal/http/rest"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/manager"
	"github.com/italolelis/rangefetch/internal/notifier"
	"github.com/italolelis/rangefetch/internal/scheduler"
	"github.com/italolelis/rangefetch/internal/storage/sqlite"
	"github.com/italolelis/rangefetch/internal/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download service and its REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop, cfg, err := setup(cmd, verbose)
			if err != nil {
				return err
			}
			defer stop()

			logctx.LoggerFromContext(ctx).Info("rangefetch starting...", "version", version, "log_level", cfg.LogLevel)

			if err := serve(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				logctx.LoggerFromContext(ctx).Error("fatal error", "err", err)

				return err
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "rangefetch",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Engine
	pool := scheduler.New(cfg.MaxConcurrent)
	eng := newEngine(cfg, pool, tel, cfg.ProgressLogInterval)

	if err := eng.EnsureDir(); err != nil {
		return err
	}

	hooks := []manager.Hook{manager.LedgerHook(repo)}
	if cfg.DiscordWebhookURL != "" {
		hooks = append(hooks, manager.NotifyHook(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, tel)))
	}

	jobs := manager.New(eng, hooks...)

	// =========================================================================
	// Start Cleanup
	go cleanup.Run(ctx, repo, cfg.DownloadDir, cfg.KeepDownloadedFor, cfg.CleanupInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, jobs, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", eng.Dir(),
		"max_concurrent", cfg.MaxConcurrent,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")
	}

	// Give outstanding requests and transfers a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	drain(shutdownCtx, eng, pool, jobs)

	return ctx.Err()
}

// drain pauses every active job and waits for the runs to stop.
func drain(ctx context.Context, eng *engine.Engine, pool *scheduler.Pool, jobs *manager.Manager) {
	logger := logctx.LoggerFromContext(ctx)

	for _, j := range jobs.List() {
		if err := eng.Pause(j); err == nil {
			logger.Info("pausing download for shutdown", "job_id", j.ID())
		}
	}

	done := make(chan struct{})

	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("transfers still running at shutdown", "running", pool.Running())
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, jobs *manager.Manager, tel *telemetry.Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.AccessLog, telemetry.Instrument(tel))

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Mount("/", rest.NewDownloadsHandler(jobs, cfg.API.Username, cfg.API.Password).Routes())

	return &http.Server{
		Addr:              cfg.Web.BindAddress,
		ReadTimeout:       cfg.Web.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		Handler:           r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
