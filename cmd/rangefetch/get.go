package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/rangefetch/internal/job"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/scheduler"
	"github.com/spf13/cobra"
)

const defaultGetProgressInterval = 1 << 20

var errDownloadFailed = errors.New("download did not complete")

func newGetCmd() *cobra.Command {
	var (
		algorithm string
		digest    string
		dir       string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Download one URL in the foreground",
		Long: "Download one URL into the download directory, optionally verifying it against a digest.\n" +
			"Interrupting the command cancels the transfer and keeps the partial file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, cfg, err := setup(cmd, verbose)
			if err != nil {
				return err
			}
			defer stop()

			if dir != "" {
				cfg.DownloadDir = dir
			}

			interval := cfg.ProgressLogInterval
			if interval <= 0 {
				interval = defaultGetProgressInterval
			}

			target, err := job.ParseTarget(args[0])
			if err != nil {
				return err
			}

			pool := scheduler.New(1)
			defer pool.Wait()

			j := job.New(target, algorithm, digest)

			return fetch(ctx, newEngine(cfg, pool, nil, interval), j)
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "digest algorithm, e.g. SHA-256")
	cmd.Flags().StringVarP(&digest, "digest", "d", "", "expected hex digest of the file")
	cmd.Flags().StringVar(&dir, "dir", "", "download directory (overrides RANGEFETCH_DOWNLOAD_DIR)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress at debug level")
	cmd.MarkFlagsRequiredTogether("algorithm", "digest")

	return cmd
}

type runner interface {
	Start(ctx context.Context, j *job.Job) error
	Cancel(j *job.Job) error
	Path(j *job.Job) string
}

// fetch runs j until it stops, cancelling it when ctx is done.
func fetch(ctx context.Context, eng runner, j *job.Job) error {
	logger := logctx.LoggerFromContext(ctx)

	var once sync.Once

	stopped := make(chan struct{})
	unsubscribe := j.Subscribe(func() {
		if !j.Running() {
			once.Do(func() { close(stopped) })
		}
	})
	defer unsubscribe()

	if err := eng.Start(ctx, j); err != nil {
		return err
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Info("interrupted, cancelling download")

		// A job being verified cannot be cancelled; it stops on its own.
		_ = eng.Cancel(j)
		<-stopped
	}

	switch j.Status() {
	case job.StatusComplete:
		logger.Info("download complete",
			"file", eng.Path(j),
			"size", humanize.Bytes(uint64(j.Size())),
			"verified", j.Verified())

		return nil
	case job.StatusCancelled:
		logger.Warn("download cancelled", "file", eng.Path(j), "downloaded", humanize.Bytes(uint64(j.Downloaded())))

		return fmt.Errorf("%w: cancelled", errDownloadFailed)
	default:
		logger.Error("download failed", "status", j.Status().String(), "err", j.Err())

		return fmt.Errorf("%w: %v", errDownloadFailed, j.Err())
	}
}
