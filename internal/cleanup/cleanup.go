package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/storage"
)

// DeleteExpiredFiles deletes ledger files older than keepDuration and forgets
// their records. A keepDuration of zero or less keeps everything.
func DeleteExpiredFiles(ctx context.Context, repo storage.DownloadRepository, dir string, keepDuration time.Duration) (int, error) {
	if keepDuration <= 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	records, err := repo.GetDownloads(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0

	for _, rec := range records {
		filePath := filepath.Join(dir, rec.FilePath)

		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Error("failed to stat file", "file", filePath, "err", err)

				return deleted, err
			}

			// already gone
			if err := repo.DeleteDownload(ctx, rec.JobID); err != nil {
				return deleted, err
			}

			continue
		}

		downloadedAt, err := time.Parse(time.RFC3339, rec.DownloadedAt)
		if err != nil {
			logger.Warn("failed to parse download time, using file mod time", "file", filePath, "err", err)

			downloadedAt = info.ModTime()
		}

		if now.Sub(downloadedAt) <= keepDuration {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete expired file", "file", filePath, "err", err)

			return deleted, err
		}

		if err := repo.DeleteDownload(ctx, rec.JobID); err != nil {
			return deleted, err
		}

		deleted++

		logger.Info("deleted expired file", "file", filePath)
	}

	return deleted, nil
}

// Run calls DeleteExpiredFiles every interval until ctx is done.
func Run(ctx context.Context, repo storage.DownloadRepository, dir string, keepDuration, interval time.Duration) {
	if keepDuration <= 0 || interval <= 0 {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := DeleteExpiredFiles(ctx, repo, dir, keepDuration); err != nil {
				logger.Error("cleanup failed", "err", err)
			}
		}
	}
}
