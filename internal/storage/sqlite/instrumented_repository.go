package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/rangefetch/internal/storage"
	"github.com/italolelis/rangefetch/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownloads(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDownload retrieves one download with telemetry.
func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, jobID string) (storage.DownloadRecord, error) {
	var result storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownload(ctx, jobID)

		return err
	})

	return result, err
}

// RecordDownload stores a completed download with telemetry.
func (r *InstrumentedDownloadRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		return r.repo.RecordDownload(ctx, rec)
	})
}

// DeleteDownload removes a download record with telemetry.
func (r *InstrumentedDownloadRepository) DeleteDownload(ctx context.Context, jobID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_download", func(ctx context.Context) error {
		return r.repo.DeleteDownload(ctx, jobID)
	})
}
