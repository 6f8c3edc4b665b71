package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/rangefetch/internal/storage"
)

type DownloadRepository struct {
	db         *sql.DB
	instanceID string
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, instanceID: storage.GenerateInstanceID()}
}

const selectDownloads = `SELECT job_id, url, file_path, size, algorithm, verified, downloaded_at, instance_id FROM downloads`

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectDownloads+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) GetDownload(ctx context.Context, jobID string) (storage.DownloadRecord, error) {
	record, err := scanRecord(r.db.QueryRowContext(ctx, selectDownloads+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, storage.ErrNotFound
	}

	return record, err
}

// RecordDownload inserts the record, replacing an earlier one for the same job
// when a resumed or restarted job completes again.
func (r *DownloadRepository) RecordDownload(ctx context.Context, rec storage.DownloadRecord) error {
	if rec.DownloadedAt == "" {
		rec.DownloadedAt = time.Now().Format(time.RFC3339)
	}

	if rec.InstanceID == "" {
		rec.InstanceID = r.instanceID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (job_id, url, file_path, size, algorithm, verified, downloaded_at, instance_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			file_path = excluded.file_path,
			size = excluded.size,
			verified = excluded.verified,
			downloaded_at = excluded.downloaded_at,
			instance_id = excluded.instance_id
	`, rec.JobID, rec.URL, rec.FilePath, rec.Size, rec.Algorithm, rec.Verified, rec.DownloadedAt, rec.InstanceID)

	return err
}

func (r *DownloadRepository) DeleteDownload(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE job_id = ?`, jobID)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.DownloadRecord, error) {
	var (
		record     storage.DownloadRecord
		algorithm  sql.NullString
		instanceID sql.NullString
	)

	err := s.Scan(&record.JobID, &record.URL, &record.FilePath, &record.Size,
		&algorithm, &record.Verified, &record.DownloadedAt, &instanceID)
	if err != nil {
		return storage.DownloadRecord{}, err
	}

	record.Algorithm = algorithm.String
	record.InstanceID = instanceID.String

	return record, nil
}
