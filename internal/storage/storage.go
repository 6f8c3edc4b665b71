package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
)

// ErrNotFound is returned when no record exists for a job.
var ErrNotFound = errors.New("storage: download not found")

// DownloadRecord is a completed download kept in the ledger.
type DownloadRecord struct {
	JobID        string
	URL          string
	FilePath     string
	Size         int64
	Algorithm    string
	Verified     bool
	DownloadedAt string
	InstanceID   string
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
	GetDownload(ctx context.Context, jobID string) (DownloadRecord, error)
}

type DownloadWriteRepository interface {
	RecordDownload(ctx context.Context, rec DownloadRecord) error
	DeleteDownload(ctx context.Context, jobID string) error
}

// DownloadRepository is the full ledger.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
