package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/rangefetch/internal/digest"
	"github.com/italolelis/rangefetch/internal/job"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/progress"
	"github.com/italolelis/rangefetch/internal/telemetry"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	DefaultMaxBufferSize  = 64 * 1024
	DefaultConnectTimeout = 10 * time.Second
	DefaultDir            = "Download"
)

// Submitter runs a unit of work asynchronously.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context)) error
}

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	Dir            string
	MaxBufferSize  int64
	ConnectTimeout time.Duration

	// ProgressLogInterval is the number of bytes between debug progress lines; 0 disables them.
	ProgressLogInterval int64

	HTTPClient *http.Client
	Verifier   digest.Verifier
	Telemetry  *telemetry.Telemetry
}

// Engine executes transfer runs for jobs and applies their state transitions.
type Engine struct {
	pool             Submitter
	client           *http.Client
	verifier         digest.Verifier
	telemetry        *telemetry.Telemetry
	dir              string
	maxBufferSize    int64
	progressInterval int64
}

func New(pool Submitter, opts Options) *Engine {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}

	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = DefaultMaxBufferSize
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(opts.ConnectTimeout)
	}

	if opts.Verifier == nil {
		opts.Verifier = digest.Hasher{}
	}

	return &Engine{
		pool:             pool,
		client:           opts.HTTPClient,
		verifier:         opts.Verifier,
		telemetry:        opts.Telemetry,
		dir:              opts.Dir,
		maxBufferSize:    opts.MaxBufferSize,
		progressInterval: opts.ProgressLogInterval,
	}
}

// Dir returns the download directory.
func (e *Engine) Dir() string {
	return e.dir
}

// EnsureDir creates the download directory if it does not exist.
func (e *Engine) EnsureDir() error {
	if err := os.MkdirAll(e.dir, dirPerm); err != nil {
		return &IOError{Op: "mkdir", Path: e.dir, Err: err}
	}

	return nil
}

// Path is where the job's file is stored.
func (e *Engine) Path(j *job.Job) string {
	return filepath.Join(e.dir, j.FileName())
}

// Start submits the first run of a new job.
func (e *Engine) Start(ctx context.Context, j *job.Job) error {
	if j.Status() != job.StatusDownloading || !j.Claim() {
		return ErrInvalidTransition
	}

	return e.submit(ctx, j)
}

// Pause asks the running transfer to stop after its current chunk.
func (e *Engine) Pause(j *job.Job) error {
	if !j.Request(job.IntentPause) {
		return ErrInvalidTransition
	}

	return nil
}

// Cancel asks the running transfer to stop after its current chunk and keep the partial file.
func (e *Engine) Cancel(j *job.Job) error {
	if !j.Request(job.IntentCancel) {
		return ErrInvalidTransition
	}

	return nil
}

// Resume continues a Paused or Error job from its downloaded byte count.
func (e *Engine) Resume(ctx context.Context, j *job.Job) error {
	if !j.Resume() {
		return ErrInvalidTransition
	}

	return e.submit(ctx, j)
}

// submit hands the job, already claimed, to the pool. Runs must outlive the
// caller's request, so only the context values are kept.
func (e *Engine) submit(ctx context.Context, j *job.Job) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.pool.Submit(ctx, func(ctx context.Context) { e.run(ctx, j) }); err != nil {
		j.Finish(job.StatusError, err)

		return fmt.Errorf("failed to schedule transfer: %w", err)
	}

	return nil
}

func (e *Engine) run(parent context.Context, j *job.Job) {
	ctx := logctx.With(parent, "job_id", j.ID())
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting transfer", "url", j.URL(), "offset", j.Downloaded())

	e.telemetry.InstrumentRun(ctx, func(ctx context.Context) (string, error) {
		status, err := e.transfer(ctx, j)
		if status != job.StatusComplete {
			if err != nil {
				logger.Error("transfer failed", "downloaded", j.Downloaded(), "err", err)
			} else {
				logger.Info("transfer stopped", "status", status.String(), "downloaded", j.Downloaded())
			}

			j.Finish(status, err)

			return status.String(), err
		}

		j.Complete()

		outcome, restart, err := e.finalize(ctx, j)
		if restart {
			if err := e.submit(parent, j); err != nil {
				return job.StatusError.String(), err
			}
		}

		return outcome, err
	})
}

// transfer streams the remaining bytes of the job into its file and reports
// how the run ended: Complete, Paused, Cancelled or Error.
func (e *Engine) transfer(ctx context.Context, j *job.Job) (job.Status, error) {
	logger := logctx.LoggerFromContext(ctx)
	offset := j.Downloaded()

	req, err := newRangeRequest(ctx, j.URL(), offset)
	if err != nil {
		return job.StatusError, &IOError{Op: "request", Path: j.URL(), Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return job.StatusError, &IOError{Op: "request", Path: j.URL(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return job.StatusError, &ProtocolError{StatusCode: resp.StatusCode, Reason: "unexpected status " + resp.Status}
	}

	// On a ranged response this is the remaining length; it only sets the size the first time.
	if resp.ContentLength < 1 {
		return job.StatusError, &ProtocolError{StatusCode: resp.StatusCode, Reason: "missing or invalid content length"}
	}

	if j.InitSize(resp.ContentLength) {
		logger.Info("discovered size", "size", humanize.Bytes(uint64(resp.ContentLength)))
	}

	total := j.Size()

	if err := e.EnsureDir(); err != nil {
		return job.StatusError, err
	}

	path := e.Path(j)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return job.StatusError, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	// Bytes past the offset belong to an earlier run or an unrelated file.
	if err := f.Truncate(offset); err != nil {
		return job.StatusError, &IOError{Op: "truncate", Path: path, Err: err}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return job.StatusError, &IOError{Op: "seek", Path: path, Err: err}
	}

	body := progress.NewReader(resp.Body, offset, total, e.progressInterval, progressLogger(logger))
	buf := make([]byte, e.maxBufferSize)

	for {
		capacity := min(e.maxBufferSize, total-j.Downloaded())
		if capacity <= 0 {
			break
		}

		switch j.Intent() {
		case job.IntentPause:
			return job.StatusPaused, nil
		case job.IntentCancel:
			return job.StatusCancelled, nil
		}

		n, readErr := body.Read(buf[:capacity])
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return job.StatusError, &IOError{Op: "write", Path: path, Err: err}
			}

			j.Advance(int64(n))
			e.telemetry.RecordBytes(int64(n))
		}

		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return job.StatusError, &IOError{Op: "read", Path: j.URL(), Err: readErr}
		}

		if n <= 0 || readErr != nil {
			break
		}
	}

	if j.Downloaded() < total {
		return job.StatusError, &IOError{Op: "read", Path: j.URL(), Err: io.ErrUnexpectedEOF}
	}

	logger.Info("transfer complete", "size", humanize.Bytes(uint64(total)))

	return job.StatusComplete, nil
}

// finalize verifies a completed file. It either releases the job as Complete
// or resets it for a restart from offset zero, which the caller submits.
func (e *Engine) finalize(ctx context.Context, j *job.Job) (outcome string, restart bool, err error) {
	logger := logctx.LoggerFromContext(ctx)

	if !j.Verifies() {
		j.Finish(job.StatusComplete, nil)

		return job.StatusComplete.String(), false, nil
	}

	path := e.Path(j)

	data, err := os.ReadFile(path)
	if err != nil {
		err = &IOError{Op: "read", Path: path, Err: err}
		logger.Error("failed to read completed file", "err", err)
		j.Finish(job.StatusError, err)

		return job.StatusError.String(), false, err
	}

	actual, err := e.verifier.Sum(data, j.Algorithm())
	if err != nil {
		// The file stays Complete but unverified.
		logger.Error("failed to compute digest", "algorithm", j.Algorithm(), "err", err)
		e.telemetry.RecordVerification(j.Algorithm(), "error")
		j.Finish(job.StatusComplete, nil)

		return job.StatusComplete.String(), false, nil
	}

	if digest.Equal(actual, j.ExpectedDigest()) {
		logger.Info("digest verified", "algorithm", j.Algorithm())
		e.telemetry.RecordVerification(j.Algorithm(), "match")
		j.MarkVerified()
		j.Finish(job.StatusComplete, nil)

		return job.StatusComplete.String(), false, nil
	}

	logger.Warn("digest mismatch, restarting from scratch",
		"algorithm", j.Algorithm(),
		"expected", j.ExpectedDigest(),
		"actual", actual)
	e.telemetry.RecordVerification(j.Algorithm(), "mismatch")

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		err = &IOError{Op: "remove", Path: path, Err: err}
		j.Finish(job.StatusError, err)

		return job.StatusError.String(), false, err
	}

	j.Restart()
	e.telemetry.RecordRestart()

	return "restarted", true, nil
}

func progressLogger(logger *slog.Logger) func(done, total int64) {
	return func(done, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(done)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(done)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(done)))
		}
	}
}
