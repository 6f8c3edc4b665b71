package job

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// UnknownSize is the size of a job before its first response arrives.
const UnknownSize int64 = -1

// ErrInvalidTarget is returned by ParseTarget for anything that is not an absolute http(s) URL.
var ErrInvalidTarget = errors.New("job: target must be an absolute http or https URL")

// Status is the lifecycle state of a Job.
type Status int32

const (
	StatusDownloading Status = iota
	StatusPaused
	StatusComplete
	StatusCancelled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDownloading:
		return "Downloading"
	case StatusPaused:
		return "Paused"
	case StatusComplete:
		return "Complete"
	case StatusCancelled:
		return "Cancelled"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// IsClearable reports whether a job in this state may be removed from its collection.
func (s Status) IsClearable() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusError
}

// Intent is a command recorded by the caller and applied by the running transfer.
type Intent int32

const (
	IntentNone Intent = iota
	IntentPause
	IntentCancel
)

type listener struct {
	id uint64
	fn func()
}

// Job is one URL-to-file download.
//
// Size, progress and status are stored atomically and can be read from any
// goroutine. Transitions are serialised by mu; while a transfer run is active
// it is the only goroutine that applies them.
type Job struct {
	id        string
	target    *url.URL
	algorithm string
	digest    string

	size       atomic.Int64
	downloaded atomic.Int64
	status     atomic.Int32
	intent     atomic.Int32
	verified   atomic.Bool

	mu      sync.Mutex
	running bool
	err     error

	lmu       sync.RWMutex
	listeners []listener
	nextID    uint64
}

// New creates a job in the Downloading state with nothing downloaded and an unknown size.
func New(target *url.URL, algorithm, digest string) *Job {
	j := &Job{
		id:        uuid.New().String(),
		target:    target,
		algorithm: strings.TrimSpace(algorithm),
		digest:    strings.TrimSpace(digest),
	}
	j.size.Store(UnknownSize)
	j.status.Store(int32(StatusDownloading))

	return j
}

// ParseTarget accepts absolute http and https URLs only.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}

	u.Scheme = scheme

	return u, nil
}

func (j *Job) ID() string             { return j.id }
func (j *Job) Target() *url.URL       { return j.target }
func (j *Job) URL() string            { return j.target.String() }
func (j *Job) Algorithm() string      { return j.algorithm }
func (j *Job) ExpectedDigest() string { return j.digest }
func (j *Job) Size() int64            { return j.size.Load() }
func (j *Job) Downloaded() int64      { return j.downloaded.Load() }
func (j *Job) Status() Status         { return Status(j.status.Load()) }
func (j *Job) Intent() Intent         { return Intent(j.intent.Load()) }

// Verifies reports whether the completed file is checked against a digest.
func (j *Job) Verifies() bool {
	return j.digest != ""
}

// Verified reports whether the completed file matched its expected digest.
func (j *Job) Verified() bool {
	return j.verified.Load()
}

// MarkVerified records a digest match for the completed file.
func (j *Job) MarkVerified() {
	j.verified.Store(true)
}

// Progress returns the downloaded percentage, or 0 while the size is unknown.
func (j *Job) Progress() float64 {
	size := j.size.Load()
	if size <= 0 {
		return 0
	}

	return float64(j.downloaded.Load()) * 100 / float64(size)
}

// FileName is the final path segment of the target, falling back to the host
// when that segment does not name a file inside the download directory.
func (j *Job) FileName() string {
	name := path.Base(j.target.Path)
	switch name {
	case "", "/", ".", "..":
		return j.target.Hostname()
	}

	return name
}

// Err returns the error that ended the last transfer run, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// Running reports whether a transfer run currently owns the job.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.running
}

// Subscribe registers fn to be called after every change. The returned func
// removes it and may be called more than once.
func (j *Job) Subscribe(fn func()) func() {
	j.lmu.Lock()
	j.nextID++
	id := j.nextID
	j.listeners = append(j.listeners, listener{id: id, fn: fn})
	j.lmu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			j.lmu.Lock()
			defer j.lmu.Unlock()

			for i, l := range j.listeners {
				if l.id == id {
					j.listeners = append(j.listeners[:i:i], j.listeners[i+1:]...)

					break
				}
			}
		})
	}
}

// Notify calls every listener on the current goroutine. No lock is held while they run.
func (j *Job) Notify() {
	j.lmu.RLock()
	ls := make([]listener, len(j.listeners))
	copy(ls, j.listeners)
	j.lmu.RUnlock()

	for _, l := range ls {
		l.fn()
	}
}

// Request records a pause or cancel for the running transfer to apply. It
// returns false when the job is not Downloading. A cancel replaces a pending
// pause; a pause never replaces a pending cancel.
func (j *Job) Request(intent Intent) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status() != StatusDownloading {
		return false
	}

	switch intent {
	case IntentCancel:
		j.intent.Store(int32(IntentCancel))
	case IntentPause:
		j.intent.CompareAndSwap(int32(IntentNone), int32(IntentPause))
	default:
		return false
	}

	return true
}

// Claim marks the job as owned by a transfer run. It fails if a run already owns it.
func (j *Job) Claim() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return false
	}

	j.running = true

	return true
}

// Resume moves a stopped Paused or Error job back to Downloading and claims it
// for the next run.
func (j *Job) Resume() bool {
	j.mu.Lock()

	st := j.Status()
	if j.running || (st != StatusPaused && st != StatusError) {
		j.mu.Unlock()

		return false
	}

	j.running = true
	j.err = nil
	j.intent.Store(int32(IntentNone))
	j.status.Store(int32(StatusDownloading))
	j.mu.Unlock()

	j.Notify()

	return true
}

// InitSize sets the total size the first time it becomes known.
func (j *Job) InitSize(n int64) bool {
	if !j.size.CompareAndSwap(UnknownSize, n) {
		return false
	}

	j.Notify()

	return true
}

// Advance adds n written bytes to the progress counter.
func (j *Job) Advance(n int64) int64 {
	total := j.downloaded.Add(n)
	j.Notify()

	return total
}

// Complete moves the job to Complete while its run still owns it.
func (j *Job) Complete() {
	j.mu.Lock()
	j.status.Store(int32(StatusComplete))
	j.mu.Unlock()

	j.Notify()
}

// Restart discards all progress and moves the job back to Downloading. The
// current run keeps ownership and hands it to the next one.
func (j *Job) Restart() {
	j.mu.Lock()
	j.downloaded.Store(0)
	j.verified.Store(false)
	j.intent.Store(int32(IntentNone))
	j.status.Store(int32(StatusDownloading))
	j.mu.Unlock()

	j.Notify()
}

// Finish applies the final status of a run and releases ownership.
func (j *Job) Finish(status Status, err error) {
	j.mu.Lock()
	j.status.Store(int32(status))
	j.intent.Store(int32(IntentNone))
	j.running = false
	j.err = err
	j.mu.Unlock()

	j.Notify()
}
