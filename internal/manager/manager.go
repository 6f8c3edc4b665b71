package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/italolelis/rangefetch/internal/job"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/italolelis/rangefetch/internal/notifier"
	"github.com/italolelis/rangefetch/internal/storage"
)

var (
	// ErrNotFound is returned for an id that is not in the collection.
	ErrNotFound = errors.New("manager: job not found")
	// ErrNotClearable is returned when clearing a job that is still active.
	ErrNotClearable = errors.New("manager: job is still active")
)

// Hook is called once each time a job comes to rest in Complete or Error. It
// runs on the transfer goroutine after the job has been released.
type Hook func(ctx context.Context, j *job.Job)

// Engine is the part of the download engine the manager drives.
type Engine interface {
	Start(ctx context.Context, j *job.Job) error
	Pause(j *job.Job) error
	Resume(ctx context.Context, j *job.Job) error
	Cancel(j *job.Job) error
}

type entry struct {
	job         *job.Job
	unsubscribe func()
}

// Manager owns the collection of jobs.
type Manager struct {
	engine Engine
	hooks  []Hook

	mu    sync.RWMutex
	jobs  map[string]*entry
	order []string
}

func New(e Engine, hooks ...Hook) *Manager {
	return &Manager{
		engine: e,
		hooks:  hooks,
		jobs:   make(map[string]*entry),
	}
}

// Add validates rawURL, adds a new job to the collection and starts it.
func (m *Manager) Add(ctx context.Context, rawURL, algorithm, digest string) (*job.Job, error) {
	target, err := job.ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	j := job.New(target, algorithm, digest)

	e := &entry{job: j}
	e.unsubscribe = j.Subscribe(m.watch(context.WithoutCancel(ctx), j))

	m.mu.Lock()
	m.jobs[j.ID()] = e
	m.order = append(m.order, j.ID())
	m.mu.Unlock()

	logctx.LoggerFromContext(ctx).Info("job added", "job_id", j.ID(), "url", j.URL(), "file", j.FileName())

	if err := m.engine.Start(ctx, j); err != nil {
		return j, fmt.Errorf("failed to start job: %w", err)
	}

	return j, nil
}

// watch fires the hooks on every arrival at rest in Complete or Error. A return
// to Downloading re-arms it.
func (m *Manager) watch(ctx context.Context, j *job.Job) func() {
	var armed atomic.Bool

	armed.Store(true)

	return func() {
		switch j.Status() {
		case job.StatusDownloading:
			armed.Store(true)
		case job.StatusComplete, job.StatusError:
			if j.Running() || !armed.CompareAndSwap(true, false) {
				return
			}

			for _, hook := range m.hooks {
				hook(ctx, j)
			}
		}
	}
}

func (m *Manager) Get(id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	return e.job, nil
}

// List returns the jobs in the order they were added.
func (m *Manager) List() []*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*job.Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id].job)
	}

	return jobs
}

func (m *Manager) Pause(id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}

	return m.engine.Pause(j)
}

func (m *Manager) Resume(ctx context.Context, id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}

	return m.engine.Resume(ctx, j)
}

func (m *Manager) Cancel(id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}

	return m.engine.Cancel(j)
}

// Clear removes a job that is Complete, Cancelled or Error and has no active run.
// The downloaded file is left in place.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if !clearable(e.job) {
		return ErrNotClearable
	}

	m.remove(id)

	return nil
}

// ClearFinished removes every clearable job and returns how many were removed.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared []string

	for _, id := range m.order {
		if clearable(m.jobs[id].job) {
			cleared = append(cleared, id)
		}
	}

	for _, id := range cleared {
		m.remove(id)
	}

	return len(cleared)
}

// remove must be called with mu held.
func (m *Manager) remove(id string) {
	m.jobs[id].unsubscribe()
	delete(m.jobs, id)

	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)

			break
		}
	}
}

func clearable(j *job.Job) bool {
	return j.Status().IsClearable() && !j.Running()
}

// LedgerHook records completed downloads; failures are not recorded.
func LedgerHook(repo storage.DownloadWriteRepository) Hook {
	return func(ctx context.Context, j *job.Job) {
		if j.Status() != job.StatusComplete {
			return
		}

		rec := storage.DownloadRecord{
			JobID:     j.ID(),
			URL:       j.URL(),
			FilePath:  j.FileName(),
			Size:      j.Size(),
			Algorithm: j.Algorithm(),
			Verified:  j.Verified(),
		}

		if err := repo.RecordDownload(ctx, rec); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to record download", "job_id", j.ID(), "err", err)
		}
	}
}

// NotifyHook announces finished and failed downloads.
func NotifyHook(n notifier.Notifier) Hook {
	return func(ctx context.Context, j *job.Job) {
		var content string

		switch j.Status() {
		case job.StatusComplete:
			content = "Download finished: " + j.FileName()
		case job.StatusError:
			content = fmt.Sprintf("Download failed: %s (%v)", j.FileName(), j.Err())
		default:
			return
		}

		if err := n.Notify(ctx, content); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "job_id", j.ID(), "err", err)
		}
	}
}
