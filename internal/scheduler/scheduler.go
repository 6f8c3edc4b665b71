package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/italolelis/rangefetch/internal/logctx"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit once the pool is closed.
var ErrClosed = errors.New("scheduler: pool is closed")

// Pool runs every submission on its own goroutine. With a positive limit,
// submissions beyond it wait on their goroutine for a free slot instead of
// blocking the caller.
type Pool struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	running atomic.Int64
}

// New creates a pool. maxConcurrent <= 0 means unbounded.
func New(maxConcurrent int64) *Pool {
	p := &Pool{}
	if maxConcurrent > 0 {
		p.sem = semaphore.NewWeighted(maxConcurrent)
	}

	return p
}

// Submit schedules fn. It never blocks on the concurrency limit.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)

	go p.run(ctx, fn)

	return nil
}

func (p *Pool) run(ctx context.Context, fn func(ctx context.Context)) {
	defer p.wg.Done()

	logger := logctx.LoggerFromContext(ctx)

	if p.sem != nil {
		// Acquire only fails on a cancelled context.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			logger.Warn("dropping scheduled run", "err", err)

			return
		}
		defer p.sem.Release(1)
	}

	p.running.Add(1)
	defer p.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled run panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	fn(ctx)
}

// Running returns the number of submissions executing right now.
func (p *Pool) Running() int64 {
	return p.running.Load()
}

// Wait blocks until every submitted run has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close rejects new submissions and waits for the ones in flight.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
