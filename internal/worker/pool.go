// Package worker bounds how many document processing jobs run at once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when submitting to a pool that is shutting down.
var ErrClosed = errors.New("worker pool closed")

// Job is a unit of work executed by the pool.
type Job func(ctx context.Context) error

// Pool runs jobs with at most size of them in flight.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool. size below 1 is treated as 1.
func NewPool(size int, log logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: log}
}

// Do waits for a free slot and runs job on the calling goroutine.
func (p *Pool) Do(ctx context.Context, job Job) error {
	if !p.track() {
		return ErrClosed
	}
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	defer p.sem.Release(1)
	return job(ctx)
}

// Go runs job in the background once a slot frees up. Errors are logged under name.
func (p *Pool) Go(ctx context.Context, name string, job Job) error {
	if !p.track() {
		return ErrClosed
	}
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.WithField("job", name).WithError(err).Warn("job dropped before start")
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.WithField("job", name).Errorf("job panicked: %v", r)
			}
		}()
		if err := job(ctx); err != nil {
			p.log.WithField("job", name).WithError(err).Warn("job failed")
		}
	}()
	return nil
}

// Close stops accepting jobs and waits for running ones or ctx, whichever is first.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) track() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}
