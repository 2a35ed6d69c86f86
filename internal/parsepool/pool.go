// Package parsepool provides a bounded worker pool for CPU-bound work
// (PDF parsing, rendering, security scanning). Submitting goroutines
// suspend on a result channel, so callers stay cancellable while the
// heavy work runs on a fixed number of workers.
package parsepool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("parse pool closed")

// Task is one unit of CPU-bound work.
type Task func() (interface{}, error)

type job struct {
	ctx    context.Context
	task   Task
	result chan result
}

type result struct {
	value interface{}
	err   error
}

// Pool runs tasks on a fixed set of workers.
type Pool struct {
	jobs      chan job
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates and starts a pool with the given number of workers.
// Parameters:
//   - workers: worker goroutine count; <=0 uses 4.
// Returns:
//   - *Pool: running pool.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			// A cancelled submitter has already stopped listening.
			if j.ctx.Err() != nil {
				j.result <- result{err: j.ctx.Err()}
				continue
			}
			v, err := safeRun(j.task)
			j.result <- result{value: v, err: err}
		}
	}
}

func safeRun(t Task) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse task panicked: %v", r)
		}
	}()
	return t()
}

// Run submits a task and waits for its result or context cancellation.
//
// On cancellation the task may still execute to completion on a worker;
// its result is discarded. This is the hard-timeout mechanism for
// untrusted-content scanning: the caller regains control at the deadline
// regardless of the parser's behavior.
// Parameters:
//   - ctx: context bounding the wait.
//   - task: work to run.
// Returns:
//   - interface{}: task result.
//   - error: task error, ErrPoolClosed, or ctx.Err() on timeout/cancel.
func (p *Pool) Run(ctx context.Context, task Task) (interface{}, error) {
	res := make(chan result, 1)
	select {
	case p.jobs <- job{ctx: ctx, task: task, result: res}:
	case <-p.quit:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-res:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers. In-flight tasks finish; queued submitters
// receive ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
