// Package workpool runs asynchronous jobs in FIFO order under a fixed concurrency ceiling.
package workpool

import (
	"context"
	"fmt"
	"sync"
)

// Job is a unit of work submitted to the queue.
type Job func(ctx context.Context) (any, error)

// Future resolves with the outcome of exactly one job.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Done is closed once the job finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finished or ctx ends.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingJob struct {
	ctx    context.Context
	job    Job
	future *Future
}

// Queue holds pending jobs and spawns at most `concurrency` worker loops that
// drain them. Workers exit when the pending list is empty.
type Queue struct {
	mu          sync.Mutex
	pending     []pendingJob
	active      int
	concurrency int
	observer    func(active int)
}

// Option customises a Queue.
type Option func(*Queue)

// WithActiveObserver is notified whenever the number of running workers changes.
func WithActiveObserver(fn func(active int)) Option {
	return func(q *Queue) {
		q.observer = fn
	}
}

// New constructs a queue; a non-positive concurrency falls back to 1.
func New(concurrency int, opts ...Option) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	q := &Queue{concurrency: concurrency}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Concurrency returns the worker ceiling.
func (q *Queue) Concurrency() int {
	return q.concurrency
}

// Enqueue appends a job and returns a future for its result. The job runs with ctx.
func (q *Queue) Enqueue(ctx context.Context, job Job) *Future {
	if ctx == nil {
		ctx = context.Background()
	}
	future := &Future{done: make(chan struct{})}

	q.mu.Lock()
	q.pending = append(q.pending, pendingJob{ctx: ctx, job: job, future: future})
	spawn := q.active < q.concurrency
	if spawn {
		q.active++
	}
	active := q.active
	q.mu.Unlock()

	if spawn {
		q.notify(active)
		go q.work()
	}

	return future
}

// Pending returns the number of jobs not yet picked up by a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of running worker loops.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) work() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.active--
			active := q.active
			q.mu.Unlock()
			q.notify(active)
			return
		}
		next := q.pending[0]
		q.pending[0] = pendingJob{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		next.future.value, next.future.err = run(next.ctx, next.job)
		close(next.future.done)
	}
}

func (q *Queue) notify(active int) {
	if q.observer != nil {
		q.observer(active)
	}
}

func run(ctx context.Context, job Job) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			value = nil
			err = fmt.Errorf("workpool: job panicked: %v", recovered)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return job(ctx)
}

// Submit enqueues a typed job and waits for its result.
func Submit[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	future := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	value, err := future.Wait(ctx)
	if err != nil {
		if typed, ok := value.(T); ok {
			return typed, err
		}
		return zero, err
	}
	typed, ok := value.(T)
	if !ok && value != nil {
		return zero, fmt.Errorf("workpool: unexpected result type %T", value)
	}
	return typed, nil
}
