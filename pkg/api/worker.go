package api

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned for work submitted after the bridge closed
var ErrStopped = errors.New("bridge stopped")

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// worker runs Session operations one at a time, in submission order
type worker struct {
	jobs     chan job
	done     chan struct{}
	stopOnce sync.Once
}

func newWorker() *worker {
	return &worker{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
}

func (w *worker) run() {
	for {
		select {
		case j := <-w.jobs:
			j.result <- j.fn(context.WithoutCancel(j.ctx))
		case <-w.done:
			return
		}
	}
}

// do blocks until fn has run on the worker goroutine. It gives up without
// running fn if ctx ends or the worker stops first. Once started, fn is
// detached from ctx cancellation and ends on the transport timeouts, so an
// HTTP client hanging up never closes the relay connection.
func (w *worker) do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}

	return <-j.result
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
