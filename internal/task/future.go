package task

import (
	"context"
	"errors"
)

// Future resolves once, when the task it was attached to reaches a
// terminal state.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] { return &Future[T]{done: make(chan struct{})} }

// Done is closed when the future has resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A canceled task
// yields ErrCanceled and a failed one its *Error.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) resolve(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

// waiter adapts a Future to the observer list.
type waiter[T, L any] struct {
	f        *Future[T]
	ctx      context.Context
	resolved bool
}

func (w *waiter[T, L]) Deliver(u Update[T, L]) bool {
	var zero T
	switch u.State.Kind {
	case KindDone:
		w.finish(u.State.Value, nil)
	case KindCanceled:
		w.finish(zero, ErrCanceled)
	case KindError:
		if u.State.Err == nil {
			w.finish(zero, errors.New("task failed"))
		} else {
			w.finish(zero, u.State.Err)
		}
	default:
		return w.Alive()
	}
	return false
}

func (w *waiter[T, L]) Alive() bool { return !w.resolved && w.ctx.Err() == nil }

// release resolves a waiter that is pruned before the task finished:
// either its context ended or the task stopped.
func (w *waiter[T, L]) release() {
	if w.resolved {
		return
	}
	var zero T
	if err := w.ctx.Err(); err != nil {
		w.finish(zero, err)
		return
	}
	w.finish(zero, ErrClosed)
}

func (w *waiter[T, L]) finish(v T, err error) {
	if w.resolved {
		return
	}
	w.resolved = true
	w.f.resolve(v, err)
}
