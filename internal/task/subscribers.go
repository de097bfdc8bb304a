package task

import (
	"context"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// Update is what observers receive: the task identifier and its state.
type Update[T, L any] struct {
	ID    uuid.UUID
	State State[T, L]
}

// Observer receives updates on the task goroutine. Deliver must not block.
// An observer that reports false from Deliver or Alive is forgotten.
type Observer[T, L any] interface {
	Deliver(Update[T, L]) bool
	Alive() bool
}

// releaser is implemented by observers that own resources the registry
// should free once the observer is pruned.
type releaser interface {
	release()
}

// RefKind says how the registry holds an observer.
type RefKind int

const (
	// StrongRef keeps the observer until it reports itself dead.
	StrongRef RefKind = iota
	// WeakRef lets the observer be garbage collected; it is resolved at
	// send time and pruned once it is gone.
	WeakRef
)

type ref[T, L any] struct {
	kind    RefKind
	strong  Observer[T, L]
	resolve func() Observer[T, L]
}

func (r ref[T, L]) observer() Observer[T, L] {
	if r.kind == WeakRef {
		return r.resolve()
	}
	return r.strong
}

func strongRef[T, L any](o Observer[T, L]) ref[T, L] {
	return ref[T, L]{kind: StrongRef, strong: o}
}

// weakFeedRef holds feed through a weak pointer. The resolver must not
// capture feed itself or it would never be collected.
func weakFeedRef[T, L, M any](feed *Feed[M], conv func(Update[T, L]) M) ref[T, L] {
	wp := weak.Make(feed)
	return ref[T, L]{kind: WeakRef, resolve: func() Observer[T, L] {
		f := wp.Value()
		if f == nil {
			return nil
		}
		return feedObserver[T, L, M]{feed: f, conv: conv}
	}}
}

// subscribers is the broadcast list of one task. It is owned by the task
// goroutine and never locked.
type subscribers[T, L any] struct {
	id   uuid.UUID
	refs []ref[T, L]
}

// add replays current to the observer and keeps it when it wants more.
func (s *subscribers[T, L]) add(r ref[T, L], current State[T, L]) {
	o := r.observer()
	if o == nil || !o.Alive() {
		return
	}
	if !o.Deliver(Update[T, L]{ID: s.id, State: current}) {
		drop(o)
		return
	}
	s.refs = append(s.refs, r)
}

// broadcast delivers st to every live observer and prunes the rest.
func (s *subscribers[T, L]) broadcast(st State[T, L]) {
	u := Update[T, L]{ID: s.id, State: st}
	live := s.refs[:0]
	for _, r := range s.refs {
		o := r.observer()
		if o == nil {
			continue
		}
		if !o.Alive() || !o.Deliver(u) {
			drop(o)
			continue
		}
		live = append(live, r)
	}
	clear(s.refs[len(live):])
	s.refs = live
}

// prune forgets dead observers and returns how many are left.
func (s *subscribers[T, L]) prune() int {
	live := s.refs[:0]
	for _, r := range s.refs {
		o := r.observer()
		if o == nil {
			continue
		}
		if !o.Alive() {
			drop(o)
			continue
		}
		live = append(live, r)
	}
	clear(s.refs[len(live):])
	s.refs = live
	return len(live)
}

func (s *subscribers[T, L]) closeAll() {
	for _, r := range s.refs {
		if o := r.observer(); o != nil {
			drop(o)
		}
	}
	s.refs = nil
}

func (s *subscribers[T, L]) len() int { return len(s.refs) }

func drop(o any) {
	if r, ok := o.(releaser); ok {
		r.release()
	}
}

// Feed is a buffered stream of task updates. Sends never block the task:
// when the buffer is full the oldest queued value is evicted, so the most
// recent state, including a terminal one, always reaches the reader.
//
// C is closed once the feed has been pruned, which happens after Close,
// after the subscribing context ends, or when the task stops.
type Feed[M any] struct {
	ch     chan M
	ctx    context.Context
	closed atomic.Bool

	// released is only touched by the task goroutine.
	released bool
}

func newFeed[M any](ctx context.Context, buffer int) *Feed[M] {
	if buffer < 1 {
		buffer = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Feed[M]{ch: make(chan M, buffer), ctx: ctx}
}

func (f *Feed[M]) C() <-chan M { return f.ch }

// Close detaches the feed. The task prunes it on its next broadcast or sweep.
func (f *Feed[M]) Close() { f.closed.Store(true) }

func (f *Feed[M]) Alive() bool { return !f.closed.Load() && f.ctx.Err() == nil }

func (f *Feed[M]) push(m M) {
	for {
		select {
		case f.ch <- m:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *Feed[M]) release() {
	if f.released {
		return
	}
	f.released = true
	close(f.ch)
}

type feedObserver[T, L, M any] struct {
	feed *Feed[M]
	conv func(Update[T, L]) M
}

func (o feedObserver[T, L, M]) Deliver(u Update[T, L]) bool {
	if !o.feed.Alive() {
		return false
	}
	o.feed.push(o.conv(u))
	return true
}

func (o feedObserver[T, L, M]) Alive() bool { return o.feed.Alive() }

func (o feedObserver[T, L, M]) release() { o.feed.release() }

func identity[T, L any](u Update[T, L]) Update[T, L] { return u }
