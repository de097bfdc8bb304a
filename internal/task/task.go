package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/history"
	"github.com/tinoosan/mdarchive/internal/metrics"
)

var (
	// ErrClosed is returned by commands sent to a task that has stopped.
	ErrClosed = errors.New("task closed")
	// ErrCanceled resolves waiters of a canceled task.
	ErrCanceled = errors.New("task canceled")
	// ErrCapacity is returned by Start when the concurrency limit is reached.
	ErrCapacity = errors.New("too many concurrent downloads")
)

// DefaultGCInterval is how often a task checks whether anyone still cares
// about it.
const DefaultGCInterval = 500 * time.Millisecond

// holdGrace is how long a task handed out by its manager survives sweeps
// while the caller has not yet observed it.
const holdGrace = time.Second

// Workflow fetches and stores one item. report publishes a loading phase
// and returns after every observer has been notified; it returns an error
// once the run has been canceled, and the workflow should stop.
type Workflow[T, L any] func(ctx context.Context, report func(L) error) (T, error)

// Journal records operations in flight. *history.Service satisfies it.
type Journal interface {
	InsertAndCommit(ctx context.Context, e history.Entry) error
	RemoveAndCommit(ctx context.Context, e history.Entry) error
}

// Limiter bounds how many workflows run at once. *semaphore.Weighted
// satisfies it.
type Limiter interface {
	TryAcquire(n int64) bool
	Release(n int64)
}

type taskConfig[T, L any] struct {
	id         uuid.UUID
	category   data.Category
	work       Workflow[T, L]
	journal    Journal
	limiter    Limiter
	gcInterval time.Duration
	log        *slog.Logger
	// unwanted is called from the task goroutine when the task is finished
	// and unobserved. The task stops right after.
	unwanted func(*Task[T, L])
	changed  func()
}

// Task is the state machine for downloading one item. A single goroutine
// owns its state, run generation and observers; callers only send it
// commands.
type Task[T, L any] struct {
	cfg taskConfig[T, L]
	log *slog.Logger

	cmds     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	current atomic.Pointer[State[T, L]]
	read    atomic.Bool

	// Owned by the task goroutine.
	state   State[T, L]
	gen     uint64
	running bool
	cancel  context.CancelFunc
	subs    subscribers[T, L]
	// heldUntil defers release until the caller that was just handed the
	// task gets to observe it.
	heldUntil time.Time
}

func newTask[T, L any](cfg taskConfig[T, L]) *Task[T, L] {
	if cfg.gcInterval <= 0 {
		cfg.gcInterval = DefaultGCInterval
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	t := &Task[T, L]{
		cfg:  cfg,
		log:  cfg.log.With("category", cfg.category, "id", cfg.id),
		cmds: make(chan func()),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		subs: subscribers[T, L]{id: cfg.id},
	}
	t.state = Pending[T, L]()
	snap := t.state
	t.current.Store(&snap)
	go t.loop()
	return t
}

func (t *Task[T, L]) ID() uuid.UUID { return t.cfg.id }

func (t *Task[T, L]) Category() data.Category { return t.cfg.category }

func (t *Task[T, L]) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case fn := <-t.cmds:
			fn()
		case <-ticker.C:
			if t.sweep() {
				t.shutdown()
				return
			}
		case <-t.stop:
			t.shutdown()
			return
		}
	}
}

// sweep prunes dead observers and reports whether the task should go away:
// finished, read at least once and with nobody left listening.
func (t *Task[T, L]) sweep() bool {
	live := t.subs.prune()
	if time.Now().Before(t.heldUntil) {
		return false
	}
	if t.running || !t.state.Terminal() || !t.read.Load() || live > 0 {
		return false
	}
	if t.cfg.unwanted != nil {
		t.cfg.unwanted(t)
	}
	t.log.Debug("task released", "state", t.state.String())
	return true
}

func (t *Task[T, L]) shutdown() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
	t.subs.closeAll()
}

// close stops the task goroutine and waits for it. In-flight work is
// aborted and pending waiters resolve with ErrClosed.
func (t *Task[T, L]) close() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Closed is closed once the task goroutine has exited.
func (t *Task[T, L]) Closed() <-chan struct{} { return t.done }

func (t *Task[T, L]) send(ctx context.Context, fn func()) error {
	select {
	case t.cmds <- fn:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ask runs fn on the task goroutine and returns its result.
func ask[T, L, R any](ctx context.Context, t *Task[T, L], fn func() R) (R, error) {
	reply := make(chan R, 1)
	if err := t.send(ctx, func() { reply <- fn() }); err != nil {
		var zero R
		return zero, err
	}
	return <-reply, nil
}

// State returns the latest published state without involving the task
// goroutine. It counts as the task having been read.
func (t *Task[T, L]) State() State[T, L] {
	t.read.Store(true)
	return *t.current.Load()
}

func (t *Task[T, L]) peek() State[T, L] { return *t.current.Load() }

// Summary is State in type-erased form.
func (t *Task[T, L]) Summary() Summary {
	return t.State().Summarize(t.cfg.id, string(t.cfg.category))
}

// Start launches the workflow unless a run is already in flight. A finished
// task is reset to Pending and run again.
//
// A Start issued from inside a running workflow, with the workflow's
// context, runs on the caller's capacity slot.
func (t *Task[T, L]) Start(ctx context.Context) error {
	nested := inWorkflow(ctx)
	err, sendErr := ask(ctx, t, func() error { return t.start(nested) })
	if sendErr != nil {
		return sendErr
	}
	return err
}

func (t *Task[T, L]) start(nested bool) error {
	if t.running {
		return nil
	}
	slot := false
	if t.cfg.limiter != nil && !nested {
		if !t.cfg.limiter.TryAcquire(1) {
			return ErrCapacity
		}
		slot = true
	}
	t.gen++
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), workflowKey{}, true))
	t.cancel = cancel
	t.running = true
	if t.state.Kind != KindPending {
		t.transition(Pending[T, L]())
	}
	t.log.Info("task started", "run", t.gen)
	go t.run(ctx, t.gen, slot)
	return nil
}

type workflowKey struct{}

func inWorkflow(ctx context.Context) bool {
	v, _ := ctx.Value(workflowKey{}).(bool)
	return v
}

// Cancel aborts the in-flight workflow and publishes Canceled. It does
// nothing once the task is terminal.
func (t *Task[T, L]) Cancel(ctx context.Context) error {
	_, err := ask(ctx, t, func() struct{} {
		t.cancelRun()
		return struct{}{}
	})
	return err
}

func (t *Task[T, L]) cancelRun() {
	if t.state.Terminal() {
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
	t.transition(Canceled[T, L]())
	t.log.Info("task canceled", "run", t.gen)
}

// Watch registers obs and replays the current state to it.
func (t *Task[T, L]) Watch(ctx context.Context, obs Observer[T, L]) error {
	return t.attach(ctx, strongRef(obs))
}

// Subscribe returns a feed of every state from now on, starting with the
// current one. The feed ends when ctx ends or Close is called.
func (t *Task[T, L]) Subscribe(ctx context.Context, buffer int) (*Feed[Update[T, L]], error) {
	f := newFeed[Update[T, L]](ctx, buffer)
	if err := t.attach(ctx, strongRef[T, L](feedObserver[T, L, Update[T, L]]{feed: f, conv: identity[T, L]})); err != nil {
		return nil, err
	}
	return f, nil
}

// SubscribeWeak is Subscribe with the task holding the feed weakly: once
// the caller drops every reference to the feed it is pruned.
func (t *Task[T, L]) SubscribeWeak(ctx context.Context, buffer int) (*Feed[Update[T, L]], error) {
	f := newFeed[Update[T, L]](ctx, buffer)
	if err := t.attach(ctx, weakFeedRef(f, identity[T, L])); err != nil {
		return nil, err
	}
	return f, nil
}

// Updates is Subscribe with states converted to summaries.
func (t *Task[T, L]) Updates(ctx context.Context, buffer int) (*Feed[Summary], error) {
	f := newFeed[Summary](ctx, buffer)
	conv := func(u Update[T, L]) Summary { return u.State.Summarize(u.ID, string(t.cfg.category)) }
	if err := t.attach(ctx, strongRef[T, L](feedObserver[T, L, Summary]{feed: f, conv: conv})); err != nil {
		return nil, err
	}
	return f, nil
}

// WaitForFinished returns a future that resolves when the task reaches a
// terminal state. ctx bounds how long the task keeps the waiter.
func (t *Task[T, L]) WaitForFinished(ctx context.Context) (*Future[T], error) {
	f := newFuture[T]()
	if err := t.attach(ctx, strongRef[T, L](&waiter[T, L]{f: f, ctx: ctx})); err != nil {
		return nil, err
	}
	return f, nil
}

// Wait is WaitForFinished followed by Future.Wait.
func (t *Task[T, L]) Wait(ctx context.Context) (T, error) {
	f, err := t.WaitForFinished(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Wait(ctx)
}

// Await waits for a terminal state and returns it as a summary.
func (t *Task[T, L]) Await(ctx context.Context) (Summary, error) {
	if _, err := t.Wait(ctx); err != nil && !isTerminalErr(err) {
		return t.Summary(), err
	}
	return t.Summary(), nil
}

func isTerminalErr(err error) bool {
	var te *Error
	return errors.Is(err, ErrCanceled) || errors.As(err, &te)
}

// hold keeps the task from being released until it is observed or
// holdGrace passes. It fails with ErrClosed if the task is already gone.
func (t *Task[T, L]) hold(ctx context.Context) error {
	_, err := ask(ctx, t, func() struct{} {
		t.heldUntil = time.Now().Add(holdGrace)
		return struct{}{}
	})
	return err
}

func (t *Task[T, L]) attach(ctx context.Context, r ref[T, L]) error {
	_, err := ask(ctx, t, func() struct{} {
		t.heldUntil = time.Time{}
		t.read.Store(true)
		t.subs.add(r, t.state)
		return struct{}{}
	})
	return err
}

// Observers returns the number of registered observers.
func (t *Task[T, L]) Observers(ctx context.Context) (int, error) {
	return ask(ctx, t, t.subs.len)
}

func (t *Task[T, L]) transition(s State[T, L]) {
	t.state = s
	snap := s
	t.current.Store(&snap)
	metrics.TaskTransitions.WithLabelValues(string(t.cfg.category), s.Kind.String()).Inc()
	t.log.Debug("task transition", "state", s.String())
	t.subs.broadcast(s)
	if t.cfg.changed != nil {
		t.cfg.changed()
	}
}

func (t *Task[T, L]) entry() history.Entry {
	return history.Entry{ID: t.cfg.id, Category: t.cfg.category}
}

// run is the workflow goroutine of one generation. The operation log entry
// is committed before the first remote call and removed only after the
// last successful write; failures and cancellation leave it in place.
func (t *Task[T, L]) run(ctx context.Context, gen uint64, slot bool) {
	category := string(t.cfg.category)
	metrics.RunningWorkflows.WithLabelValues(category).Inc()
	defer func() {
		metrics.RunningWorkflows.WithLabelValues(category).Dec()
		if slot {
			t.cfg.limiter.Release(1)
		}
	}()

	if t.cfg.journal != nil {
		err := t.cfg.journal.InsertAndCommit(ctx, t.entry())
		switch {
		case errors.Is(err, history.ErrAlreadyExists):
			t.log.Info("resuming incomplete operation", "run", gen)
		case err != nil:
			t.finish(ctx, gen, Failed[T, L](fmt.Errorf("record operation: %w", err)))
			return
		}
	}

	value, err := t.cfg.work(ctx, func(phase L) error {
		return t.post(ctx, gen, Loading[T, L](phase))
	})
	if err != nil {
		t.finish(ctx, gen, Failed[T, L](err))
		return
	}

	t.complete(ctx, gen, value)
}

// post publishes a loading phase of generation gen and waits until it has
// been fanned out.
func (t *Task[T, L]) post(ctx context.Context, gen uint64, s State[T, L]) error {
	err, sendErr := ask(ctx, t, func() error {
		if gen != t.gen || !t.running {
			return ErrCanceled
		}
		t.transition(s)
		return nil
	})
	if sendErr != nil {
		return sendErr
	}
	return err
}

// finish publishes the terminal state of generation gen. Results of a run
// that was canceled or superseded are discarded.
func (t *Task[T, L]) finish(ctx context.Context, gen uint64, s State[T, L]) {
	t.publish(ctx, gen, func() State[T, L] { return s })
}

// complete clears the operation log entry of a successful run and publishes
// Done. Both happen on the task goroutine, so a run that was canceled or
// superseded meanwhile never removes the entry its successor relies on.
func (t *Task[T, L]) complete(ctx context.Context, gen uint64, value T) {
	t.publish(ctx, gen, func() State[T, L] {
		if t.cfg.journal != nil {
			if err := t.cfg.journal.RemoveAndCommit(ctx, t.entry()); err != nil {
				return Failed[T, L](fmt.Errorf("clear operation: %w", err))
			}
		}
		return Done[T, L](value)
	})
}

// publish runs settle on the task goroutine if gen is still the live run
// and transitions to the state it returns.
func (t *Task[T, L]) publish(ctx context.Context, gen uint64, settle func() State[T, L]) {
	err := t.send(ctx, func() {
		if gen != t.gen || !t.running {
			t.log.Debug("discarding result of superseded run", "run", gen)
			return
		}
		s := settle()
		t.running = false
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		t.transition(s)
		switch s.Kind {
		case KindError:
			t.log.Warn("task failed", "run", gen, "err", s.Err)
		default:
			t.log.Info("task finished", "run", gen, "state", s.Kind.String())
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		t.log.Error("publish terminal state", "run", gen, "err", err)
	}
}
