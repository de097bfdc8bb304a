package task

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/metrics"
)

var (
	ErrManagerClosed = errors.New("task manager closed")
	ErrUnknownTask   = errors.New("task not tracked")
)

// Desired is what a requester wants done with the task it asks for.
type Desired int

const (
	// Idle returns the task without starting it.
	Idle Desired = iota
	// Downloading also starts the task unless it is already running.
	Downloading
)

func ParseDesired(s string) (Desired, error) {
	switch s {
	case "", "idle":
		return Idle, nil
	case "downloading", "download":
		return Downloading, nil
	default:
		return Idle, errors.New("invalid desired state")
	}
}

// Options configures a Manager.
type Options[T, L any] struct {
	Category data.Category
	// Workflow builds the download workflow of one item.
	Workflow   func(id uuid.UUID) Workflow[T, L]
	Journal    Journal
	Limiter    Limiter
	GCInterval time.Duration
	Logger     *slog.Logger
}

// Manager tracks at most one Task per identifier in its category and lets
// finished, unobserved tasks go. A single goroutine owns the map.
type Manager[T, L any] struct {
	opts Options[T, L]
	log  *slog.Logger

	cmds     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	tasks map[uuid.UUID]*Task[T, L]

	sigMu sync.Mutex
	sig   chan struct{}
}

func NewManager[T, L any](opts Options[T, L]) *Manager[T, L] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = DefaultGCInterval
	}
	m := &Manager[T, L]{
		opts:  opts,
		log:   opts.Logger.With("component", "tasks", "category", opts.Category),
		cmds:  make(chan func()),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		tasks: make(map[uuid.UUID]*Task[T, L]),
		sig:   make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Manager[T, L]) Category() data.Category { return m.opts.Category }

func (m *Manager[T, L]) loop() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.stop:
			return
		}
	}
}

// Stop stops the manager and every task it tracks.
func (m *Manager[T, L]) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		for id, t := range m.tasks {
			t.close()
			delete(m.tasks, id)
		}
		metrics.TrackedTasks.WithLabelValues(string(m.opts.Category)).Set(0)
		m.notify()
	})
}

func (m *Manager[T, L]) do(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	select {
	case m.cmds <- func() { fn(); close(reply) }:
	case <-m.stop:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-reply
	return nil
}

// Changed is closed the next time anything in the manager changes: a task
// is added or removed, or a tracked task publishes a state.
func (m *Manager[T, L]) Changed() <-chan struct{} {
	m.sigMu.Lock()
	defer m.sigMu.Unlock()
	return m.sig
}

func (m *Manager[T, L]) notify() {
	m.sigMu.Lock()
	close(m.sig)
	m.sig = make(chan struct{})
	m.sigMu.Unlock()
}

// getOrCreate is the single dedup point: concurrent calls for one id all
// land on the manager goroutine and get the same task.
func (m *Manager[T, L]) getOrCreate(ctx context.Context, id uuid.UUID) (*Task[T, L], error) {
	var t *Task[T, L]
	err := m.do(ctx, func() {
		if existing, ok := m.tasks[id]; ok {
			t = existing
			return
		}
		t = m.newTask(id)
		m.tasks[id] = t
		metrics.TrackedTasks.WithLabelValues(string(m.opts.Category)).Set(float64(len(m.tasks)))
		m.log.Debug("task created", "id", id)
		m.notify()
	})
	return t, err
}

func (m *Manager[T, L]) newTask(id uuid.UUID) *Task[T, L] {
	return newTask(taskConfig[T, L]{
		id:         id,
		category:   m.opts.Category,
		work:       m.opts.Workflow(id),
		journal:    m.opts.Journal,
		limiter:    m.opts.Limiter,
		gcInterval: m.opts.GCInterval,
		log:        m.opts.Logger,
		unwanted:   m.dropIfUnwanted,
		changed:    m.notify,
	})
}

// Request returns the task for id, creating it when untracked. With
// Downloading it also starts the task unless it is already running. The
// returned task is held back from collection until the caller observes it
// or holdGrace passes.
func (m *Manager[T, L]) Request(ctx context.Context, id uuid.UUID, desired Desired) (*Task[T, L], error) {
	for {
		t, err := m.getOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		err = t.hold(ctx)
		if err == nil && desired == Downloading {
			err = t.Start(ctx)
		}
		if errors.Is(err, ErrClosed) {
			// Released between lookup and use; the next lookup makes a new one.
			continue
		}
		if err != nil && desired != Downloading {
			return nil, err
		}
		return t, err
	}
}

// Lookup returns the tracked task for id without creating one. A task
// whose goroutine has already exited is never returned.
func (m *Manager[T, L]) Lookup(ctx context.Context, id uuid.UUID) (*Task[T, L], bool, error) {
	for {
		var (
			t  *Task[T, L]
			ok bool
		)
		if err := m.do(ctx, func() { t, ok = m.tasks[id] }); err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		select {
		case <-t.Closed():
			// Released after the map lookup; it is no longer tracked.
			continue
		default:
			return t, true, nil
		}
	}
}

// IDs lists tracked identifiers in a stable order.
func (m *Manager[T, L]) IDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := m.do(ctx, func() {
		ids = make([]uuid.UUID, 0, len(m.tasks))
		for id := range m.tasks {
			ids = append(ids, id)
		}
	})
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, err
}

// Drop cancels and forgets the task for id regardless of observers.
func (m *Manager[T, L]) Drop(ctx context.Context, id uuid.UUID) error {
	var (
		t  *Task[T, L]
		ok bool
	)
	err := m.do(ctx, func() {
		t, ok = m.tasks[id]
		if ok {
			delete(m.tasks, id)
			metrics.TrackedTasks.WithLabelValues(string(m.opts.Category)).Set(float64(len(m.tasks)))
			m.notify()
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownTask
	}
	if err := t.Cancel(ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.log.Warn("cancel dropped task", "id", id, "err", err)
	}
	t.close()
	m.log.Info("task dropped", "id", id)
	return nil
}

// dropIfUnwanted runs on the task goroutine of t once t is finished, was
// read, and has no observers. Only that exact instance is removed.
func (m *Manager[T, L]) dropIfUnwanted(t *Task[T, L]) {
	_ = m.do(context.Background(), func() {
		if cur, ok := m.tasks[t.ID()]; ok && cur == t {
			delete(m.tasks, t.ID())
			metrics.TrackedTasks.WithLabelValues(string(m.opts.Category)).Set(float64(len(m.tasks)))
			m.log.Debug("task collected", "id", t.ID(), "state", t.peek().Kind.String())
			m.notify()
		}
	})
}
