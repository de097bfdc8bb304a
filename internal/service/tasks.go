package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/task"
)

// ErrTimeout is returned by Wait when the task did not finish in time. The
// task has been canceled.
var ErrTimeout = errors.New("timed out waiting for task")

// Registries resolves task managers. *downloader.Manager satisfies it.
type Registries interface {
	Registry(c data.Category) (task.Registry, error)
}

// History lists operation log entries. *history.Service satisfies it.
type History interface {
	Entries(ctx context.Context, c data.Category) ([]uuid.UUID, error)
}

// Documents reads stored documents. store.Store satisfies it.
type Documents interface {
	Pull(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error)
}

// Tasks is the command surface over the download tasks of every category.
type Tasks interface {
	List(ctx context.Context, c data.Category) ([]task.Summary, error)
	Get(ctx context.Context, c data.Category, id uuid.UUID) (task.Summary, error)
	Request(ctx context.Context, c data.Category, id uuid.UUID, desired task.Desired) (task.Summary, error)
	Cancel(ctx context.Context, c data.Category, id uuid.UUID) (task.Summary, error)
	Drop(ctx context.Context, c data.Category, id uuid.UUID) error
	// Wait blocks until the task is terminal. A positive timeout bounds the
	// wait; when it expires the task is canceled and ErrTimeout returned.
	// With desired set to Downloading the task is requested first.
	Wait(ctx context.Context, c data.Category, id uuid.UUID, desired task.Desired, timeout time.Duration) (task.Summary, error)
	Watch(ctx context.Context, c data.Category, id uuid.UUID, buffer int) (*task.Feed[task.Summary], error)
	Incomplete(ctx context.Context, c data.Category) ([]uuid.UUID, error)
	Document(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error)
}

type tasks struct {
	regs    Registries
	history History
	docs    Documents
}

func NewTasks(regs Registries, history History, docs Documents) Tasks {
	return &tasks{regs: regs, history: history, docs: docs}
}

func (s *tasks) List(ctx context.Context, c data.Category) ([]task.Summary, error) {
	reg, err := s.regs.Registry(c)
	if err != nil {
		return nil, err
	}
	ids, err := reg.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]task.Summary, 0, len(ids))
	for _, id := range ids {
		h, ok, err := reg.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, h.Summary())
		}
	}
	return out, nil
}

func (s *tasks) find(ctx context.Context, c data.Category, id uuid.UUID) (task.Handle, error) {
	reg, err := s.regs.Registry(c)
	if err != nil {
		return nil, err
	}
	h, ok, err := reg.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s task %s", data.ErrNotFound, c, id)
	}
	return h, nil
}

// withTask runs fn on the task for id. A task released between the lookup
// and fn is looked up again.
func (s *tasks) withTask(ctx context.Context, c data.Category, id uuid.UUID, fn func(task.Handle) error) error {
	for {
		h, err := s.find(ctx, c, id)
		if err != nil {
			return err
		}
		if err := fn(h); !errors.Is(err, task.ErrClosed) {
			return err
		}
	}
}

func (s *tasks) Get(ctx context.Context, c data.Category, id uuid.UUID) (task.Summary, error) {
	h, err := s.find(ctx, c, id)
	if err != nil {
		return task.Summary{}, err
	}
	return h.Summary(), nil
}

func (s *tasks) Request(ctx context.Context, c data.Category, id uuid.UUID, desired task.Desired) (task.Summary, error) {
	reg, err := s.regs.Registry(c)
	if err != nil {
		return task.Summary{}, err
	}
	h, err := reg.Handle(ctx, id, desired)
	if h == nil {
		return task.Summary{}, err
	}
	return h.Summary(), err
}

func (s *tasks) Cancel(ctx context.Context, c data.Category, id uuid.UUID) (task.Summary, error) {
	var sum task.Summary
	err := s.withTask(ctx, c, id, func(h task.Handle) error {
		if err := h.Cancel(ctx); err != nil {
			return err
		}
		sum = h.Summary()
		return nil
	})
	return sum, err
}

func (s *tasks) Drop(ctx context.Context, c data.Category, id uuid.UUID) error {
	reg, err := s.regs.Registry(c)
	if err != nil {
		return err
	}
	err = reg.Drop(ctx, id)
	if errors.Is(err, task.ErrUnknownTask) {
		return fmt.Errorf("%w: %s task %s", data.ErrNotFound, c, id)
	}
	return err
}

func (s *tasks) Wait(ctx context.Context, c data.Category, id uuid.UUID, desired task.Desired, timeout time.Duration) (task.Summary, error) {
	acquire := func() (task.Handle, error) { return s.find(ctx, c, id) }
	if desired == task.Downloading {
		reg, err := s.regs.Registry(c)
		if err != nil {
			return task.Summary{}, err
		}
		acquire = func() (task.Handle, error) { return reg.Handle(ctx, id, desired) }
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		h, err := acquire()
		if err != nil {
			return task.Summary{}, err
		}
		sum, err := h.Await(wctx)
		switch {
		case err == nil:
			return sum, nil
		case errors.Is(err, task.ErrClosed):
			// Released before the waiter attached.
			continue
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if cerr := h.Cancel(ctx); cerr != nil && !errors.Is(cerr, task.ErrClosed) {
				return h.Summary(), errors.Join(ErrTimeout, cerr)
			}
			return h.Summary(), ErrTimeout
		}
		return sum, err
	}
}

func (s *tasks) Watch(ctx context.Context, c data.Category, id uuid.UUID, buffer int) (*task.Feed[task.Summary], error) {
	var feed *task.Feed[task.Summary]
	err := s.withTask(ctx, c, id, func(h task.Handle) error {
		var err error
		feed, err = h.Updates(ctx, buffer)
		return err
	})
	return feed, err
}

func (s *tasks) Incomplete(ctx context.Context, c data.Category) ([]uuid.UUID, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", data.ErrBadCategory, c)
	}
	return s.history.Entries(ctx, c)
}

func (s *tasks) Document(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error) {
	if s.docs == nil {
		return nil, fmt.Errorf("%w: no document store", data.ErrNotFound)
	}
	return s.docs.Pull(ctx, c, id)
}
