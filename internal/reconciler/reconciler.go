package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/metrics"
	"github.com/tinoosan/mdarchive/internal/task"
)

// History lists operation log entries. *history.Service satisfies it.
type History interface {
	Entries(ctx context.Context, c data.Category) ([]uuid.UUID, error)
}

// Registries resolves the task manager of a category.
// *downloader.Manager satisfies it.
type Registries interface {
	Registry(c data.Category) (task.Registry, error)
}

// Incomplete is an operation that started before the last shutdown and
// never finished.
type Incomplete struct {
	Category data.Category
	ID       uuid.UUID
}

// Reconciler finds operations a previous run left unfinished and, when
// asked to, downloads them again.
type Reconciler struct {
	history History
	tasks   Registries
	resume  bool
	retry   time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Reconciler. With resume set, Run re-requests every
// incomplete operation; otherwise they are only reported.
func New(log *slog.Logger, history History, tasks Registries, resume bool) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		history: history,
		tasks:   tasks,
		resume:  resume,
		retry:   time.Second,
		log:     log.With("component", "reconciler"),
		ctx:     context.Background(),
	}
}

// Scan lists incomplete operations of every category and publishes their
// count.
func (r *Reconciler) Scan(ctx context.Context) ([]Incomplete, error) {
	var out []Incomplete
	for _, c := range data.Categories() {
		ids, err := r.history.Entries(ctx, c)
		if err != nil {
			return nil, err
		}
		metrics.IncompleteOperations.WithLabelValues(string(c)).Set(float64(len(ids)))
		for _, id := range ids {
			r.log.Warn("incomplete operation from previous run", "category", c, "id", id)
			out = append(out, Incomplete{Category: c, ID: id})
		}
	}
	return out, nil
}

// Run scans once and, when resuming, keeps re-requesting incomplete
// operations until each one has started or Stop is called.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.log = r.log.With("operation_id", uuid.NewString())

	pending, err := r.Scan(r.ctx)
	if err != nil {
		r.log.Error("scan operation log", "err", err)
		return
	}
	if len(pending) == 0 {
		r.log.Info("no incomplete operations")
		return
	}
	if !r.resume {
		r.log.Info("incomplete operations left as is", "count", len(pending))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.retry)
		defer ticker.Stop()
		for {
			pending = r.resumeAll(pending)
			if len(pending) == 0 {
				r.log.Info("all incomplete operations resumed")
				return
			}
			select {
			case <-r.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop terminates the resume loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		r.stop = nil
	}
}

// resumeAll starts what it can and returns the operations to try again.
func (r *Reconciler) resumeAll(pending []Incomplete) []Incomplete {
	var again []Incomplete
	for _, op := range pending {
		reg, err := r.tasks.Registry(op.Category)
		if err != nil {
			r.log.Error("no task manager", "category", op.Category, "err", err)
			continue
		}
		_, err = reg.Handle(r.ctx, op.ID, task.Downloading)
		switch {
		case err == nil:
			r.log.Info("resumed incomplete operation", "category", op.Category, "id", op.ID)
		case errors.Is(err, task.ErrCapacity):
			again = append(again, op)
		case errors.Is(err, context.Canceled), errors.Is(err, task.ErrManagerClosed):
			return nil
		default:
			r.log.Error("resume", "category", op.Category, "id", op.ID, "err", err)
		}
	}
	return again
}
