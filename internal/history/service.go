package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/metrics"
)

var (
	ErrClosed = errors.New("history service closed")
	ErrLocked = errors.New("history directory locked by another process")
)

// Service is the single writer of every category log under one directory.
// All calls are queued onto one goroutine, so two workflows can never
// mutate the same file concurrently.
type Service struct {
	dir  string
	lock *flock.Flock
	log  *slog.Logger
	logs map[data.Category]*Log

	cmds      chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates dir when needed, takes the directory lock and loads one log
// per category from <dir>/<category>.json.
func Open(dir string, log *slog.Logger) (*Service, error) {
	return open(dir, log, osFS{})
}

func open(dir string, log *slog.Logger, fsys fsOps) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	lk := flock.New(filepath.Join(dir, ".lock"))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock history dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	s := &Service{
		dir:  dir,
		lock: lk,
		log:  log.With("component", "history"),
		logs: make(map[data.Category]*Log),
		cmds: make(chan func()),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, c := range data.Categories() {
		l, err := openLog(filepath.Join(dir, string(c)+".json"), c, fsys)
		if err != nil {
			_ = lk.Unlock()
			return nil, err
		}
		s.logs[c] = l
		metrics.HistoryEntries.WithLabelValues(string(c)).Set(float64(l.Len()))
		if l.Len() > 0 {
			s.log.Info("loaded operation log", "category", c, "entries", l.Len())
		}
	}
	go s.loop()
	return s, nil
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// Close stops the service and releases the directory lock. Uncommitted
// mutations are discarded.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.lock.Unlock()
	})
	return err
}

func (s *Service) Dir() string { return s.dir }

// do runs fn on the service goroutine and waits for it.
func (s *Service) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- func() { reply <- fn() }:
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

func (s *Service) logFor(c data.Category) (*Log, error) {
	l, ok := s.logs[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", data.ErrBadCategory, c)
	}
	return l, nil
}

func (s *Service) withLog(ctx context.Context, c data.Category, fn func(*Log) error) error {
	return s.do(ctx, func() error {
		l, err := s.logFor(c)
		if err != nil {
			return err
		}
		return fn(l)
	})
}

func (s *Service) IsIn(ctx context.Context, e Entry) (bool, error) {
	var in bool
	err := s.withLog(ctx, e.Category, func(l *Log) error {
		var err error
		in, err = l.IsIn(e)
		return err
	})
	return in, err
}

// Insert adds e to the in-memory log without committing.
func (s *Service) Insert(ctx context.Context, e Entry) error {
	return s.withLog(ctx, e.Category, func(l *Log) error { return l.Insert(e) })
}

// Remove drops e from the in-memory log without committing.
func (s *Service) Remove(ctx context.Context, e Entry) error {
	return s.withLog(ctx, e.Category, func(l *Log) error { return l.Remove(e) })
}

// InsertAndCommit inserts e and commits the log. A failed commit undoes
// only this insert; earlier uncommitted mutations stay in memory.
func (s *Service) InsertAndCommit(ctx context.Context, e Entry) error {
	return s.withLog(ctx, e.Category, func(l *Log) error {
		return l.insertAndCommit(e, func() error { return s.commit(l) })
	})
}

// RemoveAndCommit removes e and commits the log. A failed commit puts e
// back where it was.
func (s *Service) RemoveAndCommit(ctx context.Context, e Entry) error {
	return s.withLog(ctx, e.Category, func(l *Log) error {
		return l.removeAndCommit(e, func() error { return s.commit(l) })
	})
}

func (s *Service) Commit(ctx context.Context, c data.Category) error {
	return s.withLog(ctx, c, s.commit)
}

func (s *Service) Rollback(ctx context.Context, c data.Category) error {
	return s.withLog(ctx, c, func(l *Log) error {
		if err := l.Rollback(); err != nil {
			return err
		}
		s.log.Debug("rolled back operation log", "category", c, "entries", l.Len())
		return nil
	})
}

// Entries returns the in-memory identifiers of category c in insertion order.
func (s *Service) Entries(ctx context.Context, c data.Category) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.withLog(ctx, c, func(l *Log) error {
		ids = l.IDs()
		return nil
	})
	return ids, err
}

func (s *Service) commit(l *Log) error {
	c := string(l.Category())
	if err := l.Commit(); err != nil {
		metrics.HistoryCommits.WithLabelValues(c, "error").Inc()
		s.log.Error("commit operation log", "category", c, "err", err)
		return err
	}
	metrics.HistoryCommits.WithLabelValues(c, "ok").Inc()
	metrics.HistoryEntries.WithLabelValues(c).Set(float64(l.Len()))
	return nil
}
