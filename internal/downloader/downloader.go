package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/downloadcfg"
	"github.com/tinoosan/mdarchive/internal/remote"
	"github.com/tinoosan/mdarchive/internal/store"
	"github.com/tinoosan/mdarchive/internal/task"
	"golang.org/x/sync/semaphore"
)

// Remote is the subset of the remote API the workflows use.
// *remote.Client satisfies it.
type Remote interface {
	Title(ctx context.Context, id uuid.UUID, includes ...string) (data.Title, error)
	Chapter(ctx context.Context, id uuid.UUID) (data.Chapter, error)
	Cover(ctx context.Context, id uuid.UUID) (data.Cover, error)
	AtHome(ctx context.Context, chapterID uuid.UUID) (remote.AtHome, error)
	CoverURL(cv data.Cover) string
	Image(ctx context.Context, url string) ([]byte, error)
}

var _ Remote = (*remote.Client)(nil)

// Options wires a Manager.
type Options struct {
	Remote  Remote
	Store   store.Store
	History task.Journal
	// MaxConcurrent bounds workflows started by requests; 0 means no limit.
	MaxConcurrent int
	GCInterval    time.Duration
	Download      downloadcfg.Options
	Logger        *slog.Logger
}

// Manager owns one task manager per category and the workflows that feed
// them.
type Manager struct {
	remote Remote
	store  store.Store
	dl     downloadcfg.Options
	log    *slog.Logger

	titles   *task.Manager[data.Title, TitlePhase]
	chapters *task.Manager[data.Chapter, ChapterPhase]
	covers   *task.Manager[data.Cover, CoverPhase]
}

func New(opts Options) (*Manager, error) {
	if opts.Remote == nil {
		return nil, errors.New("downloader: remote is required")
	}
	if opts.Store == nil {
		return nil, errors.New("downloader: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var limiter task.Limiter
	if opts.MaxConcurrent > 0 {
		limiter = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	m := &Manager{
		remote: opts.Remote,
		store:  opts.Store,
		dl:     opts.Download.Normalize(),
		log:    opts.Logger.With("component", "downloader"),
	}
	m.titles = task.NewManager(task.Options[data.Title, TitlePhase]{
		Category:   data.CategoryTitle,
		Workflow:   m.titleWorkflow,
		Journal:    opts.History,
		Limiter:    limiter,
		GCInterval: opts.GCInterval,
		Logger:     opts.Logger,
	})
	m.chapters = task.NewManager(task.Options[data.Chapter, ChapterPhase]{
		Category:   data.CategoryChapter,
		Workflow:   m.chapterWorkflow,
		Journal:    opts.History,
		Limiter:    limiter,
		GCInterval: opts.GCInterval,
		Logger:     opts.Logger,
	})
	m.covers = task.NewManager(task.Options[data.Cover, CoverPhase]{
		Category:   data.CategoryCover,
		Workflow:   m.coverWorkflow,
		Journal:    opts.History,
		Limiter:    limiter,
		GCInterval: opts.GCInterval,
		Logger:     opts.Logger,
	})
	return m, nil
}

func (m *Manager) Titles() *task.Manager[data.Title, TitlePhase]       { return m.titles }
func (m *Manager) Chapters() *task.Manager[data.Chapter, ChapterPhase] { return m.chapters }
func (m *Manager) Covers() *task.Manager[data.Cover, CoverPhase]       { return m.covers }

// Registry returns the task manager of category c.
func (m *Manager) Registry(c data.Category) (task.Registry, error) {
	switch c {
	case data.CategoryTitle:
		return m.titles, nil
	case data.CategoryChapter:
		return m.chapters, nil
	case data.CategoryCover:
		return m.covers, nil
	default:
		return nil, fmt.Errorf("%w: %q", data.ErrBadCategory, c)
	}
}

// Registries lists every task manager in category order.
func (m *Manager) Registries() []task.Registry {
	return []task.Registry{m.titles, m.chapters, m.covers}
}

// Stop cancels every in-flight download. Their operation log entries stay
// behind for the next start to find.
func (m *Manager) Stop() {
	m.chapters.Stop()
	m.covers.Stop()
	m.titles.Stop()
}
