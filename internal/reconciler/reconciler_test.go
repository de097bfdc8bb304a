package reconciler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/history"
	"github.com/tinoosan/mdarchive/internal/metrics"
	"github.com/tinoosan/mdarchive/internal/task"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRegistries hands out one task.Manager per category whose workflow
// records which ids ran.
type fakeRegistries struct {
	mu   sync.Mutex
	ran  map[uuid.UUID]bool
	regs map[data.Category]*task.Manager[string, int]
}

func newFakeRegistries(t *testing.T, limiter task.Limiter) *fakeRegistries {
	f := &fakeRegistries{ran: make(map[uuid.UUID]bool), regs: make(map[data.Category]*task.Manager[string, int])}
	for _, c := range data.Categories() {
		m := task.NewManager(task.Options[string, int]{
			Category: c,
			Limiter:  limiter,
			Logger:   discard(),
			Workflow: func(id uuid.UUID) task.Workflow[string, int] {
				return func(ctx context.Context, report func(int) error) (string, error) {
					f.mu.Lock()
					f.ran[id] = true
					f.mu.Unlock()
					return "ok", nil
				}
			},
		})
		t.Cleanup(m.Stop)
		f.regs[c] = m
	}
	return f
}

func (f *fakeRegistries) Registry(c data.Category) (task.Registry, error) {
	return f.regs[c], nil
}

func (f *fakeRegistries) hasRun(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ran[id]
}

func seedHistory(t *testing.T, entries ...history.Entry) *history.Service {
	t.Helper()
	svc, err := history.Open(t.TempDir(), discard())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	for _, e := range entries {
		if err := svc.InsertAndCommit(context.Background(), e); err != nil {
			t.Fatalf("seed %s: %v", e, err)
		}
	}
	return svc
}

func TestScan(t *testing.T) {
	chapter := history.Entry{ID: uuid.New(), Category: data.CategoryChapter}
	cover := history.Entry{ID: uuid.New(), Category: data.CategoryCover}
	svc := seedHistory(t, chapter, cover)

	r := New(discard(), svc, newFakeRegistries(t, nil), false)
	got, err := r.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].ID != chapter.ID || got[1].ID != cover.ID {
		t.Fatalf("unexpected incomplete operations %v", got)
	}
	if v := testutil.ToFloat64(metrics.IncompleteOperations.WithLabelValues("chapter")); v != 1 {
		t.Fatalf("chapter gauge = %v", v)
	}
	if v := testutil.ToFloat64(metrics.IncompleteOperations.WithLabelValues("title")); v != 0 {
		t.Fatalf("title gauge = %v", v)
	}
}

func TestRun_ReportOnly(t *testing.T) {
	e := history.Entry{ID: uuid.New(), Category: data.CategoryTitle}
	svc := seedHistory(t, e)
	regs := newFakeRegistries(t, nil)

	r := New(discard(), svc, regs, false)
	r.Run()
	r.Stop()
	time.Sleep(20 * time.Millisecond)
	if regs.hasRun(e.ID) {
		t.Fatalf("operation resumed although resume is off")
	}
}

type oneSlot struct {
	mu   sync.Mutex
	deny int
}

func (s *oneSlot) TryAcquire(int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny > 0 {
		s.deny--
		return false
	}
	return true
}

func (s *oneSlot) Release(int64) {}

func TestRun_ResumeRetriesOnCapacity(t *testing.T) {
	a := history.Entry{ID: uuid.New(), Category: data.CategoryChapter}
	b := history.Entry{ID: uuid.New(), Category: data.CategoryTitle}
	svc := seedHistory(t, a, b)
	// The first two starts are refused.
	regs := newFakeRegistries(t, &oneSlot{deny: 2})

	r := New(discard(), svc, regs, true)
	r.retry = 10 * time.Millisecond
	r.Run()
	t.Cleanup(r.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for !(regs.hasRun(a.ID) && regs.hasRun(b.ID)) {
		if time.Now().After(deadline) {
			t.Fatalf("incomplete operations were not resumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
