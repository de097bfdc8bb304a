package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/metrics"
	"github.com/tinoosan/mdarchive/internal/service"
	"github.com/tinoosan/mdarchive/internal/task"
)

// fakeTasks is a stub to satisfy service.Tasks in router tests.
type fakeTasks struct{ listed data.Category }

func (f *fakeTasks) List(_ context.Context, c data.Category) ([]task.Summary, error) {
	f.listed = c
	return []task.Summary{}, nil
}
func (f *fakeTasks) Get(context.Context, data.Category, uuid.UUID) (task.Summary, error) {
	return task.Summary{}, data.ErrNotFound
}
func (f *fakeTasks) Request(context.Context, data.Category, uuid.UUID, task.Desired) (task.Summary, error) {
	return task.Summary{}, nil
}
func (f *fakeTasks) Cancel(context.Context, data.Category, uuid.UUID) (task.Summary, error) {
	return task.Summary{}, nil
}
func (f *fakeTasks) Drop(context.Context, data.Category, uuid.UUID) error { return nil }
func (f *fakeTasks) Wait(context.Context, data.Category, uuid.UUID, task.Desired, time.Duration) (task.Summary, error) {
	return task.Summary{}, nil
}
func (f *fakeTasks) Watch(context.Context, data.Category, uuid.UUID, int) (*task.Feed[task.Summary], error) {
	return nil, data.ErrNotFound
}
func (f *fakeTasks) Incomplete(context.Context, data.Category) ([]uuid.UUID, error) { return nil, nil }
func (f *fakeTasks) Document(context.Context, data.Category, uuid.UUID) (data.Object, error) {
	return nil, data.ErrNotFound
}

var _ service.Tasks = (*fakeTasks)(nil)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHealthzOK(t *testing.T) {
	r := New(discard(), &fakeTasks{}, "tok")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Fatalf("expected body 'ok', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestMetricsEndpointEmitsFamilies(t *testing.T) {
	metrics.Register()
	metrics.TaskTransitions.WithLabelValues("chapter", "done").Inc()
	metrics.RemoteLatency.WithLabelValues("chapter").Observe(0.02)
	metrics.RunningWorkflows.WithLabelValues("chapter").Set(2)

	r := New(discard(), &fakeTasks{}, "tok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, family := range []string{
		"mdarchive_task_transitions_total",
		"mdarchive_remote_latency_seconds_count",
		"mdarchive_running_workflows",
	} {
		if !strings.Contains(body, family) {
			t.Fatalf("missing %s in metrics: %s", family, body)
		}
	}
}

func TestAPIRoutes(t *testing.T) {
	svc := &fakeTasks{}
	r := New(discard(), svc, "tok")

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		status int
	}{
		{"list requires token", http.MethodGet, "/v1/chapters/tasks", false, http.StatusUnauthorized},
		{"list", http.MethodGet, "/v1/chapters/tasks", true, http.StatusOK},
		{"unknown category", http.MethodGet, "/v1/albums/tasks", true, http.StatusNotFound},
		{"bad id", http.MethodGet, "/v1/titles/tasks/nope", true, http.StatusBadRequest},
		{"missing task", http.MethodGet, "/v1/titles/tasks/" + uuid.NewString(), true, http.StatusNotFound},
		{"history", http.MethodGet, "/v1/covers/history", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer tok")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
		})
	}
	if svc.listed != data.CategoryChapter {
		t.Fatalf("list routed to %q", svc.listed)
	}
}
