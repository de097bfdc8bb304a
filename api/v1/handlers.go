package v1

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/service"
	"github.com/tinoosan/mdarchive/internal/task"
)

// TasksHandler serves the download tasks and operation logs of every
// category.
type TasksHandler struct {
	l   *slog.Logger
	svc service.Tasks
}

type putBody struct {
	Desired string `json:"desired"`
}

type historyBody struct {
	Category   data.Category `json:"category"`
	Incomplete []uuid.UUID   `json:"incomplete"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the events endpoint upgrade through the access log.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyRef struct{}
type ctxKeyDesired struct{}

func NewTasksHandler(l *slog.Logger, svc service.Tasks) *TasksHandler {
	return &TasksHandler{l: l, svc: svc}
}

func refFrom(w http.ResponseWriter, r *http.Request) (taskRef, bool) {
	ref, ok := r.Context().Value(ctxKeyRef{}).(taskRef)
	if !ok {
		markErr(w, ErrRefCtx)
		http.Error(w, ErrRefCtx.Error(), http.StatusInternalServerError)
	}
	return ref, ok
}

// fail writes err with the status its kind maps to.
func fail(w http.ResponseWriter, err error) {
	markErr(w, err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, data.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, data.ErrBadCategory), errors.Is(err, ErrBadDuration):
		status = http.StatusBadRequest
	case errors.Is(err, task.ErrCapacity):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	case errors.Is(err, task.ErrManagerClosed), errors.Is(err, task.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

// durationParam reads an optional duration query parameter.
func durationParam(r *http.Request, name string) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, ErrBadDuration
	}
	return d, nil
}

func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), ref.category)
	if err != nil {
		fail(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, list); err != nil {
		markErr(w, err)
	}
}

func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Get(r.Context(), ref.category, ref.id)
	if err != nil {
		fail(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, sum)
}

// PutTask creates the task if needed and, when asked to download, starts
// it. With ?wait=<duration> the response is delayed until the task
// finishes; a task still running at the deadline is canceled.
func (h *TasksHandler) PutTask(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	desired, ok := r.Context().Value(ctxKeyDesired{}).(task.Desired)
	if !ok {
		markErr(w, ErrDesiredCtx)
		http.Error(w, ErrDesiredCtx.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Has("wait") {
		timeout, err := durationParam(r, "wait")
		if err != nil {
			fail(w, err)
			return
		}
		sum, err := h.svc.Wait(r.Context(), ref.category, ref.id, desired, timeout)
		if errors.Is(err, service.ErrTimeout) {
			markErr(w, err)
			_ = writeJSON(w, http.StatusGatewayTimeout, sum)
			return
		}
		if err != nil {
			fail(w, err)
			return
		}
		_ = writeJSON(w, http.StatusOK, sum)
		return
	}

	sum, err := h.svc.Request(r.Context(), ref.category, ref.id, desired)
	if err != nil {
		fail(w, err)
		return
	}
	status := http.StatusOK
	if desired == task.Downloading {
		status = http.StatusAccepted
	}
	_ = writeJSON(w, status, sum)
}

// DeleteTask cancels the task. With ?drop=true it is also forgotten.
func (h *TasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Cancel(r.Context(), ref.category, ref.id)
	if err != nil {
		fail(w, err)
		return
	}
	if r.URL.Query().Get("drop") != "true" {
		_ = writeJSON(w, http.StatusOK, sum)
		return
	}
	if err := h.svc.Drop(r.Context(), ref.category, ref.id); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WaitTask blocks until the task is terminal. ?timeout bounds the wait and
// cancels the task when it expires.
func (h *TasksHandler) WaitTask(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	timeout, err := durationParam(r, "timeout")
	if err != nil {
		fail(w, err)
		return
	}
	sum, err := h.svc.Wait(r.Context(), ref.category, ref.id, task.Idle, timeout)
	if errors.Is(err, service.ErrTimeout) {
		markErr(w, err)
		_ = writeJSON(w, http.StatusGatewayTimeout, sum)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, sum)
}

func (h *TasksHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	ids, err := h.svc.Incomplete(r.Context(), ref.category)
	if err != nil {
		fail(w, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	_ = writeJSON(w, http.StatusOK, historyBody{Category: ref.category, Incomplete: ids})
}

func (h *TasksHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.Document(r.Context(), ref.category, ref.id)
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := data.ToJSON(w, doc); err != nil {
		markErr(w, err)
	}
}
