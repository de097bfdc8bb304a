package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/reqid"
	"github.com/tinoosan/mdarchive/internal/task"
)

// taskRef is the category and, on item routes, the id named by the path.
type taskRef struct {
	category data.Category
	id       uuid.UUID
}

// MiddlewareTaskRef parses the {category} and optional {id} path variables.
func MiddlewareTaskRef(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		c, err := data.ParseCategory(vars["category"])
		if err != nil {
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ref := taskRef{category: c}
		if raw, ok := vars["id"]; ok {
			id, err := uuid.Parse(raw)
			if err != nil {
				markErr(w, ErrBadID)
				http.Error(w, ErrBadID.Error(), http.StatusBadRequest)
				return
			}
			ref.id = id
		}
		ctx := context.WithValue(r.Context(), ctxKeyRef{}, ref)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewareDesired decodes the body of a task PUT.
func MiddlewareDesired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body putBody
		if err := decodeJSONStrict(w, r, &body, 1<<10, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		desired, err := task.ParseDesired(body.Desired)
		if err != nil {
			markErr(w, ErrBadDesired)
			http.Error(w, ErrBadDesired.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDesired{}, desired)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *TasksHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		l := reqid.Logger(r.Context(), h.l)
		if rw.err != nil {
			l.Error(rw.err.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		l.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
