package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/mdarchive/api/v1"
	"github.com/tinoosan/mdarchive/internal/auth"
	"github.com/tinoosan/mdarchive/internal/service"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, tasksSvc service.Tasks, token string) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	tasksHandler := v1.NewTasksHandler(logger, tasksSvc)

	r.Use(v1.RequestID)
	r.Use(tasksHandler.Log)
	r.Use(auth.Middleware(token))

	api := r.PathPrefix("/v1/{category}").Subrouter()
	api.Use(v1.MiddlewareTaskRef)

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/tasks", tasksHandler.ListTasks)
	get.HandleFunc("/tasks/{id}", tasksHandler.GetTask)
	get.HandleFunc("/tasks/{id}/wait", tasksHandler.WaitTask)
	get.HandleFunc("/tasks/{id}/events", tasksHandler.Events)
	get.HandleFunc("/history", tasksHandler.GetHistory)
	get.HandleFunc("/documents/{id}", tasksHandler.GetDocument)

	// PUTs
	put := api.Methods("PUT").Subrouter()
	put.HandleFunc("/tasks/{id}", tasksHandler.PutTask)
	put.Use(v1.MiddlewareDesired)

	// DELETEs
	del := api.Methods("DELETE").Subrouter()
	del.HandleFunc("/tasks/{id}", tasksHandler.DeleteTask)

	return r
}
