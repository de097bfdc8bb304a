package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		path    string
		header  string
		status  int
		handled bool
		body    string
	}{
		{name: "allows healthz without token", token: "sekrit", path: "/healthz", status: http.StatusTeapot, handled: true},
		{name: "allows metrics without token", token: "sekrit", path: "/metrics", status: http.StatusTeapot, handled: true},
		{name: "rejects missing token", token: "sekrit", path: "/v1/chapters/tasks", status: http.StatusUnauthorized, body: "missing API token"},
		{name: "rejects invalid token", token: "sekrit", path: "/v1/chapters/tasks", header: "Bearer wrong", status: http.StatusForbidden, body: "invalid API token"},
		{name: "rejects when unconfigured", token: "", path: "/v1/chapters/tasks", header: "Bearer ", status: http.StatusForbidden, body: "invalid API token"},
		{name: "allows valid token", token: "sekrit", path: "/v1/chapters/tasks", header: "Bearer sekrit", status: http.StatusTeapot, handled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusTeapot)
			})
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			Middleware(tt.token)(next).ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d got %d", tt.status, rr.Code)
			}
			if handled != tt.handled {
				t.Fatalf("handled = %v, want %v", handled, tt.handled)
			}
			if tt.body != "" && strings.TrimSpace(rr.Body.String()) != tt.body {
				t.Fatalf("unexpected body %q", rr.Body.String())
			}
		})
	}
}
