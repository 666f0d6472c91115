package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"outreach-control/internal/handlers"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	store, err := queue.Open(filepath.Join(dir, "send_queue.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	events, err := ledger.Open(filepath.Join(dir, "metrics.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { events.Close() })

	ks := killswitch.NewWithTTL(filepath.Join(dir, "kill_switch.json"), 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops := handlers.NewOpsHandler(store, events, ks, policy.NewGate(policy.Config{}), logger)
	return NewRouter(ops)
}

func TestRoutes(t *testing.T) {
	router := testRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/queue/stats", http.StatusOK},
		{http.MethodGet, "/api/queue/dead-letters", http.StatusOK},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/health", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}
