package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// receive waits for one webhook delivery; posts are asynchronous
func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case text := <-ch:
		return text
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook delivery within 5s")
		return ""
	}
}

func webhookServer(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	ch := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		ch <- payload["text"]
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestAutoStopPost(t *testing.T) {
	srv, ch := webhookServer(t)
	n := New(srv.URL, discardLogger())

	n.AutoStop("2 consecutive bad days")

	text := receive(t, ch)
	if !strings.Contains(text, "Auto-stop") || !strings.Contains(text, "2 consecutive bad days") {
		t.Errorf("text = %q", text)
	}
}

func TestDeadLetterPost(t *testing.T) {
	srv, ch := webhookServer(t)
	n := New(srv.URL, discardLogger())

	n.DeadLetter("sendjob_abc123", 9, "gmail_5xx")

	text := receive(t, ch)
	if !strings.Contains(text, "sendjob_abc123") || !strings.Contains(text, "9 attempts") || !strings.Contains(text, "gmail_5xx") {
		t.Errorf("text = %q", text)
	}
}

func TestOpsStopAndResumePost(t *testing.T) {
	srv, ch := webhookServer(t)
	n := New(srv.URL, discardLogger())

	n.OpsStop("quarterly freeze", "alice")
	if text := receive(t, ch); !strings.Contains(text, "stopped by alice") || !strings.Contains(text, "quarterly freeze") {
		t.Errorf("stop text = %q", text)
	}

	n.OpsResume("alice")
	if text := receive(t, ch); !strings.Contains(text, "resumed by alice") {
		t.Errorf("resume text = %q", text)
	}
}

func TestEmptyURLIsNoOp(t *testing.T) {
	n := New("", discardLogger())
	if n.Enabled() {
		t.Error("Enabled() = true with no webhook URL")
	}
	// Must not panic or block
	n.AutoStop("reason")
	n.DeadLetter("job", 1, "unknown")
	n.OpsStop("reason", "alice")
	n.OpsResume("alice")
}

func TestEnabled(t *testing.T) {
	if !New("https://hooks.slack.example/T/B/x", discardLogger()).Enabled() {
		t.Error("Enabled() = false with a webhook URL")
	}
}
