package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
)

type opsEnv struct {
	h      *OpsHandler
	store  *queue.Store
	events *ledger.Store
	ks     *killswitch.Switch
}

func newOpsEnv(t *testing.T, gateCfg policy.Config) *opsEnv {
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

	return &opsEnv{
		h:      NewOpsHandler(store, events, ks, policy.NewGate(gateCfg), logger),
		store:  store,
		events: events,
		ks:     ks,
	}
}

func TestHealthCheck(t *testing.T) {
	env := newOpsEnv(t, policy.Config{})

	w := httptest.NewRecorder()
	env.h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q", resp.Status)
	}
}

func TestGetStatus(t *testing.T) {
	env := newOpsEnv(t, policy.Config{EnableAutoSend: true, AllowlistDomains: []string{"example.com"}})

	if err := env.store.Save(queue.NewSendJob("draft-1", "trk-1", "example.com", "aaaa0000")); err != nil {
		t.Fatal(err)
	}
	if err := env.events.Append(ledger.NewEvent(ledger.EventDraftCreated, "trk-1")); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	env.h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.SendingEnabled {
		t.Error("SendingEnabled = false with gate on and kill switch off")
	}
	if resp.Queue.Total != 1 || resp.LedgerEvents != 1 {
		t.Errorf("Queue.Total = %d, LedgerEvents = %d", resp.Queue.Total, resp.LedgerEvents)
	}
}

func TestGetStatusKillSwitchWins(t *testing.T) {
	env := newOpsEnv(t, policy.Config{EnableAutoSend: true})
	if err := env.ks.SetEnabled("incident", "alice"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	env.h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SendingEnabled {
		t.Error("SendingEnabled = true while the kill switch is on")
	}
	if !resp.KillSwitch.Enabled || resp.KillSwitch.Reason != "incident" {
		t.Errorf("KillSwitch = %+v", resp.KillSwitch)
	}
}

func TestGetDeadLetters(t *testing.T) {
	env := newOpsEnv(t, policy.Config{})

	dead := queue.NewSendJob("draft-1", "trk-1", "example.com", "aaaa0000")
	dead.Status = queue.StatusDeadLetter
	if err := env.store.Save(dead); err != nil {
		t.Fatal(err)
	}
	if err := env.store.Save(queue.NewSendJob("draft-2", "trk-2", "example.com", "bbbb0000")); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	env.h.GetDeadLetters(w, httptest.NewRequest(http.MethodGet, "/api/queue/dead-letters", nil))

	var resp struct {
		Count int              `json:"count"`
		Jobs  []*queue.SendJob `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || len(resp.Jobs) != 1 || resp.Jobs[0].JobID != dead.JobID {
		t.Errorf("resp = %+v", resp)
	}
}

func postKillSwitch(t *testing.T, env *opsEnv, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/kill-switch", bytes.NewReader(payload))
	env.h.SetKillSwitch(w, req)
	return w
}

func TestSetKillSwitch(t *testing.T) {
	env := newOpsEnv(t, policy.Config{})

	w := postKillSwitch(t, env, KillSwitchRequest{Enabled: true, Reason: "incident", SetBy: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !env.ks.IsEnabled() {
		t.Error("kill switch not enabled")
	}

	// The stop is audited
	all := env.events.AllEvents()
	if len(all) != 1 || all[0].EventType != ledger.EventOpsStopSend {
		t.Errorf("ledger = %v", all)
	}

	w = postKillSwitch(t, env, KillSwitchRequest{Enabled: false, Reason: "resolved", SetBy: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.ks.IsEnabled() {
		t.Error("kill switch not disabled")
	}
	all = env.events.AllEvents()
	if len(all) != 2 || all[1].EventType != ledger.EventOpsResumeSend {
		t.Errorf("ledger = %v", all)
	}
}

func TestSetKillSwitchValidation(t *testing.T) {
	env := newOpsEnv(t, policy.Config{})

	tests := []struct {
		name string
		req  KillSwitchRequest
	}{
		{"missing set_by", KillSwitchRequest{Enabled: true, Reason: "r"}},
		{"stop without reason", KillSwitchRequest{Enabled: true, SetBy: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postKillSwitch(t, env, tt.req); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	// Malformed body
	w := httptest.NewRecorder()
	env.h.SetKillSwitch(w, httptest.NewRequest(http.MethodPost, "/api/kill-switch", bytes.NewReader([]byte("{"))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for malformed body, want 400", w.Code)
	}

	if env.ks.IsEnabled() {
		t.Error("invalid requests flipped the switch")
	}

	sinceStart, err := time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(env.events.EventsSince(sinceStart)) != 0 {
		t.Error("invalid requests were audited")
	}
}
