// Package handlers implements the ops HTTP API: health, status,
// queue statistics and kill-switch control.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
)

// OpsHandler serves the operational endpoints
type OpsHandler struct {
	store  *queue.Store
	events *ledger.Store
	ks     *killswitch.Switch
	gate   *policy.Gate
	logger *slog.Logger
}

// NewOpsHandler creates a new ops handler
func NewOpsHandler(store *queue.Store, events *ledger.Store, ks *killswitch.Switch, gate *policy.Gate, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		store:  store,
		events: events,
		ks:     ks,
		gate:   gate,
		logger: logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Queue   string `json:"queue"`
	Ledger  string `json:"ledger"`
	Message string `json:"message,omitempty"`
}

// HealthCheck handles GET /api/health
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status: "healthy",
		Queue:  "ok",
		Ledger: "ok",
	}
	writeJSON(w, http.StatusOK, response)
}

// StatusResponse is the combined control-plane status
type StatusResponse struct {
	SendingEnabled bool              `json:"sending_enabled"`
	KillSwitch     killswitch.State  `json:"kill_switch"`
	Queue          *queue.Stats      `json:"queue"`
	LedgerEvents   int               `json:"ledger_events"`
	Timestamp      time.Time         `json:"timestamp"`
}

// GetStatus handles GET /api/status
func (h *OpsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.ks.Get()
	if err != nil {
		h.logger.Error("Failed to read kill switch", "error", err)
		http.Error(w, "Failed to read kill switch state", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		SendingEnabled: h.gate.IsSendingEnabled() && !state.Enabled,
		KillSwitch:     *state,
		Queue:          h.store.GetStats(time.Now().UTC()),
		LedgerEvents:   h.events.Len(),
		Timestamp:      time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, response)
}

// GetQueueStats handles GET /api/queue/stats
func (h *OpsHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GetStats(time.Now().UTC()))
}

// GetDeadLetters handles GET /api/queue/dead-letters
func (h *OpsHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	var dead []*queue.SendJob
	for _, job := range h.store.All() {
		if job.Status == queue.StatusDeadLetter {
			dead = append(dead, job)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(dead),
		"jobs":  dead,
	})
}

// KillSwitchRequest is the POST /api/kill-switch payload
type KillSwitchRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	SetBy   string `json:"set_by"`
}

// SetKillSwitch handles POST /api/kill-switch
func (h *OpsHandler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SetBy == "" {
		http.Error(w, "set_by is required", http.StatusBadRequest)
		return
	}

	if req.Enabled {
		if req.Reason == "" {
			http.Error(w, "reason is required to stop sending", http.StatusBadRequest)
			return
		}
		if err := h.ks.SetEnabled(req.Reason, req.SetBy); err != nil {
			h.logger.Error("Failed to enable kill switch", "error", err)
			http.Error(w, "Failed to enable kill switch", http.StatusInternalServerError)
			return
		}
		h.appendOpsEvent(ledger.EventOpsStopSend, req.Reason, req.SetBy)
	} else {
		if err := h.ks.SetDisabled(req.Reason, req.SetBy); err != nil {
			h.logger.Error("Failed to disable kill switch", "error", err)
			http.Error(w, "Failed to disable kill switch", http.StatusInternalServerError)
			return
		}
		h.appendOpsEvent(ledger.EventOpsResumeSend, req.Reason, req.SetBy)
	}

	state, err := h.ks.Get()
	if err != nil {
		http.Error(w, "Failed to read kill switch state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *OpsHandler) appendOpsEvent(eventType ledger.EventType, reason, setBy string) {
	event := ledger.NewEvent(eventType, "")
	event.Meta = map[string]any{
		"reason": reason,
		"set_by": setBy,
	}
	if err := h.events.Append(event); err != nil {
		h.logger.Error("Failed to append ops event",
			"event_type", string(eventType),
			"error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
