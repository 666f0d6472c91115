// Package notify posts operational alerts to a Slack incoming
// webhook. Delivery is best-effort: a failed post is logged and
// dropped, never retried, and never blocks the caller's state change.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier posts messages to a Slack webhook. A Notifier with an
// empty URL is a no-op, so callers never need to nil-check.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a notifier for the given webhook URL
func New(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Enabled reports whether a webhook is configured
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// AutoStop announces an auto-stop activation
func (n *Notifier) AutoStop(reason string) {
	n.post(fmt.Sprintf(":octagonal_sign: Auto-stop activated the send kill switch: %s", reason))
}

// DeadLetter announces a dead-lettered job
func (n *Notifier) DeadLetter(jobID string, attempts int, errorCode string) {
	n.post(fmt.Sprintf(":warning: Send job %s dead-lettered after %d attempts (last error: %s)", jobID, attempts, errorCode))
}

// OpsStop announces a manual stop-send
func (n *Notifier) OpsStop(reason, setBy string) {
	n.post(fmt.Sprintf(":no_entry: Sending stopped by %s: %s", setBy, reason))
}

// OpsResume announces a manual resume-send
func (n *Notifier) OpsResume(setBy string) {
	n.post(fmt.Sprintf(":white_check_mark: Sending resumed by %s", setBy))
}

func (n *Notifier) post(text string) {
	if n.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		n.logger.Error("Failed to marshal Slack payload", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
		if err != nil {
			n.logger.Error("Failed to build Slack request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.logger.Warn("Slack notification failed", "error", err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			n.logger.Warn("Slack notification rejected", "status", resp.StatusCode)
		}
	}()
}
