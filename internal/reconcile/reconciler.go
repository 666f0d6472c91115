// Package reconcile fills in SENT_DETECTED and REPLY_DETECTED events
// by probing the mail provider for each audited draft. Probes are
// metadata-only and the ledger's idempotency index makes re-runs
// free.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outreach-control/internal/gmail"
	"outreach-control/internal/ledger"
)

// Config tunes the reconcile loop
type Config struct {
	Interval       time.Duration
	ProviderTimeout time.Duration
}

// Result reports what one reconcile pass found
type Result struct {
	Drafts        int `json:"drafts"`
	SentDetected  int `json:"sent_detected"`
	ReplyDetected int `json:"reply_detected"`
}

// Reconciler walks the draft audit trail and appends detection events
type Reconciler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      Config
	events   *ledger.Store
	provider gmail.Provider
	logger   *slog.Logger
}

// New wires a reconciler over the ledger and provider
func New(cfg Config, events *ledger.Store, provider gmail.Provider, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		events:   events,
		provider: provider,
		logger:   logger,
	}
}

// Start begins the periodic reconcile loop
func (r *Reconciler) Start() {
	r.logger.Info("Starting Gmail reconciler", "interval", r.cfg.Interval)
	go r.loop()
}

// Stop cancels the loop
func (r *Reconciler) Stop() {
	r.logger.Info("Stopping Gmail reconciler")
	r.cancel()
}

func (r *Reconciler) loop() {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Gmail reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(r.ctx); err != nil {
				r.logger.Error("Reconcile pass failed", "error", err)
			}
		}
	}
}

// draftRecord is one audited draft creation from the ledger
type draftRecord struct {
	trackingID string
	companyID  string
	templateID string
	abVariant  string
	createdAt  time.Time
}

// RunOnce reconciles every audited draft once. Safe to re-run: the
// idempotency index suppresses duplicate detections.
func (r *Reconciler) RunOnce(ctx context.Context) (*Result, error) {
	drafts := r.auditedDrafts()
	result := &Result{Drafts: len(drafts)}

	for _, draft := range drafts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := r.reconcileDraft(ctx, draft, result); err != nil {
			r.logger.Warn("Failed to reconcile draft",
				"tracking_id", draft.trackingID,
				"error", err)
		}
	}

	r.logger.Info("Reconcile pass complete",
		"drafts", result.Drafts,
		"sent_detected", result.SentDetected,
		"reply_detected", result.ReplyDetected)

	return result, nil
}

// auditedDrafts collects DRAFT_CREATED events, one per tracking ID
func (r *Reconciler) auditedDrafts() []draftRecord {
	seen := make(map[string]bool)
	var drafts []draftRecord

	for _, event := range r.events.AllEvents() {
		if event.EventType != ledger.EventDraftCreated || event.TrackingID == "" {
			continue
		}
		if seen[event.TrackingID] {
			continue
		}
		seen[event.TrackingID] = true
		drafts = append(drafts, draftRecord{
			trackingID: event.TrackingID,
			companyID:  event.CompanyID,
			templateID: event.TemplateID,
			abVariant:  event.ABVariant,
			createdAt:  event.Timestamp,
		})
	}

	return drafts
}

func (r *Reconciler) reconcileDraft(ctx context.Context, draft draftRecord, result *Result) error {
	if !r.events.HasEvent(draft.trackingID, ledger.EventSentDetected) {
		if err := r.detectSent(ctx, draft, result); err != nil {
			return err
		}
	}

	if !r.events.HasEvent(draft.trackingID, ledger.EventReplyDetected) {
		if err := r.detectReply(ctx, draft, result); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) detectSent(ctx context.Context, draft draftRecord, result *Result) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	hit, err := r.provider.SearchSent(callCtx, draft.trackingID)
	if err != nil {
		return fmt.Errorf("sent probe failed: %w", err)
	}
	if hit == nil {
		return nil
	}

	event := r.newEvent(ledger.EventSentDetected, draft)
	event.Meta = map[string]any{
		"thread_id": hit.ThreadID,
		"sent_date": hit.Date.Format(time.RFC3339),
	}
	if err := r.events.Append(event); err != nil {
		return fmt.Errorf("failed to append sent event: %w", err)
	}

	result.SentDetected++
	r.logger.Info("Detected sent message",
		"tracking_id", draft.trackingID,
		"thread_id", hit.ThreadID)

	return nil
}

func (r *Reconciler) detectReply(ctx context.Context, draft draftRecord, result *Result) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	hit, err := r.provider.SearchInboxReplies(callCtx, draft.trackingID)
	if err != nil {
		return fmt.Errorf("reply probe failed: %w", err)
	}
	if hit == nil {
		return nil
	}

	// Latency is measured from the detected send, falling back to the
	// draft creation timestamp when no sent event exists yet.
	sentAt := draft.createdAt
	for _, event := range r.events.AllEvents() {
		if event.EventType == ledger.EventSentDetected && event.TrackingID == draft.trackingID {
			if raw, ok := event.Meta["sent_date"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
					sentAt = parsed
				}
			}
			break
		}
	}

	event := r.newEvent(ledger.EventReplyDetected, draft)
	event.Meta = map[string]any{
		"thread_id":     hit.ThreadID,
		"reply_date":    hit.Date.Format(time.RFC3339),
		"latency_hours": hit.Date.Sub(sentAt).Hours(),
	}
	if err := r.events.Append(event); err != nil {
		return fmt.Errorf("failed to append reply event: %w", err)
	}

	result.ReplyDetected++
	r.logger.Info("Detected reply",
		"tracking_id", draft.trackingID,
		"thread_id", hit.ThreadID)

	return nil
}

func (r *Reconciler) newEvent(eventType ledger.EventType, draft draftRecord) *ledger.Event {
	event := ledger.NewEvent(eventType, draft.trackingID)
	event.CompanyID = draft.companyID
	event.TemplateID = draft.templateID
	event.ABVariant = draft.abVariant
	return event
}
