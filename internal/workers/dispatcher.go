// Package workers contains the periodic background loops: the send
// dispatcher, the stale-lease reaper and the auto-stop controller.
// Each is a cooperative task in a single process; the queue file and
// the kill-switch file are the only shared state.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"outreach-control/internal/approval"
	"outreach-control/internal/gmail"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
	"outreach-control/internal/policy"
	"outreach-control/internal/queue"
	"outreach-control/internal/retry"
)

// RecipientResolver reconstructs a recipient address from out-of-band
// metadata. The queue never stores the full address; when no resolver
// is configured the gate is evaluated against the job's domain.
type RecipientResolver func(job *queue.SendJob) (string, error)

// Notifier receives operational alerts from the workers. All methods
// must be non-blocking.
type Notifier interface {
	AutoStop(reason string)
	DeadLetter(jobID string, attempts int, errorCode string)
}

// DispatcherConfig tunes the dispatch loop
type DispatcherConfig struct {
	PollInterval   time.Duration
	ProviderTimeout time.Duration
	BlockedRequeue time.Duration
}

// Dispatcher leases ready jobs one at a time, calls the provider and
// classifies the outcome. Exactly one dispatcher runs per process.
type Dispatcher struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      DispatcherConfig
	store    *queue.Store
	events   *ledger.Store
	gate     *policy.Gate
	ks       *killswitch.Switch
	approvals *approval.Registry
	provider gmail.Provider
	retries  *retry.Policy
	resolver RecipientResolver
	notifier Notifier
	paused   atomic.Bool
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher with its collaborators
func NewDispatcher(cfg DispatcherConfig, store *queue.Store, events *ledger.Store, gate *policy.Gate, ks *killswitch.Switch, approvals *approval.Registry, provider gmail.Provider, retries *retry.Policy, logger *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.BlockedRequeue <= 0 {
		cfg.BlockedRequeue = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		store:     store,
		events:    events,
		gate:      gate,
		ks:        ks,
		approvals: approvals,
		provider:  provider,
		retries:   retries,
		logger:    logger,
	}
}

// SetRecipientResolver installs an out-of-band address resolver
func (d *Dispatcher) SetRecipientResolver(resolver RecipientResolver) {
	d.resolver = resolver
}

// SetNotifier installs an alert sink for dead-letter events
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	d.logger.Info("Starting send dispatcher", "poll_interval", d.cfg.PollInterval)
	go d.loop()
}

// Stop cancels the dispatch loop
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping send dispatcher")
	d.cancel()
}

// Pause temporarily stops leasing new jobs
func (d *Dispatcher) Pause() { d.paused.Store(true) }

// Resume resumes leasing
func (d *Dispatcher) Resume() { d.paused.Store(false) }

func (d *Dispatcher) loop() {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Send dispatcher stopped")
			return
		case <-ticker.C:
			if d.paused.Load() {
				continue
			}
			// Drain everything that is ready before sleeping again
			for {
				processed, err := d.RunOnce(d.ctx)
				if err != nil {
					d.logger.Error("Dispatch iteration failed", "error", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// RunOnce processes at most one ready job. It returns true when a job
// was leased, false when there was nothing to do.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	if !d.gate.IsSendingEnabled() {
		return false, nil
	}

	now := time.Now().UTC()
	job := d.store.FindNextReady(now)
	if job == nil {
		return false, nil
	}

	// Two-step commit: lease first, terminal transition after. If we
	// crash in between, the reaper reclaims the lease.
	job.Status = queue.StatusInProgress
	job.InProgressStartedAt = &now
	if err := d.store.Save(job); err != nil {
		return false, fmt.Errorf("failed to lease job %s: %w", job.JobID, err)
	}

	d.logger.Info("Leased send job",
		"job_id", job.JobID,
		"draft_id", job.DraftID,
		"attempts", job.Attempts)

	d.appendEvent(job, ledger.EventAutoSendAttempt, map[string]any{
		"job_id":  job.JobID,
		"attempt": job.Attempts + 1,
	})

	// Approval must exist and must not have been consumed
	rec, err := d.approvals.Lookup(job.ApprovalFingerprint)
	if err != nil {
		return true, fmt.Errorf("approval lookup failed for job %s: %w", job.JobID, err)
	}
	if rec == nil || rec.Consumed || rec.DraftID != job.DraftID {
		d.logger.Warn("Job has no valid approval",
			"job_id", job.JobID,
			"approval_fingerprint", job.ApprovalFingerprint)
		return true, d.failTerminal(job, queue.ErrCodePolicy, "approval missing, consumed or bound to another draft")
	}

	// Runtime kill switch: pause, do not consume the job
	if d.ks.IsEnabled() {
		d.appendEvent(job, ledger.EventAutoSendBlocked, map[string]any{
			"job_id": job.JobID,
			"reason": policy.ReasonKillSwitch,
		})
		d.logger.Info("Send blocked by runtime kill switch", "job_id", job.JobID)
		return true, d.requeueAfter(job, d.cfg.BlockedRequeue)
	}

	// Static policy gate
	recipient := job.ToDomain
	if d.resolver != nil {
		resolved, err := d.resolver(job)
		if err != nil {
			return true, d.failTerminal(job, queue.ErrCodePolicy, fmt.Sprintf("recipient resolution failed: %v", err))
		}
		recipient = resolved
	}

	stats := d.store.GetStats(now)
	decision := d.gate.CheckSendPermission(recipient, stats.SentToday)
	if !decision.Allowed {
		d.appendEvent(job, ledger.EventAutoSendBlocked, map[string]any{
			"job_id":  job.JobID,
			"reason":  decision.Reason,
			"details": decision.Details,
		})
		d.logger.Info("Send blocked by policy gate",
			"job_id", job.JobID,
			"reason", decision.Reason)

		if decision.Reason == policy.ReasonDailyLimitReached {
			// The budget resets at the next UTC midnight
			return true, d.requeueAfter(job, untilNextUTCDay(now))
		}
		return true, d.failTerminal(job, queue.ErrCodeGate, decision.Details)
	}

	// Provider call with a deadline
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()

	result, sendErr := d.provider.Send(callCtx, job.DraftID)
	if sendErr == nil {
		return true, d.completeSuccess(job, result)
	}

	// A deadline expiry may mask a successful send. Leave the job
	// leased; the reaper will reclaim it, counting the reap as an
	// attempt.
	if errors.Is(sendErr, context.DeadlineExceeded) {
		d.logger.Warn("Provider call timed out, leaving job leased",
			"job_id", job.JobID)
		return true, nil
	}

	code := gmail.Classify(sendErr)
	d.logger.Warn("Provider send failed",
		"job_id", job.JobID,
		"error_code", string(code),
		"error", sendErr)

	return true, d.scheduleRetry(job, code, sendErr.Error())
}

// completeSuccess finalises a sent job: success metadata, ledger
// event, token burn.
func (d *Dispatcher) completeSuccess(job *queue.SendJob, result *gmail.SendResult) error {
	now := time.Now().UTC()
	job.Status = queue.StatusSent
	job.InProgressStartedAt = nil
	job.MessageID = result.MessageID
	job.ThreadID = result.ThreadID
	job.SentAt = &now
	job.LastErrorCode = ""
	job.LastErrorMessageHash = ""

	if err := d.store.Save(job); err != nil {
		return fmt.Errorf("failed to persist sent job %s: %w", job.JobID, err)
	}

	d.appendEvent(job, ledger.EventAutoSendSuccess, map[string]any{
		"job_id":     job.JobID,
		"message_id": result.MessageID,
		"thread_id":  result.ThreadID,
	})

	if err := d.approvals.Burn(job.ApprovalFingerprint); err != nil {
		// The send already happened; a burn failure is an audit gap,
		// not a reason to fail the job.
		d.logger.Error("Failed to burn approval token",
			"job_id", job.JobID,
			"approval_fingerprint", job.ApprovalFingerprint,
			"error", err)
	}

	d.logger.Info("Send completed",
		"job_id", job.JobID,
		"message_id", result.MessageID,
		"thread_id", result.ThreadID)

	return nil
}

// scheduleRetry increments attempts and either requeues with backoff
// or dead-letters the job.
func (d *Dispatcher) scheduleRetry(job *queue.SendJob, code queue.SendErrorCode, message string) error {
	job.Attempts++
	job.LastErrorCode = code
	job.LastErrorMessageHash = queue.HashMessage(message)
	job.InProgressStartedAt = nil

	delay, terminal := d.retries.Backoff(job.Attempts, code)
	if terminal {
		job.Status = queue.StatusDeadLetter
		d.logger.Warn("Job dead-lettered",
			"job_id", job.JobID,
			"attempts", job.Attempts,
			"error_code", string(code))
		if d.notifier != nil {
			d.notifier.DeadLetter(job.JobID, job.Attempts, string(code))
		}
	} else {
		job.Status = queue.StatusQueued
		job.NextAttemptAt = time.Now().UTC().Add(delay)
		d.logger.Info("Job scheduled for retry",
			"job_id", job.JobID,
			"attempts", job.Attempts,
			"next_attempt_at", job.NextAttemptAt)
	}

	if err := d.store.Save(job); err != nil {
		return fmt.Errorf("failed to persist retry for job %s: %w", job.JobID, err)
	}
	return nil
}

// failTerminal marks a job failed with no retries
func (d *Dispatcher) failTerminal(job *queue.SendJob, code queue.SendErrorCode, message string) error {
	job.Status = queue.StatusFailed
	job.InProgressStartedAt = nil
	job.LastErrorCode = code
	job.LastErrorMessageHash = queue.HashMessage(message)

	if err := d.store.Save(job); err != nil {
		return fmt.Errorf("failed to persist failed job %s: %w", job.JobID, err)
	}
	return nil
}

// requeueAfter returns a leased job to the queue without counting an
// attempt (used for kill-switch pauses and the daily budget).
func (d *Dispatcher) requeueAfter(job *queue.SendJob, delay time.Duration) error {
	job.Status = queue.StatusQueued
	job.InProgressStartedAt = nil
	job.NextAttemptAt = time.Now().UTC().Add(delay)

	if err := d.store.Save(job); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.JobID, err)
	}
	return nil
}

func (d *Dispatcher) appendEvent(job *queue.SendJob, eventType ledger.EventType, meta map[string]any) {
	event := ledger.NewEvent(eventType, job.TrackingID)
	event.CompanyID = job.CompanyID
	event.TemplateID = job.TemplateID
	event.ABVariant = job.ABVariant
	event.Meta = meta
	if err := d.events.Append(event); err != nil {
		d.logger.Error("Failed to append ledger event",
			"event_type", string(eventType),
			"tracking_id", job.TrackingID,
			"error", err)
	}
}

// untilNextUTCDay returns the duration until the next UTC midnight
func untilNextUTCDay(now time.Time) time.Duration {
	next := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now.UTC())
}
