package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outreach-control/internal/queue"
	"outreach-control/internal/retry"
)

// ReaperConfig mirrors the reaper section of send_queue.json
type ReaperConfig struct {
	StaleMinutes int    `json:"stale_minutes"`
	MaxAttempts  int    `json:"max_attempts"`
	ReapAction   string `json:"reap_action"` // "execute" or "dry_run"
	Interval     time.Duration `json:"-"`
}

// ReapResult reports what one pass did
type ReapResult struct {
	Examined    int `json:"examined"`
	Requeued    int `json:"requeued"`
	DeadLetters int `json:"dead_letters"`
	Skipped     int `json:"skipped"`
}

// Reaper reclaims jobs whose lease has gone stale, counting each reap
// as an attempt so a jammed downstream cannot loop forever.
type Reaper struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg      ReaperConfig
	store    *queue.Store
	retries  *retry.Policy
	notifier Notifier
	logger   *slog.Logger
}

// NewReaper wires a reaper over the queue store
func NewReaper(cfg ReaperConfig, store *queue.Store, retries *retry.Policy, logger *slog.Logger) *Reaper {
	if cfg.StaleMinutes <= 0 {
		cfg.StaleMinutes = 30
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retries.MaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		store:   store,
		retries: retries,
		logger:  logger,
	}
}

// SetNotifier installs an alert sink for dead-letter events
func (r *Reaper) SetNotifier(n Notifier) {
	r.notifier = n
}

// Start begins the periodic reap loop
func (r *Reaper) Start() {
	r.logger.Info("Starting lease reaper",
		"stale_minutes", r.cfg.StaleMinutes,
		"max_attempts", r.cfg.MaxAttempts,
		"interval", r.cfg.Interval)
	go r.loop()
}

// Stop cancels the reap loop
func (r *Reaper) Stop() {
	r.logger.Info("Stopping lease reaper")
	r.cancel()
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Lease reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(); err != nil {
				r.logger.Error("Reap pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one reap pass. In dry_run mode stale jobs are
// reported but left untouched.
func (r *Reaper) RunOnce() (*ReapResult, error) {
	now := time.Now().UTC()
	stale := r.store.FindStale(now, time.Duration(r.cfg.StaleMinutes)*time.Minute)

	result := &ReapResult{Examined: len(stale)}
	if len(stale) == 0 {
		return result, nil
	}

	r.logger.Info("Found stale leases", "count", len(stale), "dry_run", r.dryRun())

	for _, job := range stale {
		// Re-read the latest snapshot: a dispatcher may have completed
		// the job between our scan and this write.
		latest := r.store.Get(job.JobID)
		if latest == nil || latest.Status != queue.StatusInProgress {
			result.Skipped++
			continue
		}

		if r.dryRun() {
			r.logger.Info("Would reap stale job",
				"job_id", latest.JobID,
				"lease_age", now.Sub(*latest.InProgressStartedAt))
			continue
		}

		// The reap counts as an attempt
		latest.Attempts++
		latest.InProgressStartedAt = nil

		if latest.Attempts > r.cfg.MaxAttempts {
			latest.Status = queue.StatusDeadLetter
			latest.LastErrorCode = queue.ErrCodeUnknown
			latest.LastErrorMessageHash = queue.HashMessage("lease expired, retry budget exhausted")
			result.DeadLetters++
			r.logger.Warn("Dead-lettered stale job",
				"job_id", latest.JobID,
				"attempts", latest.Attempts)
			if r.notifier != nil {
				r.notifier.DeadLetter(latest.JobID, latest.Attempts, string(queue.ErrCodeUnknown))
			}
		} else {
			delay, _ := r.retries.Backoff(latest.Attempts, queue.ErrCodeUnknown)
			latest.Status = queue.StatusQueued
			latest.NextAttemptAt = now.Add(delay)
			result.Requeued++
			r.logger.Info("Requeued stale job",
				"job_id", latest.JobID,
				"attempts", latest.Attempts,
				"next_attempt_at", latest.NextAttemptAt)
		}

		if err := r.store.Save(latest); err != nil {
			return result, fmt.Errorf("failed to persist reaped job %s: %w", latest.JobID, err)
		}
	}

	return result, nil
}

func (r *Reaper) dryRun() bool {
	return r.cfg.ReapAction != "" && r.cfg.ReapAction != "execute"
}
