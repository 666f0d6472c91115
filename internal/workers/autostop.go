package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outreach-control/internal/experiment"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/ledger"
)

// AutoStopConfig tunes the auto-stop controller
type AutoStopConfig struct {
	WindowDays      int           `json:"window_days"`
	MinSentTotal    int           `json:"min_sent_total"`
	ReplyRateMin    float64       `json:"reply_rate_min"`
	BlockedRateMax  float64       `json:"blocked_rate_max"`
	ConsecutiveDays int           `json:"consecutive_days"`
	Interval        time.Duration `json:"-"`
}

// AutoStopDecision is the outcome of one controller tick
type AutoStopDecision struct {
	Stopped         bool    `json:"stopped"`
	Reason          string  `json:"reason"`
	WindowReplyRate float64 `json:"window_reply_rate"`
	WindowBlockedRate float64 `json:"window_blocked_rate"`
	ConsecutiveBadDays int  `json:"consecutive_bad_days"`
	TotalSuccess    int     `json:"total_success"`
}

// AutoStop is the single backpressure loop of the system: it watches
// the ledger and flips the runtime kill switch when metrics stay bad
// for enough consecutive days. Resumption is always manual.
type AutoStop struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    AutoStopConfig
	events   *ledger.Store
	ks       *killswitch.Switch
	notifier Notifier
	logger   *slog.Logger
}

// NewAutoStop wires the controller
func NewAutoStop(cfg AutoStopConfig, events *ledger.Store, ks *killswitch.Switch, logger *slog.Logger) *AutoStop {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.ConsecutiveDays <= 0 {
		cfg.ConsecutiveDays = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AutoStop{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		events: events,
		ks:     ks,
		logger: logger,
	}
}

// SetNotifier installs an alert sink for stop events
func (a *AutoStop) SetNotifier(n Notifier) {
	a.notifier = n
}

// Start begins the periodic evaluation loop
func (a *AutoStop) Start() {
	a.logger.Info("Starting auto-stop controller",
		"window_days", a.cfg.WindowDays,
		"min_sent_total", a.cfg.MinSentTotal,
		"reply_rate_min", a.cfg.ReplyRateMin,
		"blocked_rate_max", a.cfg.BlockedRateMax,
		"consecutive_days", a.cfg.ConsecutiveDays)
	go a.loop()
}

// Stop cancels the evaluation loop
func (a *AutoStop) Stop() {
	a.logger.Info("Stopping auto-stop controller")
	a.cancel()
}

func (a *AutoStop) loop() {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("Auto-stop controller stopped")
			return
		case <-ticker.C:
			if _, err := a.Tick(time.Now().UTC()); err != nil {
				a.logger.Error("Auto-stop evaluation failed", "error", err)
			}
		}
	}
}

// Tick runs one evaluation. It is idempotent: when the kill switch is
// already on, the tick is a no-op.
func (a *AutoStop) Tick(now time.Time) (*AutoStopDecision, error) {
	if a.ks.IsEnabled() {
		a.logger.Debug("Auto-stop tick skipped", "reason", "already stopped")
		return &AutoStopDecision{Stopped: false, Reason: "already stopped"}, nil
	}

	window := experiment.AggregateWindow(a.events.AllEvents(), now, a.cfg.WindowDays)

	decision := &AutoStopDecision{
		WindowReplyRate:   window.ReplyRate(),
		WindowBlockedRate: window.BlockedRate(),
		TotalSuccess:      window.TotalSuccess,
	}

	if window.TotalSuccess < a.cfg.MinSentTotal {
		decision.Reason = "Insufficient data"
		return decision, nil
	}

	decision.ConsecutiveBadDays = a.consecutiveBadDays(window, now)

	if decision.ConsecutiveBadDays < a.cfg.ConsecutiveDays {
		decision.Reason = "No sustained breach"
		return decision, nil
	}

	reason := fmt.Sprintf(
		"Auto-stop: %d consecutive bad days (window reply rate %.2f%%, blocked rate %.2f%%)",
		decision.ConsecutiveBadDays,
		decision.WindowReplyRate*100,
		decision.WindowBlockedRate*100)

	if err := a.ks.SetEnabled(reason, "auto_stop"); err != nil {
		return decision, fmt.Errorf("failed to activate kill switch: %w", err)
	}

	event := ledger.NewEvent(ledger.EventOpsStopSend, "")
	event.Meta = map[string]any{
		"reason": reason,
		"set_by": "auto_stop",
	}
	if err := a.events.Append(event); err != nil {
		return decision, fmt.Errorf("failed to append stop event: %w", err)
	}

	decision.Stopped = true
	decision.Reason = reason

	a.logger.Warn("Auto-stop activated runtime kill switch", "reason", reason)
	if a.notifier != nil {
		a.notifier.AutoStop(reason)
	}

	return decision, nil
}

// consecutiveBadDays counts, starting at today and walking backwards,
// the days on which reply rate was below the minimum or blocked rate
// above the maximum. The count stops at the first non-bad day. Days
// with no activity are non-bad.
func (a *AutoStop) consecutiveBadDays(window *experiment.WindowStats, now time.Time) int {
	byDate := make(map[string]experiment.DayStats, len(window.Days))
	for _, day := range window.Days {
		byDate[day.Date] = day
	}

	count := 0
	for i := 0; i < a.cfg.WindowDays; i++ {
		date := now.UTC().AddDate(0, 0, -i).Format("2006-01-02")
		day, ok := byDate[date]
		if !ok || !a.isBadDay(day) {
			break
		}
		count++
	}
	return count
}

func (a *AutoStop) isBadDay(day experiment.DayStats) bool {
	if day.Success == 0 && day.Blocked == 0 {
		return false
	}

	replyRate := 0.0
	if day.Success > 0 {
		replyRate = float64(day.Replies) / float64(day.Success)
	}

	attempts := day.Attempts
	if attempts == 0 {
		attempts = day.Success + day.Blocked
	}
	blockedRate := 0.0
	if attempts > 0 {
		blockedRate = float64(day.Blocked) / float64(attempts)
	}

	return replyRate < a.cfg.ReplyRateMin || blockedRate > a.cfg.BlockedRateMax
}
