package experiment

import (
	"sort"
	"time"

	"outreach-control/internal/ledger"
)

// DayStats is one UTC calendar day of rollups
type DayStats struct {
	Date     string `json:"date"` // YYYY-MM-DD, UTC
	Attempts int    `json:"attempts"`
	Success  int    `json:"success"`
	Blocked  int    `json:"blocked"`
	Replies  int    `json:"replies"`
}

// VariantStats summarises one A/B variant
type VariantStats struct {
	Variant   string   `json:"variant"`
	Sent      int      `json:"sent"`
	Replies   int      `json:"replies"`
	ReplyRate *float64 `json:"reply_rate"`
}

// Metrics is the aggregated view of an experiment over the ledger
type Metrics struct {
	ExperimentID      string         `json:"experiment_id"`
	TotalSent         int            `json:"total_sent"`
	TotalReplies      int            `json:"total_replies"`
	ReplyRate         *float64       `json:"reply_rate"` // nil when nothing sent
	DaysSinceLastReply int           `json:"days_since_last_reply"`
	DaysSinceStart    int            `json:"days_since_start"`
	Days              []DayStats     `json:"days"`
	Variants          []VariantStats `json:"variants,omitempty"`
}

// dayKey formats a timestamp as a UTC day bucket
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// daysBetween counts whole UTC days from a to b
func daysBetween(a, b time.Time) int {
	au := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au).Hours() / 24)
}

// Aggregate reduces ledger events to experiment metrics. Only events
// whose template_id belongs to the experiment are counted. Sends and
// replies are deduplicated by tracking ID.
func Aggregate(cfg *Config, events []ledger.Event, now time.Time) *Metrics {
	templates := cfg.TemplateIDs()

	m := &Metrics{
		ExperimentID:   cfg.ExperimentID,
		DaysSinceStart: daysBetween(cfg.StartAt, now),
	}

	days := make(map[string]*DayStats)
	sentSeen := make(map[string]bool)
	replySeen := make(map[string]bool)
	variantSent := make(map[string]int)
	variantReplies := make(map[string]int)
	trackingVariant := make(map[string]string)
	var lastReply time.Time

	for _, event := range events {
		if _, ok := templates[event.TemplateID]; !ok {
			continue
		}

		day := days[dayKey(event.Timestamp)]
		if day == nil {
			day = &DayStats{Date: dayKey(event.Timestamp)}
			days[day.Date] = day
		}

		variant := event.ABVariant
		if variant == "" {
			variant = templates[event.TemplateID]
		}
		if variant != "" && event.TrackingID != "" {
			trackingVariant[event.TrackingID] = variant
		}

		switch event.EventType {
		case ledger.EventAutoSendAttempt:
			day.Attempts++
		case ledger.EventAutoSendBlocked:
			day.Blocked++
		case ledger.EventAutoSendSuccess, ledger.EventSentDetected:
			day.Success++
			if event.TrackingID != "" && !sentSeen[event.TrackingID] {
				sentSeen[event.TrackingID] = true
				m.TotalSent++
				variantSent[trackingVariant[event.TrackingID]]++
			}
		case ledger.EventReplyDetected:
			day.Replies++
			if event.TrackingID != "" && !replySeen[event.TrackingID] {
				replySeen[event.TrackingID] = true
				m.TotalReplies++
				variantReplies[trackingVariant[event.TrackingID]]++
			}
			if event.Timestamp.After(lastReply) {
				lastReply = event.Timestamp
			}
		}
	}

	if m.TotalSent > 0 {
		rate := float64(m.TotalReplies) / float64(m.TotalSent)
		m.ReplyRate = &rate
	}

	if !lastReply.IsZero() {
		m.DaysSinceLastReply = daysBetween(lastReply, now)
	} else {
		m.DaysSinceLastReply = m.DaysSinceStart
	}

	for _, day := range days {
		m.Days = append(m.Days, *day)
	}
	sort.Slice(m.Days, func(i, j int) bool { return m.Days[i].Date < m.Days[j].Date })

	for variant, sent := range variantSent {
		if variant == "" {
			continue
		}
		vs := VariantStats{Variant: variant, Sent: sent, Replies: variantReplies[variant]}
		if sent > 0 {
			rate := float64(vs.Replies) / float64(sent)
			vs.ReplyRate = &rate
		}
		m.Variants = append(m.Variants, vs)
	}
	sort.Slice(m.Variants, func(i, j int) bool { return m.Variants[i].Variant < m.Variants[j].Variant })

	return m
}

// WindowStats is the experiment-agnostic rollup used by the auto-stop
// controller: every auto-send event in the window, bucketed by day.
type WindowStats struct {
	TotalAttempts int        `json:"total_attempts"`
	TotalSuccess  int        `json:"total_success"`
	TotalBlocked  int        `json:"total_blocked"`
	TotalReplies  int        `json:"total_replies"`
	Days          []DayStats `json:"days"` // ascending by date
}

// ReplyRate returns replies per successful send over the window
func (w *WindowStats) ReplyRate() float64 {
	if w.TotalSuccess == 0 {
		return 0
	}
	return float64(w.TotalReplies) / float64(w.TotalSuccess)
}

// BlockedRate returns blocked events per attempt over the window
func (w *WindowStats) BlockedRate() float64 {
	denom := w.TotalAttempts
	if denom == 0 {
		denom = w.TotalSuccess + w.TotalBlocked
	}
	if denom == 0 {
		return 0
	}
	return float64(w.TotalBlocked) / float64(denom)
}

// AggregateWindow reduces all events in the trailing window to
// per-day and total counters.
func AggregateWindow(events []ledger.Event, now time.Time, windowDays int) *WindowStats {
	cutoff := now.UTC().AddDate(0, 0, -windowDays)

	w := &WindowStats{}
	days := make(map[string]*DayStats)

	for _, event := range events {
		if event.Timestamp.Before(cutoff) {
			continue
		}

		day := days[dayKey(event.Timestamp)]
		if day == nil {
			day = &DayStats{Date: dayKey(event.Timestamp)}
			days[day.Date] = day
		}

		switch event.EventType {
		case ledger.EventAutoSendAttempt:
			day.Attempts++
			w.TotalAttempts++
		case ledger.EventAutoSendSuccess:
			day.Success++
			w.TotalSuccess++
		case ledger.EventAutoSendBlocked:
			day.Blocked++
			w.TotalBlocked++
		case ledger.EventReplyDetected:
			day.Replies++
			w.TotalReplies++
		}
	}

	for _, day := range days {
		w.Days = append(w.Days, *day)
	}
	sort.Slice(w.Days, func(i, j int) bool { return w.Days[i].Date < w.Days[j].Date })

	return w
}
