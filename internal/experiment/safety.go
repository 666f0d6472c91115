package experiment

import "fmt"

// SafetyAction is the recommended action for a running experiment
type SafetyAction string

const (
	ActionOK                  SafetyAction = "ok"
	ActionFreezeRecommended   SafetyAction = "freeze_recommended"
	ActionRollbackRecommended SafetyAction = "rollback_recommended"
	ActionReviewRecommended   SafetyAction = "review_recommended"
)

// SafetyResult is the outcome of a safety evaluation
type SafetyResult struct {
	ExperimentID string       `json:"experiment_id"`
	Action       SafetyAction `json:"action"`
	Reasons      []string     `json:"reasons"`
}

// EvaluateSafety applies the safety rules to aggregated experiment
// metrics. Rules accumulate reasons; the strongest matched action
// wins, with later rules overriding earlier ones.
func EvaluateSafety(cfg *Config, metrics *Metrics) *SafetyResult {
	if cfg == nil {
		return &SafetyResult{
			Action:  ActionReviewRecommended,
			Reasons: []string{"Experiment not found"},
		}
	}

	result := &SafetyResult{
		ExperimentID: cfg.ExperimentID,
		Action:       ActionOK,
	}

	rule := cfg.RollbackRule

	// Low sample size: only meaningful once the experiment has had a
	// week to accumulate sends.
	if cfg.FreezeOnLowNEnabled() && metrics.DaysSinceStart >= 7 && metrics.TotalSent < rule.MinSentTotal {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"Low sample size: %d sent after %d days (need %d)",
			metrics.TotalSent, metrics.DaysSinceStart, rule.MinSentTotal))
		result.Action = ActionFreezeRecommended
	}

	// The rollback rules require enough volume to be meaningful
	if metrics.TotalSent >= rule.MinSentTotal {
		if rule.MaxDaysNoReply > 0 && metrics.DaysSinceLastReply >= rule.MaxDaysNoReply {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"No replies for %d days (limit %d)",
				metrics.DaysSinceLastReply, rule.MaxDaysNoReply))
			result.Action = ActionRollbackRecommended
		}

		if metrics.ReplyRate != nil && *metrics.ReplyRate < rule.MinReplyRate {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"Reply rate %.2f%% below minimum %.2f%%",
				*metrics.ReplyRate*100, rule.MinReplyRate*100))
			result.Action = ActionRollbackRecommended
		}
	}

	if len(result.Reasons) == 0 {
		result.Reasons = append(result.Reasons, "No issues detected")
	}

	return result
}
