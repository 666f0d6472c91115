package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of ledger event
type EventType string

const (
	EventDraftCreated    EventType = "DRAFT_CREATED"
	EventAutoSendAttempt EventType = "AUTO_SEND_ATTEMPT"
	EventAutoSendSuccess EventType = "AUTO_SEND_SUCCESS"
	EventAutoSendBlocked EventType = "AUTO_SEND_BLOCKED"
	EventSentDetected    EventType = "SENT_DETECTED"
	EventReplyDetected   EventType = "REPLY_DETECTED"
	EventOpsStopSend     EventType = "OPS_STOP_SEND"
	EventOpsResumeSend   EventType = "OPS_RESUME_SEND"

	// Proposal lifecycle events live in fix_proposal_events.ndjson,
	// keyed by proposal ID in the tracking field.
	EventProposalCreated  EventType = "PROPOSAL_CREATED"
	EventProposalApproved EventType = "PROPOSAL_APPROVED"
	EventProposalPromoted EventType = "PROPOSAL_PROMOTED"
	EventRollback         EventType = "EXPERIMENT_ROLLBACK"
	EventApprovalCreated  EventType = "APPROVAL_CREATED"
)

// Event is one immutable record in the metrics ledger.
// Meta carries event-specific attributes and round-trips unknown keys
// so older binaries can replay ledgers written by newer ones.
type Event struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  EventType      `json:"event_type"`
	TrackingID string         `json:"tracking_id"`
	CompanyID  string         `json:"company_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	ABVariant  string         `json:"ab_variant,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// NewEvent creates an event with a fresh ID and a UTC timestamp
func NewEvent(eventType EventType, trackingID string) *Event {
	return &Event{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		TrackingID: trackingID,
		Meta:       map[string]any{},
	}
}

// WithMeta sets one meta attribute and returns the event for chaining
func (e *Event) WithMeta(key string, value any) *Event {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

// isIdempotent reports whether at most one event of this type may exist
// per tracking ID. Detection events are deduplicated by the
// reconciler; proposal lifecycle events occur once per proposal.
func isIdempotent(t EventType) bool {
	switch t {
	case EventSentDetected, EventReplyDetected,
		EventProposalCreated, EventProposalApproved, EventProposalPromoted:
		return true
	}
	return false
}
