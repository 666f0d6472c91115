package queue

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a send job
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusSent       JobStatus = "sent"
	StatusFailed     JobStatus = "failed"
	StatusDeadLetter JobStatus = "dead_letter"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusDeadLetter || s == StatusCancelled
}

// SendErrorCode is the stable machine-comparable error taxonomy. It is
// assigned by the dispatcher, which is the only place provider status
// codes enter the system.
type SendErrorCode string

const (
	ErrCodeGmail429 SendErrorCode = "gmail_429"
	ErrCodeGmail5xx SendErrorCode = "gmail_5xx"
	ErrCodeGmail400 SendErrorCode = "gmail_400"
	ErrCodeAuth     SendErrorCode = "auth"
	ErrCodePolicy   SendErrorCode = "policy"
	ErrCodeGate     SendErrorCode = "gate"
	ErrCodeNotFound SendErrorCode = "not_found"
	ErrCodeUnknown  SendErrorCode = "unknown"
)

// SendJob is one snapshot of a queued outbound send. Snapshots are
// append-only in the queue file; the latest snapshot per job_id wins.
//
// No PII is ever stored here: the recipient is reduced to its domain,
// the approval token to an 8-hex fingerprint, and error messages to a
// hash.
type SendJob struct {
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    JobStatus `json:"status"`

	DraftID    string `json:"draft_id"`
	TrackingID string `json:"tracking_id"`
	CompanyID  string `json:"company_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	ABVariant  string `json:"ab_variant,omitempty"`

	ToDomain            string `json:"to_domain"`
	ApprovalFingerprint string `json:"approval_fingerprint"`

	Attempts             int        `json:"attempts"`
	NextAttemptAt        time.Time  `json:"next_attempt_at"`
	InProgressStartedAt  *time.Time `json:"in_progress_started_at,omitempty"`
	LastErrorCode        SendErrorCode `json:"last_error_code,omitempty"`
	LastErrorMessageHash string     `json:"last_error_message_hash,omitempty"`
	LastUpdatedAt        time.Time  `json:"last_updated_at"`

	// Success metadata
	MessageID string     `json:"message_id,omitempty"`
	ThreadID  string     `json:"thread_id,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	// Cancel metadata
	CancelledBy     string `json:"cancelled_by,omitempty"`
	CancelledReason string `json:"cancelled_reason,omitempty"`
}

// NewJobID returns prefix + "_" + 12 random hex characters
func NewJobID(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken; fall back to a
		// time-derived suffix rather than panicking.
		return fmt.Sprintf("%s_%012x", prefix, time.Now().UnixNano()&0xffffffffffff)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

// NewSendJob creates a queued job ready for immediate dispatch
func NewSendJob(draftID, trackingID, toDomain, approvalFingerprint string) *SendJob {
	now := time.Now().UTC()
	return &SendJob{
		JobID:               NewJobID("sendjob"),
		CreatedAt:           now,
		Status:              StatusQueued,
		DraftID:             draftID,
		TrackingID:          trackingID,
		ToDomain:            toDomain,
		ApprovalFingerprint: approvalFingerprint,
		NextAttemptAt:       now,
		LastUpdatedAt:       now,
	}
}

// validTransitions encodes the job FSM. queued -> in_progress ->
// {sent, failed, cancelled}; failed -> {queued, dead_letter};
// in_progress -> {queued, dead_letter} via the reaper.
var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusSent, StatusFailed, StatusQueued, StatusDeadLetter, StatusCancelled},
	StatusFailed:     {StatusQueued, StatusDeadLetter},
}

// CanTransition reports whether from -> to is a legal FSM edge
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
