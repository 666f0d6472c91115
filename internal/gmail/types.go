package gmail

import (
	"context"
	"time"
)

// SendResult is the provider's answer to a successful draft send
type SendResult struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

// DetectResult is a metadata-only match for a tracking marker
type DetectResult struct {
	ThreadID string    `json:"thread_id"`
	Date     time.Time `json:"date"`
}

// Provider is the mail-provider contract consumed by the dispatcher
// and the reconciler. No message bodies cross this boundary.
type Provider interface {
	// Send sends a previously created draft
	Send(ctx context.Context, draftID string) (*SendResult, error)

	// SearchSent looks for a sent message carrying the tracking marker
	SearchSent(ctx context.Context, trackingID string) (*DetectResult, error)

	// SearchInboxReplies looks for an inbox reply carrying the marker
	SearchInboxReplies(ctx context.Context, trackingID string) (*DetectResult, error)
}
