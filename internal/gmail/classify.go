package gmail

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"outreach-control/internal/queue"
)

// Classify maps a provider error onto the stable send-error taxonomy.
// This is the only place HTTP status codes enter the core.
func Classify(err error) queue.SendErrorCode {
	if err == nil {
		return ""
	}

	// A timed-out call may have succeeded server-side; treat it as
	// unknown so the job stays leased until the reaper reclaims it.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return queue.ErrCodeUnknown
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return queue.ErrCodeUnknown
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return queue.ErrCodeGmail429
	case apiErr.Code == http.StatusForbidden && isRateLimitReason(apiErr):
		// Gmail reports quota exhaustion as 403 with a rate-limit reason
		return queue.ErrCodeGmail429
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return queue.ErrCodeAuth
	case apiErr.Code == http.StatusNotFound:
		return queue.ErrCodeNotFound
	case apiErr.Code == http.StatusBadRequest:
		return queue.ErrCodeGmail400
	case apiErr.Code >= 500 && apiErr.Code <= 599:
		return queue.ErrCodeGmail5xx
	}

	return queue.ErrCodeUnknown
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
