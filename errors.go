package gyanmitra

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the gateway failure taxonomy. Callers branch on
// them with errors.Is; APIError carries the backend detail when there is
// one.
var (
	// ErrNetwork means the request never produced an HTTP response.
	ErrNetwork = errors.New("network unreachable")

	// ErrUnauthorized means the stored token was rejected. The client
	// clears stored credentials and the host application should return
	// the user to login.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the referenced conversation no longer exists.
	ErrNotFound = errors.New("conversation not found")

	// ErrValidation means the payload was rejected before or by the
	// backend; nothing was persisted.
	ErrValidation = errors.New("validation failed")

	// ErrServer means the backend failed with a 5xx.
	ErrServer = errors.New("server error")

	// ErrSendInFlight means a send was attempted while another send for
	// the same session had not resolved yet. The attempt is a no-op.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrSessionBusy means the session is loading history and cannot
	// accept the operation.
	ErrSessionBusy = errors.New("session busy")

	// ErrFeedbackFinal means the message already carries a rating.
	// Ratings are terminal within a session.
	ErrFeedbackFinal = errors.New("feedback already recorded")
)

// APIError wraps a gateway sentinel with the HTTP status and backend
// message that produced it.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match the sentinel.
func (e *APIError) Unwrap() error { return e.Kind }

// classifyStatus maps an HTTP status code onto the error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 404:
		return ErrNotFound
	case status >= 400 && status < 500:
		return ErrValidation
	default:
		return ErrServer
	}
}
