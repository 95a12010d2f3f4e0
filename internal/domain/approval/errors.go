package approval

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for approval outcomes. Typed errors below carry the
// details; match with errors.Is against these.
var (
	// ErrApprovalTimeout is returned when no response arrives in time.
	ErrApprovalTimeout = errors.New("approval timeout")
	// ErrApprovalCancelled is returned when a pending approval is cancelled,
	// including coordinator shutdown.
	ErrApprovalCancelled = errors.New("approval cancelled")
	// ErrWebhookFailed is returned when every webhook delivery attempt failed.
	ErrWebhookFailed = errors.New("webhook delivery failed")
	// ErrUnknownRequestID is returned for a response or operation targeting a
	// request id that is not in the registry.
	ErrUnknownRequestID = errors.New("unknown request id")
	// ErrCoordinatorClosed is returned for operations on a closed coordinator.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

// TimeoutError reports a request that saw no response within its window.
type TimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("approval timeout: request %s received no response within %s", e.RequestID, e.Timeout)
	}
	return fmt.Sprintf("approval timeout: request %s expired", e.RequestID)
}

// Unwrap allows errors.Is(err, ErrApprovalTimeout).
func (e *TimeoutError) Unwrap() error { return ErrApprovalTimeout }

// CancelledError reports an explicitly cancelled approval.
type CancelledError struct {
	RequestID string
	Reason    string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("approval cancelled: request %s", e.RequestID)
	}
	return fmt.Sprintf("approval cancelled: request %s: %s", e.RequestID, e.Reason)
}

// Unwrap allows errors.Is(err, ErrApprovalCancelled).
func (e *CancelledError) Unwrap() error { return ErrApprovalCancelled }

// WebhookError reports an exhausted webhook dispatch.
type WebhookError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery failed: %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt's error.
func (e *WebhookError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrWebhookFailed).
func (e *WebhookError) Is(target error) bool { return target == ErrWebhookFailed }

// UnknownRequestIDError reports an operation on a missing registry entry.
type UnknownRequestIDError struct {
	RequestID string
}

// Error implements the error interface.
func (e *UnknownRequestIDError) Error() string {
	return fmt.Sprintf("unknown request id %q", e.RequestID)
}

// Unwrap allows errors.Is(err, ErrUnknownRequestID).
func (e *UnknownRequestIDError) Unwrap() error { return ErrUnknownRequestID }
