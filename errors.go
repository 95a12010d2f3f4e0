package agentguard

import (
	"errors"

	"github.com/agentguard/agentguard/internal/domain/approval"
	"github.com/agentguard/agentguard/internal/domain/policy"
	"github.com/agentguard/agentguard/internal/domain/security"
)

// Sentinel errors raised by the guard itself.
var (
	// ErrNotInitialized is returned when a guarded tool is called before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("guard not initialized")
	// ErrInvalidArgument is returned for malformed constructor or Protect
	// arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Sentinels re-exported from the internal packages so embedders can match
// every guard error with errors.Is against this package alone.
var (
	ErrPolicyViolation   = policy.ErrViolation
	ErrPolicyLoad        = policy.ErrLoad
	ErrApprovalTimeout   = approval.ErrApprovalTimeout
	ErrApprovalCancelled = approval.ErrApprovalCancelled
	ErrWebhookFailed     = approval.ErrWebhookFailed
	ErrUnknownRequestID  = approval.ErrUnknownRequestID
	ErrInvalidSignature  = security.ErrInvalidSignature
	ErrRequestIDMismatch = security.ErrRequestIDMismatch
	ErrDuplicateNonce    = security.ErrDuplicateNonce
)

// Typed errors re-exported for errors.As matching.
type (
	// PolicyViolationError carries the blocked ToolCall and the matched rule.
	PolicyViolationError = policy.ViolationError
	// PolicyLoadError carries the policy source path and the load failure.
	PolicyLoadError = policy.LoadError
	// ApprovalTimeoutError carries the request id and the elapsed timeout.
	ApprovalTimeoutError = approval.TimeoutError
	// ApprovalCancelledError carries the request id and cancellation reason.
	ApprovalCancelledError = approval.CancelledError
	// WebhookDeliveryError carries the webhook URL and the attempt count.
	WebhookDeliveryError = approval.WebhookError
)
