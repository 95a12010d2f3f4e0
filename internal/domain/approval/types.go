// Package approval implements the human-in-the-loop coordinator: a registry
// of pending approval requests, a webhook dispatcher with bounded retries,
// and a response demultiplexer tolerant of out-of-order delivery.
package approval

import (
	"context"
	"time"

	"github.com/agentguard/agentguard/internal/domain/policy"
)

const (
	// DefaultApprovalTTL is how long an approval request stays valid.
	DefaultApprovalTTL = 30 * time.Minute
	// FallbackExpiry bounds entries that carry no expiry of their own.
	FallbackExpiry = time.Hour
	// DefaultSweepInterval is how often the nonce cache and the registry are
	// swept for expired entries.
	DefaultSweepInterval = 10 * time.Minute
)

// Request is a pending human decision, published via webhook and resolved by
// an inbound response or a timeout.
type Request struct {
	// ID is the process-unique request identifier (a UUID).
	ID string `json:"id"`
	// ToolCall is the snapshot of the invocation awaiting approval.
	ToolCall policy.ToolCall `json:"toolCall"`
	// CreatedAt is when the request was minted.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is when the request stops being resolvable.
	ExpiresAt time.Time `json:"expiresAt"`
}

// ResponseDecision is the approver's verdict.
type ResponseDecision string

const (
	DecisionApprove ResponseDecision = "APPROVE"
	DecisionDeny    ResponseDecision = "DENY"
)

// Response is the body of an inbound approval response. Field order is part
// of the wire contract: the response signature covers the JSON serialization
// of this struct.
type Response struct {
	RequestID  string           `json:"requestId"`
	Decision   ResponseDecision `json:"decision"`
	Reason     string           `json:"reason,omitempty"`
	ApprovedBy string           `json:"approvedBy,omitempty"`
}

// Result is the outcome delivered to a waiting guard.
type Result struct {
	// Approved is true when the decision was APPROVE.
	Approved bool
	// Reason is the approver-supplied explanation, if any.
	Reason string
	// ApprovedBy identifies the approver, if supplied.
	ApprovedBy string
	// ResponseTime is how long the approver took from request creation.
	ResponseTime time.Duration
}

// Stats is a point-in-time snapshot of the pending registry.
type Stats struct {
	// Pending is the number of unresolved requests.
	Pending int
	// OldestAge is the age of the oldest pending request, zero when empty.
	OldestAge time.Duration
	// AverageAge is the mean age of pending requests, zero when empty.
	AverageAge time.Duration
}

// Sender delivers one webhook attempt. Implementations must honor the
// per-attempt timeout. A non-nil error or a non-2xx status counts as a
// failed attempt.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (status int, respBody []byte, err error)
}
