// Package agentguard is the approver-side SDK for AgentGuard webhooks.
//
// An AgentGuard host dispatches an approval_request webhook whenever a
// guarded tool call needs a human decision. This package gives approval
// services the three pieces they need, with no dependencies beyond the
// standard library:
//
//   - Verifier authenticates an inbound webhook (HMAC signature, timestamp
//     freshness, request-id binding) and parses its payload.
//   - Decryptor opens encrypted parameter envelopes when the host is
//     configured to encrypt sensitive fields.
//   - Responder builds and signs the approval response the host expects.
//
// Typical handler:
//
//	verifier, _ := agentguard.NewVerifier(secret)
//	responder, _ := agentguard.NewResponder(secret)
//
//	func handle(w http.ResponseWriter, r *http.Request) {
//		body, _ := io.ReadAll(r.Body)
//		payload, err := verifier.ParseWebhook(body, flatten(r.Header))
//		if err != nil {
//			w.WriteHeader(http.StatusUnauthorized)
//			return
//		}
//		resp := agentguard.ApprovalResponse{
//			RequestID:  payload.Request.ID,
//			Decision:   agentguard.DecisionApprove,
//			ApprovedBy: "ops@example.com",
//		}
//		respBody, headers, _ := responder.SignResponse(resp)
//		// POST respBody with headers back to the host's response endpoint.
//	}
package agentguard

import "time"

// Header names carried on signed webhook requests and approval responses.
const (
	HeaderSignature = "x-agentguard-signature"
	HeaderTimestamp = "x-agentguard-timestamp"
	HeaderNonce     = "x-agentguard-nonce"
	HeaderRequestID = "x-agentguard-request-id"
)

// MaxClockSkew bounds the accepted |now - timestamp| distance for signed
// messages. It matches the host's freshness window.
const MaxClockSkew = 5 * time.Minute

// MinSigningSecretLen is the minimum signing secret length in bytes.
const MinSigningSecretLen = 32

// ToolCall describes the intercepted tool invocation awaiting approval.
type ToolCall struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	AgentID    string         `json:"agentId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ApprovalRequest is one pending approval as carried in the webhook body.
// Timestamp is the request creation time; both times are RFC 3339.
type ApprovalRequest struct {
	ID        string   `json:"id"`
	ToolCall  ToolCall `json:"toolCall"`
	Timestamp string   `json:"timestamp"`
	ExpiresAt string   `json:"expiresAt"`
}

// CreatedAt parses the request creation timestamp.
func (r *ApprovalRequest) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

// Expiry parses the request expiry timestamp.
func (r *ApprovalRequest) Expiry() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.ExpiresAt)
}

// WebhookPayload is the top-level webhook body. Type is always
// "approval_request".
type WebhookPayload struct {
	Type      string          `json:"type"`
	Request   ApprovalRequest `json:"request"`
	Timestamp string          `json:"timestamp"`
}

// Decision is the approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDeny    Decision = "DENY"
)

// ApprovalResponse is the body an approver posts back to the host.
type ApprovalResponse struct {
	RequestID  string   `json:"requestId"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
	ApprovedBy string   `json:"approvedBy,omitempty"`
}
