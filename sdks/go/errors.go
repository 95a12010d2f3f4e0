package agentguard

import "errors"

var (
	// ErrInvalidSignature reports a webhook whose signature, timestamp, or
	// security headers fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrRequestIDMismatch reports a webhook whose request-id header does not
	// match the request id inside the payload.
	ErrRequestIDMismatch = errors.New("request id mismatch")

	// ErrInvalidPayload reports a webhook body that is not a well-formed
	// approval_request payload.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrNotEncrypted reports a value that is not an encryption envelope.
	ErrNotEncrypted = errors.New("value is not an encryption envelope")
)
