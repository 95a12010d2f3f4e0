package security

import (
	"errors"
	"fmt"
)

// Sentinel errors raised when an inbound response fails authentication or
// when encryption is misconfigured. The response is discarded in every case;
// pending waiters are unaffected.
var (
	// ErrInvalidSignature covers missing security headers, malformed or stale
	// timestamps, and signature mismatches.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrRequestIDMismatch is returned when the signed request id header does
	// not match the pending request being resolved.
	ErrRequestIDMismatch = errors.New("request id mismatch")
	// ErrDuplicateNonce is returned when a nonce is presented twice within
	// the replay window.
	ErrDuplicateNonce = errors.New("duplicate nonce (possible replay)")
	// ErrNoEncryptionKey is returned when encryption or decryption is
	// attempted without a configured key.
	ErrNoEncryptionKey = errors.New("encryption key not configured")
)

// SignatureError carries the reason a signature check failed.
type SignatureError struct {
	Reason string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature: %s", e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidSignature).
func (e *SignatureError) Unwrap() error { return ErrInvalidSignature }
