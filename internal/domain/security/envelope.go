// Package security implements the webhook security envelope: HMAC request
// and response signing with timestamp and nonce freshness, a replay-blocking
// nonce cache, and AES-256-GCM encryption of sensitive payload fields.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header names carried on signed webhook requests and approval responses.
const (
	HeaderSignature = "x-agentguard-signature"
	HeaderTimestamp = "x-agentguard-timestamp"
	HeaderNonce     = "x-agentguard-nonce"
	HeaderRequestID = "x-agentguard-request-id"
)

const (
	// UserAgent identifies outgoing webhook requests.
	UserAgent = "AgentGuard/1.0"
	// ContentTypeJSON is the payload content type.
	ContentTypeJSON = "application/json"
)

// MaxClockSkew bounds the accepted |now - timestamp| distance for signed
// messages.
const MaxClockSkew = 5 * time.Minute

// MinSigningSecretLen is the minimum signing secret length in bytes.
const MinSigningSecretLen = 32

// Signer computes and verifies the HMAC-SHA-256 signatures that authenticate
// webhook traffic. The signed string is
//
//	timestampMs + "." + nonce + "." + requestId + "." + payload
//
// hex-encoded. Signer is stateless and safe for concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer. The secret must be at least 32 bytes.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < MinSigningSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSigningSecretLen, len(secret))
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Sign returns the hex-encoded HMAC-SHA-256 signature for the payload.
func (s *Signer) Sign(payload []byte, requestID string, timestampMs int64, nonce string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.%s.%s.", timestampMs, nonce, requestID)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature: the timestamp must be within MaxClockSkew of
// now, and the recomputed signature must match in constant time.
func (s *Signer) Verify(payload []byte, signature, requestID string, timestampMs int64, nonce string) error {
	skew := s.now().UnixMilli() - timestampMs
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > MaxClockSkew {
		return &SignatureError{Reason: "timestamp outside freshness window"}
	}
	expected := s.Sign(payload, requestID, timestampMs, nonce)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return &SignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// GenerateHeaders signs the payload with a fresh timestamp and nonce and
// returns the complete header set for an outgoing webhook request.
func (s *Signer) GenerateHeaders(payload []byte, requestID string) (map[string]string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ts := s.now().UnixMilli()
	return map[string]string{
		HeaderSignature: s.Sign(payload, requestID, ts, nonce),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderNonce:     nonce,
		HeaderRequestID: requestID,
		"Content-Type":  ContentTypeJSON,
		"User-Agent":    UserAgent,
	}, nil
}

// ResponseHeaders is the security header set extracted from an inbound
// approval response.
type ResponseHeaders struct {
	Signature   string
	TimestampMs int64
	Nonce       string
	RequestID   string
}

// ValidateResponse authenticates an inbound approval response body against
// its headers. Checks run in a fixed order: header presence, timestamp
// format, request-id match, then signature. On success it returns the parsed
// headers so the caller can consume the nonce.
func (s *Signer) ValidateResponse(body []byte, headers map[string]string, expectedRequestID string) (*ResponseHeaders, error) {
	sig := headerValue(headers, HeaderSignature)
	tsRaw := headerValue(headers, HeaderTimestamp)
	nonce := headerValue(headers, HeaderNonce)
	reqID := headerValue(headers, HeaderRequestID)
	if sig == "" || tsRaw == "" || nonce == "" || reqID == "" {
		return nil, &SignatureError{Reason: "missing required security headers"}
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, &SignatureError{Reason: "invalid timestamp format"}
	}

	if reqID != expectedRequestID {
		return nil, fmt.Errorf("%w: header %q does not match expected %q", ErrRequestIDMismatch, reqID, expectedRequestID)
	}

	if err := s.Verify(body, sig, reqID, ts, nonce); err != nil {
		return nil, err
	}

	return &ResponseHeaders{Signature: sig, TimestampMs: ts, Nonce: nonce, RequestID: reqID}, nil
}

// headerValue looks up a header case-insensitively. Hosts hand us header maps
// from transports with varying canonicalization.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
