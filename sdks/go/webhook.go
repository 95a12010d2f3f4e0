package agentguard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verifier authenticates inbound approval_request webhooks. The host signs
// each delivery with HMAC-SHA-256 over
//
//	timestampMs + "." + nonce + "." + requestId + "." + body
//
// hex-encoded, and carries the signature material in x-agentguard-* headers.
// Verifier is stateless and safe for concurrent use; replay protection
// beyond the freshness window is the approver's responsibility (track seen
// nonces if your deployment needs it).
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier. The secret must be at least 32 bytes and
// must match the host's webhook signing secret.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < MinSigningSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSigningSecretLen, len(secret))
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// ParseWebhook verifies a webhook delivery and returns its parsed payload.
// Headers are matched case-insensitively, so header maps from any transport
// canonicalization work. Verification order: header presence, timestamp
// format, timestamp freshness, signature, then payload shape and request-id
// binding.
func (v *Verifier) ParseWebhook(body []byte, headers map[string]string) (*WebhookPayload, error) {
	sig := headerValue(headers, HeaderSignature)
	tsRaw := headerValue(headers, HeaderTimestamp)
	nonce := headerValue(headers, HeaderNonce)
	reqID := headerValue(headers, HeaderRequestID)
	if sig == "" || tsRaw == "" || nonce == "" || reqID == "" {
		return nil, fmt.Errorf("%w: missing required security headers", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp format", ErrInvalidSignature)
	}

	skew := v.now().UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > MaxClockSkew {
		return nil, fmt.Errorf("%w: timestamp outside freshness window", ErrInvalidSignature)
	}

	expected := signPayload(v.secret, body, reqID, ts, nonce)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Type != "approval_request" {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidPayload, payload.Type)
	}
	if payload.Request.ID == "" {
		return nil, fmt.Errorf("%w: missing request id", ErrInvalidPayload)
	}
	if payload.Request.ID != reqID {
		return nil, fmt.Errorf("%w: header %q does not match payload %q", ErrRequestIDMismatch, reqID, payload.Request.ID)
	}
	return &payload, nil
}

// signPayload computes the hex HMAC-SHA-256 signature for one message.
func signPayload(secret, payload []byte, requestID string, timestampMs int64, nonce string) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.%s.%s.", timestampMs, nonce, requestID)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// headerValue looks up a header case-insensitively.
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
