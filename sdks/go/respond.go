package agentguard

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Responder builds and signs approval responses. The host authenticates the
// response body against the same HMAC scheme used on the webhook request and
// rejects replays by nonce, so every SignResponse call generates a fresh
// timestamp and nonce.
type Responder struct {
	secret []byte
	now    func() time.Time
}

// NewResponder creates a Responder. The secret must be at least 32 bytes and
// must match the host's webhook signing secret.
func NewResponder(secret string) (*Responder, error) {
	if len(secret) < MinSigningSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSigningSecretLen, len(secret))
	}
	return &Responder{secret: []byte(secret), now: time.Now}, nil
}

// SignResponse serializes the response and returns the body together with
// the signed header set to send with it.
func (r *Responder) SignResponse(resp ApprovalResponse) (body []byte, headers map[string]string, err error) {
	if resp.RequestID == "" {
		return nil, nil, fmt.Errorf("response request id is required")
	}
	if resp.Decision != DecisionApprove && resp.Decision != DecisionDeny {
		return nil, nil, fmt.Errorf("decision must be %s or %s, got %q", DecisionApprove, DecisionDeny, resp.Decision)
	}

	body, err = json.Marshal(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal response: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ts := r.now().UnixMilli()

	headers = map[string]string{
		HeaderSignature: signPayload(r.secret, body, resp.RequestID, ts, nonce),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderNonce:     nonce,
		HeaderRequestID: resp.RequestID,
		"Content-Type":  "application/json",
	}
	return body, headers, nil
}

// newNonce returns 16 random bytes hex-encoded.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
