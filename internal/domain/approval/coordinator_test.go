package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agentguard/agentguard/internal/domain/policy"
	"github.com/agentguard/agentguard/internal/domain/security"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sentWebhook records one Send call.
type sentWebhook struct {
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// stubSender is a recording Sender that fails the first failCount attempts.
type stubSender struct {
	mu        sync.Mutex
	calls     []sentWebhook
	failCount int
	status    int
	onSend    func(call sentWebhook)
}

func (s *stubSender) Send(_ context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (int, []byte, error) {
	s.mu.Lock()
	call := sentWebhook{URL: url, Headers: headers, Body: append([]byte(nil), body...), Timeout: timeout}
	s.calls = append(s.calls, call)
	n := len(s.calls)
	fail := n <= s.failCount
	onSend := s.onSend
	s.mu.Unlock()

	if onSend != nil {
		onSend(call)
	}
	if fail {
		return 0, nil, errors.New("connection refused")
	}
	status := s.status
	if status == 0 {
		status = 200
	}
	return status, nil, nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestCoordinator(t *testing.T, webhook *policy.WebhookConfig, sender Sender, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(webhook, sender, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func testCall() policy.ToolCall {
	return policy.ToolCall{
		ToolName:   "transfer_funds",
		Parameters: map[string]any{"amount": 5000, "apiKey": "sk-secret"},
		AgentID:    "agent-1",
	}
}

func TestCreateAndResolveApproval(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	id, err := c.CreateApprovalRequest(context.Background(), testCall())
	if err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}
	if id == "" {
		t.Fatal("CreateApprovalRequest() returned empty id")
	}

	done := make(chan struct{})
	var result Result
	var waitErr error
	go func() {
		defer close(done)
		result, waitErr = c.WaitForApproval(context.Background(), id, 5*time.Second)
	}()

	// Give the waiter time to attach.
	waitForWaiter(t, c, id)

	err = c.HandleApprovalResponse(Response{
		RequestID:  id,
		Decision:   DecisionApprove,
		Reason:     "looks fine",
		ApprovedBy: "alice",
	}, nil)
	if err != nil {
		t.Fatalf("HandleApprovalResponse() error = %v", err)
	}

	<-done
	if waitErr != nil {
		t.Fatalf("WaitForApproval() error = %v", waitErr)
	}
	if !result.Approved {
		t.Error("result.Approved = false, want true")
	}
	if result.Reason != "looks fine" || result.ApprovedBy != "alice" {
		t.Errorf("result = %+v, want reason/approvedBy preserved", result)
	}

	// The entry is gone: a second response is unknown.
	err = c.HandleApprovalResponse(Response{RequestID: id, Decision: DecisionApprove}, nil)
	if !errors.Is(err, ErrUnknownRequestID) {
		t.Errorf("second response error = %v, want ErrUnknownRequestID", err)
	}
}

// waitForWaiter polls until the entry for id has a waiter attached.
func waitForWaiter(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		entry, ok := c.pending[id]
		waiting := ok && entry.waiting
		c.mu.Unlock()
		if waiting {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("waiter never attached")
}

func TestEarlyResponseBeforeWaiter(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	id, err := c.CreateApprovalRequest(context.Background(), testCall())
	if err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}

	// Response lands before any waiter attaches.
	if err := c.HandleApprovalResponse(Response{RequestID: id, Decision: DecisionDeny, Reason: "nope"}, nil); err != nil {
		t.Fatalf("HandleApprovalResponse() error = %v", err)
	}

	// The waiter observes the buffered result immediately.
	start := time.Now()
	result, err := c.WaitForApproval(context.Background(), id, time.Minute)
	if err != nil {
		t.Fatalf("WaitForApproval() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitForApproval() took %s, want immediate return", elapsed)
	}
	if result.Approved {
		t.Error("result.Approved = true, want false for DENY")
	}
	if result.Reason != "nope" {
		t.Errorf("result.Reason = %q, want %q", result.Reason, "nope")
	}
}

func TestDuplicateEarlyResponseOverwrites(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	if err := c.HandleApprovalResponse(Response{RequestID: id, Decision: DecisionDeny}, nil); err != nil {
		t.Fatalf("first response error = %v", err)
	}
	if err := c.HandleApprovalResponse(Response{RequestID: id, Decision: DecisionApprove, ApprovedBy: "bob"}, nil); err != nil {
		t.Fatalf("second response error = %v", err)
	}

	result, err := c.WaitForApproval(context.Background(), id, time.Minute)
	if err != nil {
		t.Fatalf("WaitForApproval() error = %v", err)
	}
	if !result.Approved || result.ApprovedBy != "bob" {
		t.Errorf("result = %+v, want the later response", result)
	}
}

func TestWaitForApprovalTimeout(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	_, err := c.WaitForApproval(context.Background(), id, 20*time.Millisecond)
	if !errors.Is(err, ErrApprovalTimeout) {
		t.Fatalf("WaitForApproval() error = %v, want ErrApprovalTimeout", err)
	}

	// The entry is removed on timeout.
	err = c.HandleApprovalResponse(Response{RequestID: id, Decision: DecisionApprove}, nil)
	if !errors.Is(err, ErrUnknownRequestID) {
		t.Errorf("response after timeout error = %v, want ErrUnknownRequestID", err)
	}
}

func TestWaitForUnknownRequest(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	_, err := c.WaitForApproval(context.Background(), "no-such-id", time.Second)
	if !errors.Is(err, ErrUnknownRequestID) {
		t.Fatalf("WaitForApproval() error = %v, want ErrUnknownRequestID", err)
	}
}

func TestCancelApproval(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c := newTestCoordinator(t, nil, nil)

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForApproval(context.Background(), id, time.Minute)
		done <- err
	}()
	waitForWaiter(t, c, id)

	if err := c.CancelApproval(id, "operator abort"); err != nil {
		t.Fatalf("CancelApproval() error = %v", err)
	}

	err := <-done
	if !errors.Is(err, ErrApprovalCancelled) {
		t.Fatalf("WaitForApproval() error = %v, want ErrApprovalCancelled", err)
	}

	// Cancel is idempotent in the not-found sense.
	if err := c.CancelApproval(id, "again"); !errors.Is(err, ErrUnknownRequestID) {
		t.Errorf("second CancelApproval() error = %v, want ErrUnknownRequestID", err)
	}
}

func TestCleanupExpiredRequests(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	now := time.Now()
	var mu sync.Mutex
	current := now
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	c := newTestCoordinator(t, nil, nil, WithClock(clock), WithApprovalTTL(10*time.Minute))

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	if removed := c.CleanupExpiredRequests(); removed != 0 {
		t.Fatalf("CleanupExpiredRequests() = %d before expiry, want 0", removed)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForApproval(context.Background(), id, time.Minute)
		done <- err
	}()
	waitForWaiter(t, c, id)

	mu.Lock()
	current = now.Add(11 * time.Minute)
	mu.Unlock()

	if removed := c.CleanupExpiredRequests(); removed != 1 {
		t.Fatalf("CleanupExpiredRequests() = %d, want 1", removed)
	}
	if err := <-done; !errors.Is(err, ErrApprovalTimeout) {
		t.Errorf("expired waiter error = %v, want ErrApprovalTimeout", err)
	}
}

func TestCloseFailsOutstandingWaiters(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c, err := NewCoordinator(nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForApproval(context.Background(), id, time.Minute)
		done <- err
	}()
	waitForWaiter(t, c, id)

	c.Close()

	if err := <-done; !errors.Is(err, ErrApprovalCancelled) {
		t.Fatalf("waiter error after Close = %v, want ErrApprovalCancelled", err)
	}

	// New requests are refused after Close.
	if _, err := c.CreateApprovalRequest(context.Background(), testCall()); !errors.Is(err, ErrCoordinatorClosed) {
		t.Errorf("CreateApprovalRequest() after Close error = %v, want ErrCoordinatorClosed", err)
	}

	// Close is idempotent.
	c.Close()
}

func TestStats(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	now := time.Now()
	var mu sync.Mutex
	current := now
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	c := newTestCoordinator(t, nil, nil, WithClock(clock))

	if s := c.Stats(); s.Pending != 0 || s.OldestAge != 0 {
		t.Fatalf("Stats() on empty registry = %+v", s)
	}

	c.CreateApprovalRequest(context.Background(), testCall())
	mu.Lock()
	current = now.Add(4 * time.Minute)
	mu.Unlock()
	c.CreateApprovalRequest(context.Background(), testCall())

	mu.Lock()
	current = now.Add(6 * time.Minute)
	mu.Unlock()

	s := c.Stats()
	if s.Pending != 2 {
		t.Errorf("Stats().Pending = %d, want 2", s.Pending)
	}
	if s.OldestAge != 6*time.Minute {
		t.Errorf("Stats().OldestAge = %s, want 6m", s.OldestAge)
	}
	if s.AverageAge != 4*time.Minute {
		t.Errorf("Stats().AverageAge = %s, want 4m", s.AverageAge)
	}

	if got := len(c.PendingApprovals()); got != 2 {
		t.Errorf("PendingApprovals() returned %d entries, want 2", got)
	}
}

func TestWebhookRetryThenSuccess(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{failCount: 2}
	webhook := &policy.WebhookConfig{
		URL:     "https://hooks.example.com/approve",
		Retries: 3,
		Headers: map[string]string{"X-Team": "payments"},
	}
	c := newTestCoordinator(t, webhook, sender)

	id, err := c.CreateApprovalRequest(context.Background(), testCall())
	if err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}
	if sender.count() != 3 {
		t.Errorf("sender called %d times, want 3", sender.count())
	}

	sender.mu.Lock()
	last := sender.calls[len(sender.calls)-1]
	sender.mu.Unlock()
	if last.Headers["X-Team"] != "payments" {
		t.Error("caller-supplied header missing from dispatch")
	}
	if last.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q", last.Headers["Content-Type"])
	}
	if last.Headers["User-Agent"] != "AgentGuard/1.0" {
		t.Errorf("User-Agent = %q", last.Headers["User-Agent"])
	}

	var payload struct {
		Type    string `json:"type"`
		Request struct {
			ID       string `json:"id"`
			ToolCall struct {
				ToolName string `json:"toolName"`
			} `json:"toolCall"`
			ExpiresAt time.Time `json:"expiresAt"`
		} `json:"request"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(last.Body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "approval_request" {
		t.Errorf("payload.type = %q", payload.Type)
	}
	if payload.Request.ID != id {
		t.Errorf("payload.request.id = %q, want %q", payload.Request.ID, id)
	}
	if payload.Request.ToolCall.ToolName != "transfer_funds" {
		t.Errorf("payload tool name = %q", payload.Request.ToolCall.ToolName)
	}
}

func TestWebhookExhaustionRemovesEntry(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{failCount: 2}
	webhook := &policy.WebhookConfig{
		URL:     "https://hooks.example.com/approve",
		Retries: 2,
	}
	c := newTestCoordinator(t, webhook, sender)

	_, err := c.CreateApprovalRequest(context.Background(), testCall())
	if !errors.Is(err, ErrWebhookFailed) {
		t.Fatalf("CreateApprovalRequest() error = %v, want ErrWebhookFailed", err)
	}
	if sender.count() != 2 {
		t.Errorf("sender called %d times, want 2", sender.count())
	}
	if s := c.Stats(); s.Pending != 0 {
		t.Errorf("Stats().Pending = %d after exhaustion, want 0", s.Pending)
	}
}

func TestWebhookNon2xxIsFailure(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{status: 503}
	webhook := &policy.WebhookConfig{
		URL:     "https://hooks.example.com/approve",
		Retries: 1,
	}
	c := newTestCoordinator(t, webhook, sender)

	_, err := c.CreateApprovalRequest(context.Background(), testCall())
	if !errors.Is(err, ErrWebhookFailed) {
		t.Fatalf("CreateApprovalRequest() error = %v, want ErrWebhookFailed", err)
	}
}

func TestWebhookRaceAheadOfWaiter(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// The responder answers synchronously inside Send, before
	// CreateApprovalRequest even returns. The entry must already be
	// registered so the response parks as an early result.
	var c *Coordinator
	sender := &stubSender{}
	sender.onSend = func(call sentWebhook) {
		var payload struct {
			Request struct {
				ID string `json:"id"`
			} `json:"request"`
		}
		if err := json.Unmarshal(call.Body, &payload); err != nil {
			t.Errorf("unmarshal payload: %v", err)
			return
		}
		if err := c.HandleApprovalResponse(Response{RequestID: payload.Request.ID, Decision: DecisionApprove}, nil); err != nil {
			t.Errorf("HandleApprovalResponse() during dispatch error = %v", err)
		}
	}
	webhook := &policy.WebhookConfig{URL: "https://hooks.example.com/approve"}
	c = newTestCoordinator(t, webhook, sender)

	id, err := c.CreateApprovalRequest(context.Background(), testCall())
	if err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}

	result, err := c.WaitForApproval(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("WaitForApproval() error = %v", err)
	}
	if !result.Approved {
		t.Error("result.Approved = false, want true")
	}
}

// signResponse builds the signed security headers for a response body.
func signResponse(t *testing.T, resp Response, nonce string) map[string]string {
	t.Helper()
	signer, err := security.NewSigner(testSigningSecret)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	ts := time.Now().UnixMilli()
	return map[string]string{
		security.HeaderSignature: signer.Sign(body, resp.RequestID, ts, nonce),
		security.HeaderTimestamp: strconv.FormatInt(ts, 10),
		security.HeaderNonce:     nonce,
		security.HeaderRequestID: resp.RequestID,
	}
}

func secureWebhookConfig() *policy.WebhookConfig {
	return &policy.WebhookConfig{
		URL: "https://hooks.example.com/approve",
		Security: &policy.WebhookSecurityConfig{
			SigningSecret: testSigningSecret,
		},
	}
}

func TestSecureResponseRoundTrip(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{}
	c := newTestCoordinator(t, secureWebhookConfig(), sender)

	id, err := c.CreateApprovalRequest(context.Background(), testCall())
	if err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}

	// The outgoing request carries the full signed header set.
	sender.mu.Lock()
	sent := sender.calls[0]
	sender.mu.Unlock()
	for _, h := range []string{security.HeaderSignature, security.HeaderTimestamp, security.HeaderNonce, security.HeaderRequestID} {
		if sent.Headers[h] == "" {
			t.Errorf("outgoing webhook missing header %s", h)
		}
	}

	resp := Response{RequestID: id, Decision: DecisionApprove, ApprovedBy: "alice"}
	if err := c.HandleApprovalResponse(resp, signResponse(t, resp, "nonce-round-trip")); err != nil {
		t.Fatalf("HandleApprovalResponse() error = %v", err)
	}

	result, err := c.WaitForApproval(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("WaitForApproval() error = %v", err)
	}
	if !result.Approved {
		t.Error("result.Approved = false, want true")
	}
}

func TestSecureResponseMissingHeaders(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{}
	c := newTestCoordinator(t, secureWebhookConfig(), sender)

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	resp := Response{RequestID: id, Decision: DecisionApprove}
	err := c.HandleApprovalResponse(resp, map[string]string{security.HeaderSignature: "abc"})
	if !errors.Is(err, security.ErrInvalidSignature) {
		t.Fatalf("HandleApprovalResponse() error = %v, want ErrInvalidSignature", err)
	}

	// The waiterless entry survives a rejected response.
	if s := c.Stats(); s.Pending != 1 {
		t.Errorf("Stats().Pending = %d, want 1", s.Pending)
	}
}

func TestSecureResponseTamperedBody(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{}
	c := newTestCoordinator(t, secureWebhookConfig(), sender)

	id, _ := c.CreateApprovalRequest(context.Background(), testCall())

	signed := Response{RequestID: id, Decision: DecisionDeny}
	headers := signResponse(t, signed, "nonce-tampered")

	// Deliver an APPROVE body under the DENY signature.
	tampered := Response{RequestID: id, Decision: DecisionApprove}
	err := c.HandleApprovalResponse(tampered, headers)
	if !errors.Is(err, security.ErrInvalidSignature) {
		t.Fatalf("HandleApprovalResponse() error = %v, want ErrInvalidSignature", err)
	}
}

func TestSecureResponseRequestIDMismatch(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{}
	c := newTestCoordinator(t, secureWebhookConfig(), sender)

	id1, _ := c.CreateApprovalRequest(context.Background(), testCall())
	id2, _ := c.CreateApprovalRequest(context.Background(), testCall())

	// Valid headers for id1 attached to a response claiming id2.
	signedFor1 := Response{RequestID: id1, Decision: DecisionApprove}
	headers := signResponse(t, signedFor1, "nonce-substitution")

	replayed := Response{RequestID: id2, Decision: DecisionApprove}
	err := c.HandleApprovalResponse(replayed, headers)
	if !errors.Is(err, security.ErrRequestIDMismatch) && !errors.Is(err, security.ErrInvalidSignature) {
		t.Fatalf("HandleApprovalResponse() error = %v, want request-id mismatch or invalid signature", err)
	}
	if errors.Is(err, security.ErrDuplicateNonce) {
		t.Error("substitution rejected as duplicate nonce; id and signature checks must run first")
	}
}

func TestSecureResponseDuplicateNonce(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sender := &stubSender{}
	c := newTestCoordinator(t, secureWebhookConfig(), sender)

	id1, _ := c.CreateApprovalRequest(context.Background(), testCall())
	id2, _ := c.CreateApprovalRequest(context.Background(), testCall())

	resp1 := Response{RequestID: id1, Decision: DecisionApprove}
	if err := c.HandleApprovalResponse(resp1, signResponse(t, resp1, "nonce-shared")); err != nil {
		t.Fatalf("first response error = %v", err)
	}

	// A fresh, correctly signed response reusing the consumed nonce.
	resp2 := Response{RequestID: id2, Decision: DecisionApprove}
	err := c.HandleApprovalResponse(resp2, signResponse(t, resp2, "nonce-shared"))
	if !errors.Is(err, security.ErrDuplicateNonce) {
		t.Fatalf("replayed nonce error = %v, want ErrDuplicateNonce", err)
	}
}

func TestSensitiveFieldEncryptionInDispatch(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	const keyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	sender := &stubSender{}
	webhook := &policy.WebhookConfig{
		URL: "https://hooks.example.com/approve",
		Security: &policy.WebhookSecurityConfig{
			SigningSecret:        testSigningSecret,
			EncryptionKey:        keyHex,
			EncryptSensitiveData: true,
			SensitiveFields: []string{
				"request.toolCall.parameters.apiKey",
				"request.toolCall.parameters.missing",
			},
		},
	}
	c := newTestCoordinator(t, webhook, sender)

	call := testCall()
	if _, err := c.CreateApprovalRequest(context.Background(), call); err != nil {
		t.Fatalf("CreateApprovalRequest() error = %v", err)
	}

	// The caller's parameters are untouched.
	if call.Parameters["apiKey"] != "sk-secret" {
		t.Error("dispatch mutated the caller's parameters")
	}

	sender.mu.Lock()
	body := sender.calls[0].Body
	sender.mu.Unlock()

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	leaf, ok := policy.ResolvePath(payload, "request.toolCall.parameters.apiKey")
	if !ok {
		t.Fatal("apiKey leaf missing from payload")
	}
	envMap, ok := leaf.(map[string]any)
	if !ok {
		t.Fatalf("apiKey leaf = %T, want envelope map", leaf)
	}
	env, ok := security.EnvelopeFromMap(envMap)
	if !ok {
		t.Fatal("apiKey leaf is not an encryption envelope")
	}

	cipher, err := security.NewCipher(keyHex)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	plain, err := cipher.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "sk-secret" {
		t.Errorf("decrypted value = %v, want sk-secret", plain)
	}

	// Sibling fields are untouched.
	amount, ok := policy.ResolvePath(payload, "request.toolCall.parameters.amount")
	if !ok || amount != float64(5000) {
		t.Errorf("sibling amount = %v (%v), want 5000", amount, ok)
	}
}
