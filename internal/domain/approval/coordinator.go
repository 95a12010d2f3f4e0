package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentguard/agentguard/internal/domain/policy"
	"github.com/agentguard/agentguard/internal/domain/security"
)

// pendingEntry is one registry record. Its lifecycle is: created with no
// waiter, optionally buffering an early response; a waiter attaches at most
// once; resolution, timeout, cancellation, and shutdown all remove the entry
// from the registry exactly once. The channels are buffered size 1 and each
// receives at most one send, so resolvers never block.
type pendingEntry struct {
	request Request
	waiting bool
	early   *Result
	result  chan Result
	fail    chan error
}

// Coordinator owns the pending-approvals registry, the webhook dispatcher,
// and the nonce replay cache. Safe for concurrent use. The registry mutex is
// never held across network I/O or waiting.
type Coordinator struct {
	webhook *policy.WebhookConfig
	sender  Sender
	signer  *security.Signer
	cipher  *security.Cipher
	nonces  *security.NonceCache
	logger  *slog.Logger
	now     func() time.Time

	approvalTTL   time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntry
	closed  bool

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithApprovalTTL overrides how long new requests stay valid.
func WithApprovalTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.approvalTTL = ttl
	}
}

// WithSweepInterval overrides the background sweep cadence.
func WithSweepInterval(interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.sweepInterval = interval
	}
}

// NewCoordinator creates a Coordinator. A nil webhook config disables
// dispatch: requests are still registered and wait for externally delivered
// responses. The sender may be nil only when webhook is nil. The returned
// coordinator owns a background sweep goroutine; call Close to release it.
func NewCoordinator(webhook *policy.WebhookConfig, sender Sender, logger *slog.Logger, opts ...CoordinatorOption) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		webhook:       webhook,
		sender:        sender,
		nonces:        security.NewNonceCache(0),
		logger:        logger,
		now:           time.Now,
		approvalTTL:   DefaultApprovalTTL,
		sweepInterval: DefaultSweepInterval,
		pending:       make(map[string]*pendingEntry),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if webhook != nil && webhook.Security != nil {
		signer, err := security.NewSigner(webhook.Security.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("configure webhook signing: %w", err)
		}
		c.signer = signer
		if webhook.Security.EncryptionKey != "" {
			cipher, err := security.NewCipher(webhook.Security.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("configure webhook encryption: %w", err)
			}
			c.cipher = cipher
		}
	}
	if webhook != nil && sender == nil {
		return nil, fmt.Errorf("webhook configured but no sender provided")
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c, nil
}

// CreateApprovalRequest registers a fresh approval request and, when a
// webhook is configured, dispatches it. The registry entry is published
// before dispatch so a response racing ahead of WaitForApproval still finds
// it. On dispatch failure the entry is removed and ErrWebhookFailed surfaces.
func (c *Coordinator) CreateApprovalRequest(ctx context.Context, call policy.ToolCall) (string, error) {
	id := uuid.New().String()
	now := c.now()
	req := Request{
		ID:        id,
		ToolCall:  call,
		CreatedAt: now,
		ExpiresAt: now.Add(c.approvalTTL),
	}
	entry := &pendingEntry{
		request: req,
		result:  make(chan Result, 1),
		fail:    make(chan error, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrCoordinatorClosed
	}
	c.pending[id] = entry
	c.mu.Unlock()

	if c.webhook != nil {
		if err := c.dispatch(ctx, req); err != nil {
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
			return "", err
		}
	}

	c.logger.Info("approval request created",
		"request_id", id,
		"tool", call.ToolName,
		"expires_at", req.ExpiresAt,
	)
	return id, nil
}

// WaitForApproval blocks until the request resolves, the timeout elapses,
// the request is cancelled, or ctx is done. An early response stored before
// the waiter attached is returned immediately.
func (c *Coordinator) WaitForApproval(ctx context.Context, requestID string, timeout time.Duration) (Result, error) {
	c.mu.Lock()
	entry, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return Result{}, &UnknownRequestIDError{RequestID: requestID}
	}
	if entry.early != nil {
		res := *entry.early
		delete(c.pending, requestID)
		c.mu.Unlock()
		return res, nil
	}
	entry.waiting = true
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-entry.result:
		return res, nil
	case err := <-entry.fail:
		return Result{}, err
	case <-timer.C:
		c.mu.Lock()
		if _, still := c.pending[requestID]; still {
			delete(c.pending, requestID)
			c.mu.Unlock()
			return Result{}, &TimeoutError{RequestID: requestID, Timeout: timeout}
		}
		c.mu.Unlock()
		// A resolver removed the entry as the timer fired; its send is
		// already buffered or imminent.
		select {
		case res := <-entry.result:
			return res, nil
		case err := <-entry.fail:
			return Result{}, err
		}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return Result{}, ctx.Err()
	}
}

// HandleApprovalResponse resolves a pending request from an inbound response.
// When security is configured the checks run in a fixed order: header
// presence, timestamp format, request-id match, signature, then nonce
// uniqueness. A response with no attached waiter is buffered as an early
// result; a later duplicate overwrites it with a warning.
func (c *Coordinator) HandleApprovalResponse(resp Response, headers map[string]string) error {
	c.mu.Lock()
	entry, ok := c.pending[resp.RequestID]
	if !ok {
		c.mu.Unlock()
		return &UnknownRequestIDError{RequestID: resp.RequestID}
	}
	createdAt := entry.request.CreatedAt
	c.mu.Unlock()

	if c.signer != nil {
		body, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response for verification: %w", err)
		}
		verified, err := c.signer.ValidateResponse(body, headers, resp.RequestID)
		if err != nil {
			return err
		}
		if err := c.nonces.Remember(verified.Nonce, c.now()); err != nil {
			return err
		}
	}

	result := Result{
		Approved:     resp.Decision == DecisionApprove,
		Reason:       resp.Reason,
		ApprovedBy:   resp.ApprovedBy,
		ResponseTime: c.now().Sub(createdAt),
	}

	c.mu.Lock()
	entry, ok = c.pending[resp.RequestID]
	if !ok {
		c.mu.Unlock()
		return &UnknownRequestIDError{RequestID: resp.RequestID}
	}
	if entry.waiting {
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		entry.result <- result
		c.logger.Info("approval resolved",
			"request_id", resp.RequestID,
			"approved", result.Approved,
			"response_time", result.ResponseTime,
		)
		return nil
	}
	if entry.early != nil {
		c.logger.Warn("duplicate approval response, overwriting buffered result",
			"request_id", resp.RequestID,
		)
	}
	entry.early = &result
	c.mu.Unlock()
	return nil
}

// CancelApproval removes a pending request and fails any attached waiter
// with ErrApprovalCancelled. A second cancel for the same id reports
// ErrUnknownRequestID.
func (c *Coordinator) CancelApproval(requestID, reason string) error {
	c.mu.Lock()
	entry, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return &UnknownRequestIDError{RequestID: requestID}
	}
	delete(c.pending, requestID)
	waiting := entry.waiting
	c.mu.Unlock()

	if waiting {
		entry.fail <- &CancelledError{RequestID: requestID, Reason: reason}
	}
	c.logger.Info("approval cancelled", "request_id", requestID, "reason", reason)
	return nil
}

// CleanupExpiredRequests removes entries past their expiry (or past
// CreatedAt+FallbackExpiry when no expiry is set) and fails their waiters
// with ErrApprovalTimeout. Returns how many entries were removed.
func (c *Coordinator) CleanupExpiredRequests() int {
	now := c.now()

	type expired struct {
		entry *pendingEntry
		id    string
	}
	var toFail []expired

	c.mu.Lock()
	removed := 0
	for id, entry := range c.pending {
		deadline := entry.request.ExpiresAt
		if deadline.IsZero() {
			deadline = entry.request.CreatedAt.Add(FallbackExpiry)
		}
		if now.After(deadline) {
			delete(c.pending, id)
			removed++
			if entry.waiting {
				toFail = append(toFail, expired{entry: entry, id: id})
			}
		}
	}
	c.mu.Unlock()

	for _, e := range toFail {
		e.entry.fail <- &TimeoutError{RequestID: e.id}
	}
	if removed > 0 {
		c.logger.Info("expired approval requests removed", "count", removed)
	}
	return removed
}

// PendingApprovals returns a snapshot of the pending requests.
func (c *Coordinator) PendingApprovals() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry.request)
	}
	return out
}

// Stats returns a snapshot of the registry: pending count, oldest age, and
// average age.
func (c *Coordinator) Stats() Stats {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Pending: len(c.pending)}
	if s.Pending == 0 {
		return s
	}
	var total time.Duration
	for _, entry := range c.pending {
		age := now.Sub(entry.request.CreatedAt)
		total += age
		if age > s.OldestAge {
			s.OldestAge = age
		}
	}
	s.AverageAge = total / time.Duration(s.Pending)
	return s
}

// Close stops the background sweep and fails every outstanding waiter with
// ErrApprovalCancelled. Idempotent.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		c.closed = true
		var toFail []*pendingEntry
		var ids []string
		for id, entry := range c.pending {
			delete(c.pending, id)
			if entry.waiting {
				toFail = append(toFail, entry)
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		for i, entry := range toFail {
			entry.fail <- &CancelledError{RequestID: ids[i], Reason: "coordinator closed"}
		}
	})
}

// sweepLoop periodically prunes the nonce cache and expired registry entries.
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			swept := c.nonces.Sweep(c.now())
			expired := c.CleanupExpiredRequests()
			if swept > 0 || expired > 0 {
				c.logger.Debug("coordinator sweep",
					"nonces_removed", swept,
					"requests_expired", expired,
				)
			}
		case <-c.stop:
			return
		}
	}
}
