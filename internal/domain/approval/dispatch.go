package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentguard/agentguard/internal/domain/security"
)

// dispatch builds, signs, and delivers the approval_request webhook with
// bounded retries. Exhaustion surfaces as ErrWebhookFailed.
func (c *Coordinator) dispatch(ctx context.Context, req Request) error {
	payload := map[string]any{
		"type":      "approval_request",
		"request":   requestPayload(req),
		"timestamp": c.now().UTC().Format(time.RFC3339Nano),
	}

	sec := c.webhook.Security
	if sec != nil && sec.EncryptSensitiveData {
		if err := security.EncryptFields(c.cipher, payload, sec.SensitiveFields); err != nil {
			return fmt.Errorf("encrypt sensitive fields: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	headers := map[string]string{
		"Content-Type": security.ContentTypeJSON,
		"User-Agent":   security.UserAgent,
	}
	for k, v := range c.webhook.Headers {
		headers[k] = v
	}
	// Security headers win over caller-supplied extras.
	if c.signer != nil {
		signed, err := c.signer.GenerateHeaders(body, req.ID)
		if err != nil {
			return fmt.Errorf("sign webhook payload: %w", err)
		}
		for k, v := range signed {
			headers[k] = v
		}
	}

	timeout := c.webhook.EffectiveTimeout()
	attempts := c.webhook.EffectiveRetries()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<(attempt-2)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &WebhookError{URL: c.webhook.URL, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		status, _, err := c.sender.Send(ctx, c.webhook.URL, headers, body, timeout)
		if err == nil && status >= 200 && status < 300 {
			if attempt > 1 {
				c.logger.Info("webhook delivered after retry",
					"request_id", req.ID,
					"attempt", attempt,
				)
			}
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}
		c.logger.Warn("webhook delivery attempt failed",
			"request_id", req.ID,
			"attempt", attempt,
			"attempts", attempts,
			"error", lastErr,
		)
	}
	return &WebhookError{URL: c.webhook.URL, Attempts: attempts, Err: lastErr}
}

// requestPayload converts the request into the JSON-shaped mapping embedded
// in the webhook body. Parameters and metadata are deep-copied so sensitive
// field encryption never mutates the caller's ToolCall.
func requestPayload(req Request) map[string]any {
	call := map[string]any{
		"toolName":   req.ToolCall.ToolName,
		"parameters": deepCopyValue(req.ToolCall.Parameters),
	}
	if req.ToolCall.AgentID != "" {
		call["agentId"] = req.ToolCall.AgentID
	}
	if req.ToolCall.SessionID != "" {
		call["sessionId"] = req.ToolCall.SessionID
	}
	if req.ToolCall.Metadata != nil {
		call["metadata"] = deepCopyValue(req.ToolCall.Metadata)
	}
	return map[string]any{
		"id":        req.ID,
		"toolCall":  call,
		"timestamp": req.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expiresAt": req.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// deepCopyValue copies the mapping and sequence structure of a JSON-shaped
// value. Scalars are shared.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}
