// Package webhook provides the HTTP transport used to deliver approval
// webhooks.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentguard/agentguard/internal/domain/approval"
)

// maxResponseBody bounds how much of a webhook response is read back.
const maxResponseBody = 1 << 20

// HTTPSender delivers webhook payloads with net/http. The per-attempt
// timeout is applied per call; the underlying client carries no timeout of
// its own so one sender can serve configs with different timeouts.
type HTTPSender struct {
	client *http.Client
}

// Compile-time check that HTTPSender implements approval.Sender.
var _ approval.Sender = (*HTTPSender)(nil)

// NewHTTPSender creates an HTTPSender. A nil client means http.DefaultTransport.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

// Send posts the body to url with the given headers, bounded by timeout.
func (s *HTTPSender) Send(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read webhook response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
