package agentguard

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultApprovalTimeout bounds WaitForApproval when no option overrides it.
const DefaultApprovalTimeout = 5 * time.Minute

// Option configures a Guard at construction time.
type Option func(*Guard)

// WithPolicyFile loads the policy from a YAML or JSON file at Initialize.
// File-backed guards support ReloadPolicy.
func WithPolicyFile(path string) Option {
	return func(g *Guard) {
		g.policyFile = path
	}
}

// WithPolicy supplies an in-memory policy. It is validated at Initialize.
// Mutually exclusive with WithPolicyFile.
func WithPolicy(p *Policy) Option {
	return func(g *Guard) {
		g.inlinePolicy = p
	}
}

// WithWebhook sets the approval webhook used when the policy itself declares
// none. A webhook declared in the policy document always wins.
func WithWebhook(w *WebhookConfig) Option {
	return func(g *Guard) {
		g.configWebhook = w
	}
}

// WithLogger sets the guard's logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithHTTPClient sets the client used for webhook deliveries. Per-attempt
// timeouts are applied via request contexts regardless of the client's own
// Timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Guard) {
		g.httpClient = client
	}
}

// WithApprovalTimeout bounds how long a guarded call waits for a human
// decision before failing with ErrApprovalTimeout.
func WithApprovalTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.approvalTimeout = d
		}
	}
}

// WithMetricsRegistry registers the guard's Prometheus collectors on the
// given registry instead of a private one.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(g *Guard) {
		g.registry = reg
	}
}

// WithTelemetry enables the OpenTelemetry provider: a span per guarded
// invocation plus an invocation-duration instrument, exported to w (stdout
// when w is nil).
func WithTelemetry(w io.Writer) Option {
	return func(g *Guard) {
		g.telemetryEnabled = true
		g.telemetryWriter = w
	}
}

// ProtectOption configures one protected tool.
type ProtectOption func(*ProtectedTool)

// WithAgentID attributes calls through this tool to an agent.
func WithAgentID(id string) ProtectOption {
	return func(t *ProtectedTool) {
		t.agentID = id
	}
}

// WithSessionID attributes calls through this tool to a session.
func WithSessionID(id string) ProtectOption {
	return func(t *ProtectedTool) {
		t.sessionID = id
	}
}

// WithMetadata attaches caller-supplied annotations to every call through
// this tool. The map is copied.
func WithMetadata(md map[string]any) ProtectOption {
	return func(t *ProtectedTool) {
		if len(md) == 0 {
			return
		}
		cp := make(map[string]any, len(md))
		for k, v := range md {
			cp[k] = v
		}
		t.metadata = cp
	}
}
