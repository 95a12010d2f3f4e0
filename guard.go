package agentguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentguard/agentguard/internal/adapter/outbound/policyfile"
	"github.com/agentguard/agentguard/internal/adapter/outbound/webhook"
	"github.com/agentguard/agentguard/internal/ctxkey"
	"github.com/agentguard/agentguard/internal/domain/approval"
	"github.com/agentguard/agentguard/internal/domain/policy"
	"github.com/agentguard/agentguard/internal/service"
	"github.com/agentguard/agentguard/internal/telemetry"
)

// Public aliases for the domain types, so embedders import only this package.
type (
	Policy                = policy.Policy
	Rule                  = policy.Rule
	Condition             = policy.Condition
	Action                = policy.Action
	Operator              = policy.Operator
	ToolCall              = policy.ToolCall
	Decision              = policy.Decision
	WebhookConfig         = policy.WebhookConfig
	WebhookSecurityConfig = policy.WebhookSecurityConfig
	ApprovalRequest       = approval.Request
	ApprovalResponse      = approval.Response
	ApprovalDecision      = approval.ResponseDecision
	HITLResult            = approval.Result
	ApprovalStats         = approval.Stats
	DecisionRecord        = service.DecisionRecord
)

// Re-exported enum values.
const (
	ActionAllow           = policy.ActionAllow
	ActionBlock           = policy.ActionBlock
	ActionRequireApproval = policy.ActionRequireApproval

	DecisionApprove = approval.DecisionApprove
	DecisionDeny    = approval.DecisionDeny

	OpEquals     = policy.OpEquals
	OpContains   = policy.OpContains
	OpStartsWith = policy.OpStartsWith
	OpEndsWith   = policy.OpEndsWith
	OpRegex      = policy.OpRegex
	OpIn         = policy.OpIn
	OpGT         = policy.OpGT
	OpLT         = policy.OpLT
	OpGTE        = policy.OpGTE
	OpLTE        = policy.OpLTE
)

// GuardStats is a point-in-time snapshot of a guard's decision counters.
type GuardStats struct {
	Allowed            int64
	Blocked            int64
	ApprovalsRequested int64
	Approved           int64
	Denied             int64
	PendingApprovals   int
}

// Guard mediates tool calls through a policy: it evaluates each call against
// the loaded rules, passes allowed calls through verbatim, rejects blocked
// calls without invoking the tool, and holds require_approval calls until a
// human decides. Safe for concurrent use once initialized.
type Guard struct {
	policyFile       string
	inlinePolicy     *policy.Policy
	configWebhook    *policy.WebhookConfig
	logger           *slog.Logger
	httpClient       *http.Client
	approvalTimeout  time.Duration
	registry         *prometheus.Registry
	telemetryEnabled bool
	telemetryWriter  io.Writer

	mu          sync.Mutex
	initialized atomic.Bool
	svc         *service.PolicyService
	coord       *approval.Coordinator
	decisions   *service.DecisionLog
	metrics     *telemetry.Metrics
	provider    *telemetry.Provider
	invokeHist  metric.Float64Histogram

	allowed            atomic.Int64
	blocked            atomic.Int64
	approvalsRequested atomic.Int64
	approved           atomic.Int64
	denied             atomic.Int64
}

// New constructs a Guard. Exactly one policy source (file or in-memory) is
// required; nothing is loaded until Initialize.
func New(opts ...Option) (*Guard, error) {
	g := &Guard{
		logger:          slog.Default(),
		approvalTimeout: DefaultApprovalTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	if g.policyFile == "" && g.inlinePolicy == nil {
		return nil, fmt.Errorf("%w: a policy file or an in-memory policy is required", ErrInvalidArgument)
	}
	if g.policyFile != "" && g.inlinePolicy != nil {
		return nil, fmt.Errorf("%w: policy file and in-memory policy are mutually exclusive", ErrInvalidArgument)
	}
	return g, nil
}

// Initialize loads and compiles the policy, binds the effective webhook, and
// starts the coordinator and decision log. Idempotent: once a guard is
// initialized, subsequent calls are no-ops.
func (g *Guard) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized.Load() {
		return nil
	}

	p, err := g.loadPolicy()
	if err != nil {
		return err
	}
	svc, err := service.NewPolicyService(p, g.logger)
	if err != nil {
		return err
	}

	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
	}
	metrics := telemetry.NewMetrics(g.registry)

	// Policy webhook wins over the constructor webhook. No webhook at all is
	// legal: require_approval calls then wait for responses delivered
	// directly via HandleApprovalResponse.
	effective := p.Webhook
	if effective == nil {
		effective = g.configWebhook
	}
	var sender approval.Sender
	if effective != nil {
		sender = &countingSender{
			inner:   webhook.NewHTTPSender(g.httpClient),
			metrics: metrics,
		}
	}
	coord, err := approval.NewCoordinator(effective, sender, g.logger)
	if err != nil {
		return err
	}

	if g.telemetryEnabled {
		cfg := telemetry.DefaultProviderConfig()
		cfg.Writer = g.telemetryWriter
		provider, err := telemetry.NewProvider(ctx, cfg, g.logger)
		if err != nil {
			coord.Close()
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		hist, err := provider.Meter().Float64Histogram("agentguard.invoke.duration",
			metric.WithDescription("Guarded invocation duration in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			coord.Close()
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		g.provider = provider
		g.invokeHist = hist
	}

	g.svc = svc
	g.coord = coord
	g.metrics = metrics
	g.decisions = service.NewDecisionLog(g.logger,
		service.WithDropHook(metrics.DecisionLogDrops.Inc))
	g.initialized.Store(true)

	g.logger.Info("guard initialized",
		"policy", p.Name,
		"rules", len(p.Rules),
		"webhook", effective != nil,
	)
	return nil
}

func (g *Guard) loadPolicy() (*policy.Policy, error) {
	if g.policyFile != "" {
		return policyfile.Load(g.policyFile)
	}
	if err := g.inlinePolicy.Validate(); err != nil {
		return nil, &policy.LoadError{Err: err}
	}
	return g.inlinePolicy, nil
}

// Protect wraps a tool behind this guard. The returned tool is immutable;
// protect the same function twice to guard it under two names.
func (g *Guard) Protect(toolName string, tool ToolFunc, opts ...ProtectOption) (*ProtectedTool, error) {
	if strings.TrimSpace(toolName) == "" {
		return nil, fmt.Errorf("%w: tool name is required", ErrInvalidArgument)
	}
	if tool == nil {
		return nil, fmt.Errorf("%w: tool function is required", ErrInvalidArgument)
	}
	t := &ProtectedTool{
		guard: g,
		name:  toolName,
		fn:    tool,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// invoke is the decision pipeline behind ProtectedTool.Call.
func (g *Guard) invoke(ctx context.Context, t *ProtectedTool, args []any) (any, error) {
	if !g.initialized.Load() {
		return nil, fmt.Errorf("call %s: %w", t.name, ErrNotInitialized)
	}

	// Per-tool attribution wins; the context fills in what Protect left unset.
	agentID := t.agentID
	if agentID == "" {
		agentID = ctxkey.AgentID(ctx)
	}
	sessionID := t.sessionID
	if sessionID == "" {
		sessionID = ctxkey.SessionID(ctx)
	}
	call := policy.ToolCall{
		ToolName:   t.name,
		Parameters: extractParameters(args),
		AgentID:    agentID,
		SessionID:  sessionID,
		Metadata:   t.metadata,
	}

	start := time.Now()
	var span trace.Span
	if g.provider != nil {
		ctx, span = g.provider.StartSpan(ctx, "agentguard.invoke",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("agentguard.tool", t.name)),
		)
		defer func() {
			g.invokeHist.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("agentguard.tool", t.name)),
			)
			span.End()
		}()
	}

	d := g.svc.Evaluate(call, start)
	g.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	g.metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	g.recordDecision(call, d)
	if span != nil {
		span.SetAttributes(
			attribute.String("agentguard.action", string(d.Action)),
			attribute.String("agentguard.rule", ruleName(d)),
		)
	}

	switch d.Action {
	case policy.ActionAllow:
		g.allowed.Add(1)
		return t.fn(ctx, args...)
	case policy.ActionBlock:
		g.blocked.Add(1)
		return nil, policy.NewViolationError(call, d)
	case policy.ActionRequireApproval:
		g.approvalsRequested.Add(1)
		return g.awaitApproval(ctx, t, call, d, args)
	default:
		// Unreachable for a validated policy.
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, d.Action)
	}
}

// awaitApproval runs the HITL gate for one require_approval decision.
func (g *Guard) awaitApproval(ctx context.Context, t *ProtectedTool, call policy.ToolCall, d policy.Decision, args []any) (any, error) {
	id, err := g.coord.CreateApprovalRequest(ctx, call)
	if err != nil {
		g.metrics.ApprovalsTotal.WithLabelValues("webhook_failed").Inc()
		return nil, err
	}
	g.syncPendingGauge()

	// The approved invocation (and anything it logs) can correlate itself
	// with the approval via RequestIDFromContext.
	ctx = ctxkey.WithRequestID(ctx, id)

	res, err := g.coord.WaitForApproval(ctx, id, g.approvalTimeout)
	g.syncPendingGauge()
	if err != nil {
		g.metrics.ApprovalsTotal.WithLabelValues(approvalOutcome(err)).Inc()
		return nil, err
	}
	if !res.Approved {
		g.denied.Add(1)
		g.metrics.ApprovalsTotal.WithLabelValues("denied").Inc()
		reason := "approval denied"
		if res.Reason != "" {
			reason = "approval denied: " + res.Reason
		}
		return nil, &policy.ViolationError{
			Call:     call,
			Rule:     d.MatchedRule,
			RuleName: ruleName(d),
			Reason:   reason,
		}
	}

	g.approved.Add(1)
	g.metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
	g.logger.Info("tool call approved",
		"tool", call.ToolName,
		"request_id", id,
		"approved_by", res.ApprovedBy,
		"response_time", res.ResponseTime,
	)
	return t.fn(ctx, args...)
}

// HandleApprovalResponse resolves a pending approval from an inbound webhook
// response body and its security headers.
func (g *Guard) HandleApprovalResponse(resp ApprovalResponse, headers map[string]string) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	err := g.coord.HandleApprovalResponse(resp, headers)
	g.syncPendingGauge()
	return err
}

// CancelApproval withdraws a pending approval request.
func (g *Guard) CancelApproval(requestID, reason string) error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	err := g.coord.CancelApproval(requestID, reason)
	g.syncPendingGauge()
	if err == nil {
		g.metrics.ApprovalsTotal.WithLabelValues("cancelled").Inc()
	}
	return err
}

// PendingApprovals returns a snapshot of the unresolved approval requests.
func (g *Guard) PendingApprovals() []ApprovalRequest {
	if !g.initialized.Load() {
		return nil
	}
	return g.coord.PendingApprovals()
}

// ApprovalStats returns the coordinator's pending-registry statistics.
func (g *Guard) ApprovalStats() ApprovalStats {
	if !g.initialized.Load() {
		return ApprovalStats{}
	}
	return g.coord.Stats()
}

// RecentDecisions returns the retained decision records, oldest first.
func (g *Guard) RecentDecisions() []DecisionRecord {
	if !g.initialized.Load() {
		return nil
	}
	return g.decisions.Recent()
}

// Stats returns the guard's decision counters.
func (g *Guard) Stats() GuardStats {
	s := GuardStats{
		Allowed:            g.allowed.Load(),
		Blocked:            g.blocked.Load(),
		ApprovalsRequested: g.approvalsRequested.Load(),
		Approved:           g.approved.Load(),
		Denied:             g.denied.Load(),
	}
	if g.initialized.Load() {
		s.PendingApprovals = g.coord.Stats().Pending
	}
	return s
}

// Policy returns the currently loaded policy.
func (g *Guard) Policy() *Policy {
	if !g.initialized.Load() {
		return nil
	}
	return g.svc.Policy()
}

// MetricsRegistry exposes the guard's Prometheus registry for embedders that
// want to serve or gather its collectors.
func (g *Guard) MetricsRegistry() *prometheus.Registry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry
}

// ReloadPolicy re-reads the policy file, validates it, and swaps the compiled
// snapshot atomically. In-flight evaluations finish on the old snapshot.
// Only file-backed guards can reload. The webhook binding is fixed at
// Initialize; a changed webhook section takes effect on the next start.
func (g *Guard) ReloadPolicy() error {
	if !g.initialized.Load() {
		return ErrNotInitialized
	}
	if g.policyFile == "" {
		return fmt.Errorf("%w: reload requires a file-backed policy", ErrInvalidArgument)
	}

	p, err := policyfile.Load(g.policyFile)
	if err != nil {
		return err
	}
	if webhookChanged(g.svc.Policy().Webhook, p.Webhook) {
		g.logger.Warn("policy webhook changed on reload; webhook binding stays as initialized",
			"policy", p.Name,
		)
	}
	if err := g.svc.Reload(p); err != nil {
		return err
	}
	g.logger.Info("policy reloaded", "policy", p.Name, "rules", len(p.Rules))
	return nil
}

// Close stops the coordinator (failing outstanding waiters), drains the
// decision log, and shuts down telemetry. Idempotent.
func (g *Guard) Close() error {
	if !g.initialized.Load() {
		return nil
	}
	g.coord.Close()
	g.decisions.Close()
	if g.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.provider.Shutdown(ctx)
	}
	return nil
}

func (g *Guard) recordDecision(call policy.ToolCall, d policy.Decision) {
	rec := service.DecisionRecord{
		Time:      time.Now(),
		ToolName:  call.ToolName,
		AgentID:   call.AgentID,
		SessionID: call.SessionID,
		Action:    d.Action,
		Reason:    d.Reason,
	}
	if d.MatchedRule != nil {
		rec.RuleName = d.MatchedRule.Name
	}
	g.decisions.Record(rec)
}

func (g *Guard) syncPendingGauge() {
	g.metrics.PendingApprovals.Set(float64(g.coord.Stats().Pending))
}

func ruleName(d policy.Decision) string {
	if d.MatchedRule != nil {
		return d.MatchedRule.Name
	}
	return policy.DefaultRuleName
}

func approvalOutcome(err error) string {
	switch {
	case errors.Is(err, ErrApprovalTimeout):
		return "timeout"
	case errors.Is(err, ErrApprovalCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

func webhookChanged(old, next *policy.WebhookConfig) bool {
	if (old == nil) != (next == nil) {
		return true
	}
	return old != nil && next != nil && old.URL != next.URL
}

// countingSender wraps the HTTP sender with attempt and failure counters.
type countingSender struct {
	inner   approval.Sender
	metrics *telemetry.Metrics
}

func (s *countingSender) Send(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (int, []byte, error) {
	s.metrics.WebhookAttempts.Inc()
	status, resp, err := s.inner.Send(ctx, url, headers, body, timeout)
	if err != nil || status < 200 || status > 299 {
		s.metrics.WebhookFailures.Inc()
	}
	return status, resp, err
}
