// Package policy contains the domain types for tool-call authorization:
// policies, rules, conditions, tool calls, and the decisions the evaluator
// produces from them.
package policy

import "time"

// Action represents the verdict a policy produces for a tool call.
type Action string

const (
	// ActionAllow permits the tool call to proceed.
	ActionAllow Action = "allow"
	// ActionBlock rejects the tool call without invoking the tool.
	ActionBlock Action = "block"
	// ActionRequireApproval holds the tool call until a human approves it.
	ActionRequireApproval Action = "require_approval"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionRequireApproval:
		return true
	}
	return false
}

// Operator identifies a condition matching operator.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpRegex      Operator = "regex"
	OpIn         Operator = "in"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
)

// Valid reports whether o is one of the known operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex,
		OpIn, OpGT, OpLT, OpGTE, OpLTE:
		return true
	}
	return false
}

// Numeric reports whether o compares its operands as numbers.
func (o Operator) Numeric() bool {
	switch o {
	case OpGT, OpLT, OpGTE, OpLTE:
		return true
	}
	return false
}

// Condition is a single predicate over the evaluation context.
type Condition struct {
	// Field is a dotted path into the evaluation context,
	// e.g. "toolCall.parameters.user.role" or "toolCall.parameters.items.0.id".
	// Each segment selects a mapping key or a decimal array index.
	Field string `yaml:"field" json:"field" validate:"required"`
	// Operator selects the comparison applied to the extracted value.
	Operator Operator `yaml:"operator" json:"operator" validate:"required,operator"`
	// Value is the operator-specific payload: an array for "in", a number or
	// numeric string for gt/lt/gte/lte, a pattern string for regex.
	Value any `yaml:"value" json:"value"`
}

// Rule is one priority-ordered authorization rule. A rule matches a tool
// call iff every condition matches and, when present, its expression
// evaluates to true.
type Rule struct {
	// Name identifies the rule in diagnostics and violation errors.
	Name string `yaml:"name" json:"name" validate:"required"`
	// Description is optional human-readable context.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Priority orders evaluation; higher runs first. Absent means 0.
	// Ties are broken by declaration order.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
	// Action is the verdict when the rule matches.
	Action Action `yaml:"action" json:"action" validate:"required,action"`
	// Conditions must all match for the rule to apply (AND).
	Conditions []Condition `yaml:"conditions" json:"conditions" validate:"dive"`
	// Expression is an optional CEL predicate over the evaluation context,
	// evaluated in addition to Conditions. It must compile at load time.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// WebhookSecurityConfig configures the signing and encryption applied to
// approval webhooks.
type WebhookSecurityConfig struct {
	// SigningSecret keys the HMAC-SHA-256 request and response signatures.
	// Must be at least 32 bytes.
	SigningSecret string `yaml:"signingSecret" json:"signingSecret" validate:"required,min=32"`
	// EncryptionKey is a hex-encoded 32-byte AES-256 key. Required when
	// EncryptSensitiveData is set.
	EncryptionKey string `yaml:"encryptionKey,omitempty" json:"encryptionKey,omitempty"`
	// EncryptSensitiveData enables envelope encryption of SensitiveFields.
	EncryptSensitiveData bool `yaml:"encryptSensitiveData,omitempty" json:"encryptSensitiveData,omitempty"`
	// SensitiveFields are dotted paths into the outgoing webhook payload
	// whose leaf values are replaced by encryption envelopes,
	// e.g. "request.toolCall.parameters.apiKey".
	SensitiveFields []string `yaml:"sensitiveFields,omitempty" json:"sensitiveFields,omitempty"`
}

// WebhookConfig describes the approval webhook endpoint.
type WebhookConfig struct {
	// URL receives the approval request POST.
	URL string `yaml:"url" json:"url" validate:"required,http_url"`
	// TimeoutMs bounds a single delivery attempt. Defaults to 10000.
	TimeoutMs int `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty" validate:"omitempty,min=1"`
	// Retries is the total number of delivery attempts. Defaults to 3.
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty" validate:"omitempty,min=1"`
	// Headers are extra headers sent with every delivery. Security headers
	// take precedence on conflict.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Security enables signing (and optionally encryption) of deliveries.
	Security *WebhookSecurityConfig `yaml:"security,omitempty" json:"security,omitempty"`
}

const (
	// DefaultWebhookTimeoutMs bounds one webhook attempt when unset.
	DefaultWebhookTimeoutMs = 10_000
	// DefaultWebhookRetries is the attempt count when unset.
	DefaultWebhookRetries = 3
)

// EffectiveTimeout returns the per-attempt timeout with the default applied.
func (w *WebhookConfig) EffectiveTimeout() time.Duration {
	ms := w.TimeoutMs
	if ms <= 0 {
		ms = DefaultWebhookTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// EffectiveRetries returns the attempt count with the default applied.
func (w *WebhookConfig) EffectiveRetries() int {
	if w.Retries <= 0 {
		return DefaultWebhookRetries
	}
	return w.Retries
}

// Policy is a complete, immutable rule set. It is loaded once and treated as
// read-only for the lifetime of a guard; reloads swap the whole pointer.
type Policy struct {
	// Version is the policy document version declared by its author.
	Version string `yaml:"version" json:"version" validate:"required"`
	// Name identifies the policy in logs and diagnostics.
	Name string `yaml:"name" json:"name" validate:"required"`
	// Description is optional human-readable context.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// DefaultAction applies when no rule matches.
	DefaultAction Action `yaml:"defaultAction" json:"defaultAction" validate:"required,action"`
	// Rules are evaluated in descending priority order.
	Rules []Rule `yaml:"rules" json:"rules" validate:"dive"`
	// Webhook, when set, overrides any guard-level webhook configuration.
	Webhook *WebhookConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`
}

// ToolCall is the immutable descriptor of one tool invocation.
type ToolCall struct {
	// ToolName is the non-empty tool identifier.
	ToolName string `json:"toolName"`
	// Parameters holds the invocation arguments as JSON-shaped values.
	Parameters map[string]any `json:"parameters"`
	// AgentID optionally identifies the calling agent.
	AgentID string `json:"agentId,omitempty"`
	// SessionID optionally identifies the calling session.
	SessionID string `json:"sessionId,omitempty"`
	// Metadata carries optional caller-supplied annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decision is the evaluator's verdict for one tool call.
type Decision struct {
	// Action is the verdict.
	Action Action
	// MatchedRule is the rule that produced the verdict, or nil when the
	// policy default action applied.
	MatchedRule *Rule
	// Reason is a human-readable explanation.
	Reason string
}

// DefaultRuleName labels violations produced by the policy default action
// rather than an explicit rule.
const DefaultRuleName = "default action"
