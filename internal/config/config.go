// Package config provides the CLI-facing configuration schema for AgentGuard.
//
// Configuration feeds the command-line tool and the guard constructor only;
// the guard library itself reads no environment and no files beyond the
// policy document it is pointed at.
package config

import (
	"time"

	"github.com/agentguard/agentguard/internal/domain/policy"
)

// Config is the top-level AgentGuard configuration.
type Config struct {
	// PolicyFile is the path to the policy document (YAML or JSON).
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ApprovalTimeout bounds how long a guarded call waits for a human
	// decision (e.g. "5m", "90s"). Defaults to "5m".
	ApprovalTimeout string `yaml:"approval_timeout" mapstructure:"approval_timeout" validate:"omitempty,duration"`

	// Webhook is the fallback approval webhook, used when the policy
	// document declares none.
	Webhook WebhookSection `yaml:"webhook" mapstructure:"webhook"`

	// Telemetry enables the OpenTelemetry stdout provider.
	Telemetry TelemetrySection `yaml:"telemetry" mapstructure:"telemetry"`
}

// WebhookSection configures the fallback approval webhook.
type WebhookSection struct {
	// URL receives approval request POSTs. Empty disables the fallback.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,http_url"`

	// TimeoutMs bounds a single delivery attempt. Defaults to 10000.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`

	// Retries is the total number of delivery attempts. Defaults to 3.
	Retries int `yaml:"retries" mapstructure:"retries" validate:"omitempty,min=1"`

	// Headers are extra headers sent with every delivery.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// SigningSecret keys the HMAC signatures. At least 32 bytes when set.
	SigningSecret string `yaml:"signing_secret" mapstructure:"signing_secret" validate:"omitempty,min=32"`

	// EncryptionKey is a hex-encoded 32-byte AES-256 key.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key" validate:"omitempty,aeskey"`

	// EncryptSensitiveData enables envelope encryption of SensitiveFields.
	EncryptSensitiveData bool `yaml:"encrypt_sensitive_data" mapstructure:"encrypt_sensitive_data"`

	// SensitiveFields are dotted paths into the webhook payload to encrypt.
	SensitiveFields []string `yaml:"sensitive_fields" mapstructure:"sensitive_fields"`
}

// TelemetrySection configures the optional OpenTelemetry provider.
type TelemetrySection struct {
	// Enabled turns the stdout trace/metric exporters on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ApprovalTimeout == "" {
		c.ApprovalTimeout = "5m"
	}
}

// ParsedApprovalTimeout returns the approval timeout as a duration. Call
// after Validate; an unparseable value fails validation first.
func (c *Config) ParsedApprovalTimeout() time.Duration {
	d, err := time.ParseDuration(c.ApprovalTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// WebhookConfig maps the webhook section onto the policy domain type, or nil
// when no fallback webhook is configured.
func (c *Config) WebhookConfig() *policy.WebhookConfig {
	if c.Webhook.URL == "" {
		return nil
	}
	w := &policy.WebhookConfig{
		URL:       c.Webhook.URL,
		TimeoutMs: c.Webhook.TimeoutMs,
		Retries:   c.Webhook.Retries,
		Headers:   c.Webhook.Headers,
	}
	if c.Webhook.SigningSecret != "" {
		w.Security = &policy.WebhookSecurityConfig{
			SigningSecret:        c.Webhook.SigningSecret,
			EncryptionKey:        c.Webhook.EncryptionKey,
			EncryptSensitiveData: c.Webhook.EncryptSensitiveData,
			SensitiveFields:      c.Webhook.SensitiveFields,
		}
	}
	return w
}
