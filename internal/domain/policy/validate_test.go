package policy

import (
	"strings"
	"testing"
)

func validPolicy() *Policy {
	return &Policy{
		Version:       "1.0",
		Name:          "test-policy",
		DefaultAction: ActionBlock,
		Rules: []Rule{
			{
				Name:     "allow-small-transfers",
				Priority: 10,
				Action:   ActionAllow,
				Conditions: []Condition{
					{Field: "toolCall.toolName", Operator: OpEquals, Value: "transfer"},
					{Field: "toolCall.parameters.amount", Operator: OpLTE, Value: 100},
				},
			},
		},
		Webhook: &WebhookConfig{
			URL: "https://hooks.example.com/approvals",
			Security: &WebhookSecurityConfig{
				SigningSecret: strings.Repeat("s", 32),
			},
		},
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr string // substring; empty means valid
	}{
		{
			name:   "valid policy",
			mutate: func(p *Policy) {},
		},
		{
			name:    "missing version",
			mutate:  func(p *Policy) { p.Version = "" },
			wantErr: "Version is required",
		},
		{
			name:    "missing name",
			mutate:  func(p *Policy) { p.Name = "" },
			wantErr: "Name is required",
		},
		{
			name:    "unknown default action",
			mutate:  func(p *Policy) { p.DefaultAction = "deny" },
			wantErr: "must be one of: allow, block, require_approval",
		},
		{
			name:    "rule missing name",
			mutate:  func(p *Policy) { p.Rules[0].Name = "" },
			wantErr: "Name is required",
		},
		{
			name:    "unknown operator",
			mutate:  func(p *Policy) { p.Rules[0].Conditions[0].Operator = "matches" },
			wantErr: "not a known operator",
		},
		{
			name:    "condition missing field",
			mutate:  func(p *Policy) { p.Rules[0].Conditions[0].Field = "" },
			wantErr: "Field is required",
		},
		{
			name: "in requires array",
			mutate: func(p *Policy) {
				p.Rules[0].Conditions[0] = Condition{Field: "toolCall.toolName", Operator: OpIn, Value: "transfer"}
			},
			wantErr: `operator "in" requires an array value`,
		},
		{
			name: "numeric operator requires numeric value",
			mutate: func(p *Policy) {
				p.Rules[0].Conditions[1].Value = "lots"
			},
			wantErr: "requires a numeric value",
		},
		{
			name: "numeric operator accepts numeric string",
			mutate: func(p *Policy) {
				p.Rules[0].Conditions[1].Value = "100.5"
			},
		},
		{
			name:    "malformed webhook URL",
			mutate:  func(p *Policy) { p.Webhook.URL = "not a url" },
			wantErr: "valid http(s) URL",
		},
		{
			name:    "short signing secret",
			mutate:  func(p *Policy) { p.Webhook.Security.SigningSecret = "short" },
			wantErr: "must be at least 32",
		},
		{
			name:    "encryption key not hex",
			mutate:  func(p *Policy) { p.Webhook.Security.EncryptionKey = "zz" },
			wantErr: "must be hex-encoded",
		},
		{
			name:    "encryption key wrong length",
			mutate:  func(p *Policy) { p.Webhook.Security.EncryptionKey = "deadbeef" },
			wantErr: "must decode to 32 bytes",
		},
		{
			name: "encryptSensitiveData without key",
			mutate: func(p *Policy) {
				p.Webhook.Security.EncryptSensitiveData = true
				p.Webhook.Security.SensitiveFields = []string{"request.toolCall.parameters.apiKey"}
			},
			wantErr: "requires encryptionKey",
		},
		{
			name:   "rule without conditions is valid",
			mutate: func(p *Policy) { p.Rules[0].Conditions = nil },
		},
		{
			name:   "no webhook is valid",
			mutate: func(p *Policy) { p.Webhook = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
