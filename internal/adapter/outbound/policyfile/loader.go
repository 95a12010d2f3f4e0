// Package policyfile reads policy documents from disk, validates them, and
// emits the annotated sample policy used by "agentguard init".
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentguard/agentguard/internal/domain/policy"
)

// Load reads and validates a policy document. YAML and JSON are both
// accepted (JSON is a YAML subset). Every failure surfaces as a
// policy.LoadError carrying the path.
func Load(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &policy.LoadError{Path: path, Err: err}
	}
	p, err := Parse(data)
	if err != nil {
		return nil, &policy.LoadError{Path: path, Err: err}
	}
	return p, nil
}

// Parse decodes and validates a policy document from bytes. Unknown fields
// are rejected so typos fail at load rather than silently matching nothing.
func Parse(data []byte) (*policy.Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p policy.Policy
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty policy document")
		}
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SamplePolicy is the fully annotated starter document.
const SamplePolicy = `# AgentGuard policy
#
# Rules are evaluated in descending priority order; ties keep declaration
# order. The first rule whose every condition matches decides the call.
# When no rule matches, defaultAction applies.
version: "1.0"
name: starter-policy
description: Starter policy demonstrating the rule and condition syntax.

# One of: allow, block, require_approval
defaultAction: block

rules:
  # Read-only tools pass straight through.
  - name: allow-reads
    description: Allow read-style tools by name pattern.
    priority: 10
    action: allow
    conditions:
      # field is a dotted path into the evaluation context. Available roots:
      #   toolCall.toolName, toolCall.parameters.*, toolCall.agentId,
      #   toolCall.sessionId, toolCall.metadata.*, policy.*, timestampIso
      - field: toolCall.toolName
        # Operators: equals, contains, startsWith, endsWith, regex, in,
        # gt, lt, gte, lte
        operator: regex
        value: "^(read|get|list|fetch)_[a-z]+$"

  # Small transfers are fine; anything bigger needs a human.
  - name: small-transfer
    priority: 20
    action: allow
    conditions:
      - field: toolCall.toolName
        operator: equals
        value: transfer
      - field: toolCall.parameters.amount
        operator: lte
        value: 100

  - name: large-transfer
    priority: 30
    action: require_approval
    conditions:
      - field: toolCall.toolName
        operator: equals
        value: transfer
      - field: toolCall.parameters.amount
        operator: gt
        value: 100

  # Destructive tools are always blocked.
  - name: block-destructive
    priority: 100
    action: block
    conditions:
      - field: toolCall.toolName
        operator: in
        value: [delete_database, drop_table, rm_rf]

# Optional approval webhook. When present it overrides any webhook passed to
# the guard constructor.
#webhook:
#  url: https://hooks.example.com/agentguard
#  timeoutMs: 10000
#  retries: 3
#  headers:
#    X-Team: payments
#  security:
#    # At least 32 bytes.
#    signingSecret: "change-me-to-a-long-random-secret!!"
#    # Hex-encoded 32-byte AES-256 key; required for encryptSensitiveData.
#    #encryptionKey: "0000000000000000000000000000000000000000000000000000000000000000"
#    #encryptSensitiveData: true
#    #sensitiveFields:
#    #  - request.toolCall.parameters.apiKey
`

// GenerateSamplePolicy returns the annotated starter document.
func GenerateSamplePolicy() string {
	return SamplePolicy
}

// WriteSamplePolicy writes the starter document to path, refusing to
// overwrite an existing file.
func WriteSamplePolicy(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("refusing to overwrite existing file %s", path)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(SamplePolicy); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
