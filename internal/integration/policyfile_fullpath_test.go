package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	agentguard "github.com/agentguard/agentguard"
)

const fullPathPolicy = `version: "1.0"
name: payments
defaultAction: block
rules:
  - name: allow-small-reads
    priority: 10
    action: allow
    conditions:
      - field: toolCall.toolName
        operator: startsWith
        value: read_
  - name: approve-large-transfers
    priority: 30
    action: require_approval
    conditions:
      - field: toolCall.toolName
        operator: equals
        value: transfer_funds
    expression: 'toolCall.parameters.amount > 1000.0'
  - name: allow-small-transfers
    priority: 20
    action: allow
    conditions:
      - field: toolCall.toolName
        operator: equals
        value: transfer_funds
`

// TestPolicyFileFullPath drives a guard booted from a policy file through
// every decision branch, then hot-reloads a changed file.
func TestPolicyFileFullPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(fullPathPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := agentguard.New(
		agentguard.WithPolicyFile(path),
		agentguard.WithLogger(testLogger()),
		agentguard.WithApprovalTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })

	if got := g.Policy().Name; got != "payments" {
		t.Fatalf("policy name = %q, want payments", got)
	}

	echo := func(ctx context.Context, args ...any) (any, error) {
		return args[0], nil
	}

	reader, err := g.Protect("read_balance", echo)
	if err != nil {
		t.Fatal(err)
	}
	if result, err := reader.Call(context.Background(), "acct-1"); err != nil || result != "acct-1" {
		t.Errorf("read_balance call = (%v, %v), want (acct-1, nil)", result, err)
	}

	transfer, err := g.Protect("transfer_funds", echo)
	if err != nil {
		t.Fatal(err)
	}

	// Small transfers fall through the CEL-gated rule to allow-small-transfers.
	if _, err := transfer.Call(context.Background(), map[string]any{"amount": float64(50)}); err != nil {
		t.Errorf("small transfer error = %v", err)
	}

	// Large transfers hit the approval gate; with no webhook configured the
	// request stays pending until the timeout.
	_, err = transfer.Call(context.Background(), map[string]any{"amount": float64(5000)})
	if !errors.Is(err, agentguard.ErrApprovalTimeout) {
		t.Errorf("large transfer error = %v, want %v", err, agentguard.ErrApprovalTimeout)
	}

	// Unknown tools take the default action.
	deleter, err := g.Protect("delete_database", echo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := deleter.Call(context.Background(), nil); !errors.Is(err, agentguard.ErrPolicyViolation) {
		t.Errorf("delete_database error = %v, want %v", err, agentguard.ErrPolicyViolation)
	}

	// Flip the file to allow everything and reload; existing protected tools
	// pick up the new rules.
	relaxed := `version: "1.1"
name: payments
defaultAction: allow
rules: []
`
	if err := os.WriteFile(path, []byte(relaxed), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := g.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy() error = %v", err)
	}
	if got := g.Policy().Version; got != "1.1" {
		t.Errorf("policy version after reload = %q, want 1.1", got)
	}
	if _, err := deleter.Call(context.Background(), nil); err != nil {
		t.Errorf("delete_database after reload error = %v", err)
	}

	stats := g.Stats()
	if stats.Allowed < 3 || stats.Blocked < 1 || stats.ApprovalsRequested < 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// TestReloadRejectsBrokenFile keeps the old policy live when the replacement
// fails validation.
func TestReloadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(fullPathPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := agentguard.New(agentguard.WithPolicyFile(path), agentguard.WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })

	if err := os.WriteFile(path, []byte("defaultAction: explode\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := g.ReloadPolicy(); !errors.Is(err, agentguard.ErrPolicyLoad) {
		t.Errorf("ReloadPolicy() error = %v, want %v", err, agentguard.ErrPolicyLoad)
	}
	if got := g.Policy().Name; got != "payments" {
		t.Errorf("policy after failed reload = %q, want payments", got)
	}
}
