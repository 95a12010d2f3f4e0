package agentguard

import (
	"context"
	"fmt"

	"github.com/agentguard/agentguard/internal/ctxkey"
)

// ContextWithAgentID attributes every call made with the returned context to
// an agent. Per-tool WithAgentID takes precedence.
func ContextWithAgentID(ctx context.Context, id string) context.Context {
	return ctxkey.WithAgentID(ctx, id)
}

// ContextWithSessionID attributes every call made with the returned context
// to a session. Per-tool WithSessionID takes precedence.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return ctxkey.WithSessionID(ctx, id)
}

// RequestIDFromContext returns the approval request identifier the guard
// stamped into the context before running an approved tool, or "" when the
// call needed no approval.
func RequestIDFromContext(ctx context.Context) string {
	return ctxkey.RequestID(ctx)
}

// ToolFunc is the signature of a guardable tool: a context, positional
// arguments, and a result or an error.
type ToolFunc func(ctx context.Context, args ...any) (any, error)

// ProtectedTool wraps a tool behind the guard's policy. Its identity is fixed
// at Protect time; there is no way to mutate the name, the underlying tool,
// or the attribution after construction.
type ProtectedTool struct {
	guard     *Guard
	name      string
	fn        ToolFunc
	agentID   string
	sessionID string
	metadata  map[string]any
}

// Name returns the tool identifier the policy sees.
func (t *ProtectedTool) Name() string { return t.name }

// IsGuarded reports that this tool is policy-mediated. Always true; the
// method exists so call sites can distinguish wrapped tools from raw funcs.
func (t *ProtectedTool) IsGuarded() bool { return true }

// Underlying returns the wrapped tool function. Calling it directly bypasses
// the policy.
func (t *ProtectedTool) Underlying() ToolFunc { return t.fn }

// Call evaluates the policy for this invocation and, when permitted, invokes
// the underlying tool with the arguments unchanged. Blocked calls return a
// PolicyViolationError without invoking the tool; require_approval calls
// block until a human decides or the approval timeout elapses.
func (t *ProtectedTool) Call(ctx context.Context, args ...any) (any, error) {
	return t.guard.invoke(ctx, t, args)
}

// extractParameters maps positional arguments onto the policy parameter
// space: a single map argument is taken as the parameters themselves, any
// other shape becomes arg0, arg1, and so on.
func extractParameters(args []any) map[string]any {
	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			return m
		}
	}
	params := make(map[string]any, len(args))
	for i, a := range args {
		params[fmt.Sprintf("arg%d", i)] = a
	}
	return params
}
