// Package ctxkey defines typed context keys shared across packages. It must
// not depend on other internal packages to avoid import cycles.
package ctxkey

import "context"

type (
	agentIDKey   struct{}
	sessionIDKey struct{}
	requestIDKey struct{}
)

// WithAgentID returns a context carrying the calling agent's identifier.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, id)
}

// AgentID returns the agent identifier from ctx, or "".
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey{}).(string)
	return id
}

// WithSessionID returns a context carrying the calling session's identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the session identifier from ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// WithRequestID returns a context carrying an approval request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the approval request identifier from ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
