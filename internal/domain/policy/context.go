package policy

import (
	"strconv"
	"strings"
	"time"
)

// EvalContext is the read-only structure condition fields resolve against.
// Its layout is part of the policy contract:
//
//	toolCall.toolName / parameters.* / agentId / sessionId / metadata.*
//	policy.version / name / description / defaultAction
//	timestampIso
type EvalContext struct {
	root map[string]any
}

// NewEvalContext builds the evaluation context for one tool call. The policy
// section may be precomputed once per policy with PolicyContext and shared
// across calls; pass nil to derive it from p here.
func NewEvalContext(call ToolCall, p *Policy, policySection map[string]any, at time.Time) *EvalContext {
	if policySection == nil {
		policySection = PolicyContext(p)
	}
	return &EvalContext{root: map[string]any{
		"toolCall":     toolCallContext(call),
		"policy":       policySection,
		"timestampIso": at.UTC().Format(time.RFC3339Nano),
	}}
}

// PolicyContext converts the policy's descriptive fields into the mapping
// exposed under the "policy" key. The policy is immutable after load, so the
// result can be computed once and reused.
func PolicyContext(p *Policy) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return map[string]any{
		"version":       p.Version,
		"name":          p.Name,
		"description":   p.Description,
		"defaultAction": string(p.DefaultAction),
	}
}

// toolCallContext converts a ToolCall into the mapping exposed under the
// "toolCall" key.
func toolCallContext(call ToolCall) map[string]any {
	m := map[string]any{
		"toolName":   call.ToolName,
		"parameters": call.Parameters,
	}
	if call.AgentID != "" {
		m["agentId"] = call.AgentID
	}
	if call.SessionID != "" {
		m["sessionId"] = call.SessionID
	}
	if call.Metadata != nil {
		m["metadata"] = call.Metadata
	}
	return m
}

// Root exposes the underlying mapping, e.g. for CEL activation variables.
func (c *EvalContext) Root() map[string]any { return c.root }

// Resolve extracts the value at a dotted path. The second return is false
// when any segment of the path is missing.
func (c *EvalContext) Resolve(path string) (any, bool) {
	return ResolvePath(c.root, path)
}

// ResolvePath walks a dotted path from root. Each segment selects a mapping
// key or, on a sequence, a non-negative decimal index. A missing key, an
// out-of-range index, or a scalar mid-path yields (nil, false).
func ResolvePath(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ReferencesTimestamp reports whether any condition field of any rule reaches
// into the timestampIso context entry. Policies that never read the timestamp
// produce identical decisions for identical calls, which makes them safe to
// cache.
func ReferencesTimestamp(p *Policy) bool {
	for i := range p.Rules {
		for j := range p.Rules[i].Conditions {
			f := p.Rules[i].Conditions[j].Field
			if f == "timestampIso" || strings.HasPrefix(f, "timestampIso.") {
				return true
			}
		}
	}
	return false
}
