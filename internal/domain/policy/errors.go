package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for policy loading and enforcement. Typed errors below
// carry the details; match with errors.Is against these.
var (
	// ErrViolation is returned when a tool call is blocked by a rule, by the
	// policy default action, or by an explicit approval denial.
	ErrViolation = errors.New("policy violation")
	// ErrLoad is returned when a policy cannot be read, parsed, or validated.
	ErrLoad = errors.New("policy load failed")
)

// ViolationError reports a blocked tool call. Rule is nil when the policy
// default action produced the block; RuleName then holds DefaultRuleName.
type ViolationError struct {
	Call     ToolCall
	Rule     *Rule
	RuleName string
	Reason   string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy violation: tool %q blocked by %s: %s", e.Call.ToolName, e.RuleName, e.Reason)
}

// Unwrap allows errors.Is(err, ErrViolation).
func (e *ViolationError) Unwrap() error { return ErrViolation }

// NewViolationError builds a ViolationError from a blocking decision.
func NewViolationError(call ToolCall, d Decision) *ViolationError {
	name := DefaultRuleName
	if d.MatchedRule != nil {
		name = fmt.Sprintf("rule %q", d.MatchedRule.Name)
	}
	return &ViolationError{Call: call, Rule: d.MatchedRule, RuleName: name, Reason: d.Reason}
}

// LoadError reports a failed policy load with its source path ("" for inline
// policies) and the underlying cause.
type LoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("policy load failed: %v", e.Err)
	}
	return fmt.Sprintf("policy load failed: %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrLoad).
func (e *LoadError) Is(target error) bool { return target == ErrLoad }
