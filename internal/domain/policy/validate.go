package policy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterPolicyValidators registers the policy-specific validation tags.
// Must be called before validating Policy documents with v.
func RegisterPolicyValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("action", validateAction); err != nil {
		return fmt.Errorf("failed to register action validator: %w", err)
	}
	if err := v.RegisterValidation("operator", validateOperator); err != nil {
		return fmt.Errorf("failed to register operator validator: %w", err)
	}
	return nil
}

// validateAction accepts the allow/block/require_approval decision set.
func validateAction(fl validator.FieldLevel) bool {
	return Action(fl.Field().String()).Valid()
}

// validateOperator accepts the condition operator set.
func validateOperator(fl validator.FieldLevel) bool {
	return Operator(fl.Field().String()).Valid()
}

// Validate checks the policy using struct tags plus the operator-specific
// value rules that tags cannot express. It returns an error listing every
// problem found, or nil for a well-formed policy.
func (p *Policy) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterPolicyValidators(v); err != nil {
		return err
	}

	if err := v.Struct(p); err != nil {
		return formatValidationErrors(err)
	}

	var problems []string
	for i := range p.Rules {
		problems = append(problems, validateRuleValues(i, &p.Rules[i])...)
	}
	if p.Webhook != nil && p.Webhook.Security != nil {
		problems = append(problems, validateSecurityConfig(p.Webhook.Security)...)
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// validateRuleValues checks condition values against their operators:
// "in" requires an array, the numeric operators require a number or a
// numeric string.
func validateRuleValues(idx int, r *Rule) []string {
	var problems []string
	for j := range r.Conditions {
		c := &r.Conditions[j]
		switch {
		case c.Operator == OpIn:
			if _, ok := c.Value.([]any); !ok {
				problems = append(problems, fmt.Sprintf(
					"rules[%d] %q conditions[%d]: operator \"in\" requires an array value", idx, r.Name, j))
			}
		case c.Operator.Numeric():
			if _, ok := ToFloat(c.Value); !ok {
				problems = append(problems, fmt.Sprintf(
					"rules[%d] %q conditions[%d]: operator %q requires a numeric value", idx, r.Name, j, c.Operator))
			}
		}
	}
	return problems
}

// validateSecurityConfig checks the parts of the security block that struct
// tags cannot: key material shape and the encryption prerequisites.
func validateSecurityConfig(s *WebhookSecurityConfig) []string {
	var problems []string
	if s.EncryptionKey != "" {
		raw, err := hex.DecodeString(s.EncryptionKey)
		if err != nil {
			problems = append(problems, "webhook.security.encryptionKey must be hex-encoded")
		} else if len(raw) != 32 {
			problems = append(problems, fmt.Sprintf(
				"webhook.security.encryptionKey must decode to 32 bytes, got %d", len(raw)))
		}
	}
	if s.EncryptSensitiveData && s.EncryptionKey == "" {
		problems = append(problems, "webhook.security.encryptSensitiveData requires encryptionKey")
	}
	return problems
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "action":
		return fmt.Sprintf("%s must be one of: allow, block, require_approval", field)
	case "operator":
		return fmt.Sprintf("%s is not a known operator", field)
	case "http_url":
		return fmt.Sprintf("%s must be a valid http(s) URL", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
