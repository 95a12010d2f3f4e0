package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers AgentGuard-specific validation rules.
// Must be called before validating a Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("aeskey", validateAESKey); err != nil {
		return fmt.Errorf("failed to register aeskey validator: %w", err)
	}
	return nil
}

// validateDuration accepts anything time.ParseDuration accepts.
func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// validateAESKey accepts a hex-encoded 32-byte key.
func validateAESKey(fl validator.FieldLevel) bool {
	raw, err := hex.DecodeString(fl.Field().String())
	return err == nil && len(raw) == 32
}

// Validate validates the Config using struct tags and cross-field rules,
// returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return c.validateWebhookCoherence()
}

// validateWebhookCoherence enforces the cross-field webhook rules: security
// settings require a URL, and encryption requires a key.
func (c *Config) validateWebhookCoherence() error {
	w := c.Webhook
	if w.URL == "" {
		if w.SigningSecret != "" || w.EncryptionKey != "" || w.EncryptSensitiveData {
			return errors.New("webhook: security settings require webhook.url")
		}
		return nil
	}
	if w.EncryptSensitiveData && w.EncryptionKey == "" {
		return errors.New("webhook: encrypt_sensitive_data requires webhook.encryption_key")
	}
	if w.EncryptionKey != "" && w.SigningSecret == "" {
		return errors.New("webhook: encryption_key requires webhook.signing_secret")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly
// messages.
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

// formatSingleValidationError creates a user-friendly message for one
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "http_url":
		return fmt.Sprintf("%s must be a valid http(s) URL", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like \"5m\" or \"90s\"", field)
	case "aeskey":
		return fmt.Sprintf("%s must be a hex-encoded 32-byte key", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
