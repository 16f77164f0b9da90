package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
)

// SQLitePrefix marks a sqlite audit backend: "sqlite://<absolute-path>".
const SQLitePrefix = "sqlite://"

// RegisterCustomValidators registers aipolicy-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_backend": validateAuditBackend,
		"notify_output": validateNotifyOutput,
		"key_hash":      validateKeyHash,
		"duration":      validateDuration,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditBackend accepts "memory" or "sqlite://<absolute-path>".
func validateAuditBackend(fl validator.FieldLevel) bool {
	backend := fl.Field().String()
	if backend == "memory" {
		return true
	}
	if path, ok := strings.CutPrefix(backend, SQLitePrefix); ok {
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

func validateNotifyOutput(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "log", "file", "redis":
		return true
	}
	return false
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashUnknown
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateIdentityReferences(); err != nil {
		return err
	}

	if err := c.validateOutputs(); err != nil {
		return err
	}

	return nil
}

// validateIdentityReferences ensures API keys and the stdio caller reference
// configured identities, and that identity IDs are unique.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for i, identity := range c.Auth.Identities {
		if _, dup := knownIdentities[identity.ID]; dup {
			return fmt.Errorf("auth.identities[%d]: duplicate id: %s", i, identity.ID)
		}
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("auth.api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}

	if c.Stdio.Caller != "" {
		if _, exists := knownIdentities[c.Stdio.Caller]; !exists {
			return fmt.Errorf("stdio.caller: references unknown identity: %s", c.Stdio.Caller)
		}
	}

	return nil
}

// validateOutputs checks the per-type required fields of notification outputs.
func (c *Config) validateOutputs() error {
	for i, out := range c.Notifications.Outputs {
		switch out.Type {
		case "file":
			if out.Dir == "" {
				return fmt.Errorf("notifications.outputs[%d]: file output requires dir", i)
			}
		case "redis":
			if out.Addr == "" {
				return fmt.Errorf("notifications.outputs[%d]: redis output requires addr", i)
			}
		}
	}
	return nil
}

// SQLitePath returns the database path of a sqlite audit backend, or "" for
// the memory backend.
func (c *Config) SQLitePath() string {
	path, _ := strings.CutPrefix(c.Audit.Backend, SQLitePrefix)
	if path == c.Audit.Backend {
		return ""
	}
	return path
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
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_backend":
		return fmt.Sprintf("%s must be 'memory' or 'sqlite://<absolute-path>'", field)
	case "notify_output":
		return fmt.Sprintf("%s must be one of: log file redis", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like 100ms or 5m", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
