package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration with struct tags plus the rules
// that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: %d is out of range", cfg.HTTP.Port)
	}

	if cfg.Metadata.Type == "badger" {
		if path, _ := cfg.Metadata.Badger["path"].(string); path == "" {
			return fmt.Errorf("metadata.badger.path: required when metadata.type is badger")
		}
	}

	if len(cfg.Auth.EncryptionSecret) < 16 {
		return fmt.Errorf("auth.encryption_secret: must be at least 16 characters")
	}

	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
