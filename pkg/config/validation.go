package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if err := cfg.Adapters.NFS.Validate(); err != nil {
		return fmt.Errorf("adapters.nfs: %w", err)
	}

	if err := validateListen(cfg.Adapters.NFS.Listen); err != nil {
		return fmt.Errorf("adapters.nfs.listen: %w", err)
	}

	if cfg.Backend.Type == "local" {
		if p, _ := cfg.Backend.Local["path"].(string); p == "" {
			return fmt.Errorf("backend.local.path is required")
		}
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
		if cfg.Metrics.Listen == cfg.Adapters.NFS.Listen {
			return fmt.Errorf("metrics.listen must differ from adapters.nfs.listen")
		}
	}

	return nil
}

// validateListen accepts "host:port" and "auto:port".
func validateListen(addr string) error {
	if port, ok := strings.CutPrefix(addr, "auto:"); ok {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid auto port %q", port)
		}
		return nil
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
