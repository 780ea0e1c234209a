package config

import (
	"fmt"
	"net/url"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(cfg *Config) error {
	result := Check(cfg)
	if len(result.Errors) > 0 {
		e := result.Errors[0]
		return fmt.Errorf("%s: %s", e.Path, e.Message)
	}
	return nil
}

// Check reports every problem with cfg. Warnings do not prevent startup.
func Check(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	u, err := url.Parse(cfg.BackendURL)
	switch {
	case cfg.BackendURL == "":
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_BACKEND_URL",
			Message: "backend URL is required",
		})
	case err != nil || u.Host == "":
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_BACKEND_URL",
			Message: fmt.Sprintf("invalid backend URL %q", cfg.BackendURL),
		})
	case u.Scheme != "https" && u.Scheme != "http":
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_BACKEND_URL",
			Message: fmt.Sprintf("backend URL must use http or https, got %q", u.Scheme),
		})
	case u.Scheme == "http":
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "MEDFIX_BACKEND_URL",
			Message: "backend URL is not HTTPS; credentials will be sent in clear text",
		})
	}

	if cfg.AnonKey == "" {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_BACKEND_ANON_KEY",
			Message: "anon key is required",
		})
	}

	if cfg.UsedPlaceholders {
		result.Warnings = append(result.Warnings, ValidationError{
			Message: "placeholder backend values in use; network calls will fail",
		})
	}

	if cfg.HTTPTimeout <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_HTTP_TIMEOUT",
			Message: "timeout must be positive",
		})
	}

	if cfg.ResetRedirect == "" {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_RESET_REDIRECT",
			Message: "reset redirect is required",
		})
	}

	switch cfg.Profile.Kind {
	case ProfileStorageBackend, ProfileStorageMemory:
	case ProfileStorageFirestore:
		if cfg.Profile.GCPProject == "" {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "MEDFIX_GCP_PROJECT",
				Message: "gcp project is required when using firestore storage",
			})
		}
		if cfg.Profile.Collection == "" {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "MEDFIX_FIRESTORE_COLLECTION",
				Message: "collection is required when using firestore storage",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "MEDFIX_PROFILE_STORAGE",
			Message: fmt.Sprintf("unknown profile storage %q (backend, firestore or memory)", cfg.Profile.Kind),
		})
	}

	return result
}
