package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/dgellow/medfix/internal/envutil"
	"github.com/dgellow/medfix/internal/log"
)

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFromEnvironment(environMap(), envutil.IsDev())
}

// LoadFromEnvironment reads the configuration from the given variables.
// Outside dev mode a missing backend URL or anon key is an error; in dev mode
// the placeholder values are substituted and a warning is logged, so the
// failure surfaces at the first network call instead.
func LoadFromEnvironment(environ map[string]string, dev bool) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")

	if cfg.BackendURL == "" || cfg.AnonKey == "" {
		if !dev {
			missing := missingBackendVars(cfg)
			return Config{}, fmt.Errorf("backend is not configured: set %s", strings.Join(missing, " and "))
		}
		log.LogWarnWithFields("config", "Backend not configured, using placeholder values", map[string]any{
			"missing": missingBackendVars(cfg),
		})
		if cfg.BackendURL == "" {
			cfg.BackendURL = PlaceholderBackendURL
		}
		if cfg.AnonKey == "" {
			cfg.AnonKey = PlaceholderAnonKey
		}
		cfg.UsedPlaceholders = true
	}

	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func missingBackendVars(cfg Config) []string {
	var missing []string
	if cfg.BackendURL == "" {
		missing = append(missing, "MEDFIX_BACKEND_URL")
	}
	if cfg.AnonKey == "" {
		missing = append(missing, "MEDFIX_BACKEND_ANON_KEY")
	}
	return missing
}

func environMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
