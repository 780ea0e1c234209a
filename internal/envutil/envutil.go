package envutil

import (
	"os"
	"strings"
)

// EnvVar selects the runtime environment ("dev"/"development" relaxes config checks).
const EnvVar = "MEDFIX_ENV"

// IsDev checks if we're running in development mode, where a missing backend
// URL or key falls back to placeholders instead of failing startup.
func IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(EnvVar)))
	return env == "development" || env == "dev"
}
