package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// ProfileStorageKind selects where user profile rows (id, email, name, role) live.
type ProfileStorageKind string

const (
	// ProfileStorageBackend stores profiles in the backend's users table over REST.
	ProfileStorageBackend ProfileStorageKind = "backend"
	// ProfileStorageFirestore stores profiles in a Firestore collection.
	ProfileStorageFirestore ProfileStorageKind = "firestore"
	// ProfileStorageMemory keeps profiles in process memory (dev and tests).
	ProfileStorageMemory ProfileStorageKind = "memory"
)

// Placeholder values used in dev mode when the backend is not configured.
const (
	PlaceholderBackendURL = "https://your-project.supabase.co"
	PlaceholderAnonKey    = "your-anon-key"
)

// DefaultResetRedirect is the deep link embedded in password reset emails.
const DefaultResetRedirect = "medfix://reset-password"

// Config is the complete client configuration, read from the environment.
type Config struct {
	BackendURL    string        `env:"MEDFIX_BACKEND_URL"`
	AnonKey       Secret        `env:"MEDFIX_BACKEND_ANON_KEY"`
	ResetRedirect string        `env:"MEDFIX_RESET_REDIRECT" envDefault:"medfix://reset-password"`
	HTTPTimeout   time.Duration `env:"MEDFIX_HTTP_TIMEOUT"   envDefault:"30s"`
	SessionFile   string        `env:"MEDFIX_SESSION_FILE"`

	Profile ProfileStorageConfig

	// UsedPlaceholders is set when dev mode substituted placeholder backend values.
	UsedPlaceholders bool
}

// ProfileStorageConfig configures the profile store.
type ProfileStorageConfig struct {
	Kind       ProfileStorageKind `env:"MEDFIX_PROFILE_STORAGE"       envDefault:"backend"`
	GCPProject string             `env:"MEDFIX_GCP_PROJECT"`
	Database   string             `env:"MEDFIX_FIRESTORE_DATABASE"    envDefault:"(default)"`
	Collection string             `env:"MEDFIX_FIRESTORE_COLLECTION"  envDefault:"users"`
}
