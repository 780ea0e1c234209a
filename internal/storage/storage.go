package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrProfileNotFound is returned when no profile row exists for a user id
var ErrProfileNotFound = errors.New("profile not found")

// ErrSnapshotNotFound is returned when no session has been persisted
var ErrSnapshotNotFound = errors.New("no saved session")

// Profile is a row of the users table, keyed by the auth user id.
type Profile struct {
	ID    string `json:"id" firestore:"id"`
	Email string `json:"email" firestore:"email"`
	Name  string `json:"name,omitempty" firestore:"name"`
	Role  string `json:"role,omitempty" firestore:"role"`
}

// IsComplete reports whether the user supplied both name and role.
func (p Profile) IsComplete() bool {
	return p.Name != "" && p.Role != ""
}

// ProfileStore defines methods for reading and writing user profiles.
type ProfileStore interface {
	// UpsertProfile creates the row or overwrites email, name and role.
	UpsertProfile(ctx context.Context, profile Profile) error
	// GetProfile returns ErrProfileNotFound when the row does not exist.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// SessionSnapshot is what the client persists between runs so a signed-in
// user stays signed in. Session holds the backend's session encoding.
type SessionSnapshot struct {
	Session json.RawMessage `json:"session"`
	Email   string          `json:"email,omitempty"`
	Role    string          `json:"role,omitempty"`
	SavedAt time.Time       `json:"saved_at"`
}

// SnapshotStore persists a single SessionSnapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (*SessionSnapshot, error)
	Save(ctx context.Context, snapshot SessionSnapshot) error
	Clear(ctx context.Context) error
}
