// Package role resolves a user's application role and profile completeness
// through the platform's edge functions.
package role

import (
	"context"

	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/session"
)

// Role is the application role stored in a user's profile.
type Role string

const (
	Doctor   Role = "doctor"
	Engineer Role = "engineer"
	// User is the fallback when no role could be resolved.
	User Role = "user"
)

// MsgUnexpected is reported when a failure carries no message of its own.
const MsgUnexpected = "An unexpected error occurred"

// Selectable reports whether a user may pick r when completing a profile.
func (r Role) Selectable() bool {
	return r == Doctor || r == Engineer
}

func (r Role) String() string {
	return string(r)
}

// Lookup is the edge-function client the resolver delegates to.
type Lookup interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
	ValidateUserProfile(ctx context.Context, userID string) (bool, error)
}

// Result is the outcome of a role lookup. Role is set only on success.
type Result struct {
	Success bool
	Role    Role
	Error   string
}

// ProfileResult is the outcome of a profile completeness check.
type ProfileResult struct {
	Success           bool
	IsProfileComplete bool
	Error             string
}

// Resolver turns edge-function calls into Result values.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a resolver backed by lookup
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// GetUserRole looks up the role for userID.
func (r *Resolver) GetUserRole(ctx context.Context, userID string) Result {
	role, err := r.lookup.GetUserRole(ctx, userID)
	if err != nil {
		log.LogDebugWithFields("role", "Role lookup failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return Result{Error: message(err)}
	}
	return Result{Success: true, Role: Role(role)}
}

// ValidateUserProfile checks whether userID's profile has a name and role.
func (r *Resolver) ValidateUserProfile(ctx context.Context, userID string) ProfileResult {
	complete, err := r.lookup.ValidateUserProfile(ctx, userID)
	if err != nil {
		log.LogDebugWithFields("role", "Profile check failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return ProfileResult{Error: message(err)}
	}
	return ProfileResult{Success: true, IsProfileComplete: complete}
}

// ProfileComplete is ValidateUserProfile with a Go error instead of a result.
func (r *Resolver) ProfileComplete(ctx context.Context, userID string) (bool, error) {
	return r.lookup.ValidateUserProfile(ctx, userID)
}

// Sync looks up the role of the store's current user and commits it,
// unless a different user signed in while the lookup was running.
func (r *Resolver) Sync(ctx context.Context, store *session.Store) Result {
	userID := store.Snapshot().UserID()
	if userID == "" {
		return Result{Error: "No user signed in"}
	}

	res := r.GetUserRole(ctx, userID)
	if !res.Success {
		return res
	}
	if !store.SetUserRoleFor(userID, string(res.Role)) {
		log.LogDebugWithFields("role", "Discarded role for superseded user", map[string]any{
			"user_id": userID,
		})
	}
	return res
}

func message(err error) string {
	if err == nil || err.Error() == "" {
		return MsgUnexpected
	}
	return err.Error()
}
