// Package profile completes a new user's profile: name and role are written
// to the users table, the role is read back through the edge function and
// committed to the session store.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/role"
	"github.com/dgellow/medfix/internal/session"
	"github.com/dgellow/medfix/internal/storage"
)

// Messages shown by the profile screen.
const (
	MsgNameRequired    = "Full name is required"
	MsgRoleRequired    = "Role is required"
	MsgSessionInvalid  = "Your session is missing or expired. Please log in again."
	MsgRoleUnavailable = "Could not fetch user role."
)

var (
	// ErrSessionInvalid means the backend has no user or session; the store
	// has been logged out.
	ErrSessionInvalid = errors.New(MsgSessionInvalid)

	// ErrRoleUnavailable matches every *RoleError.
	ErrRoleUnavailable = errors.New(MsgRoleUnavailable)
)

// RoleError is returned when the role could not be read back after saving.
type RoleError struct {
	Reason string
}

func (e *RoleError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return MsgRoleUnavailable
}

func (e *RoleError) Is(target error) bool {
	return target == ErrRoleUnavailable
}

// FormError lists the invalid fields of a Form.
type FormError struct {
	Fields map[string]string
}

func (e *FormError) Error() string {
	if msg, ok := e.Fields["name"]; ok {
		return msg
	}
	return e.Fields["role"]
}

// Form is the profile screen's input.
type Form struct {
	Name string
	Role role.Role
}

// ValidateForm checks the form; it returns nil when it can be submitted.
func ValidateForm(f Form) *FormError {
	fields := map[string]string{}
	if strings.TrimSpace(f.Name) == "" {
		fields["name"] = MsgNameRequired
	}
	if !f.Role.Selectable() {
		fields["role"] = MsgRoleRequired
	}
	if len(fields) == 0 {
		return nil
	}
	return &FormError{Fields: fields}
}

// Identity is the part of the backend the service needs.
type Identity interface {
	GetUser(ctx context.Context) (*backend.User, error)
	GetSession(ctx context.Context) (*backend.Session, error)
}

// RoleLookup resolves the stored role of a user.
type RoleLookup interface {
	GetUserRole(ctx context.Context, userID string) role.Result
}

// Rechecker is notified once the profile changed.
type Rechecker interface {
	Recheck()
}

// Service runs the profile completion flow.
type Service struct {
	identity Identity
	profiles storage.ProfileStore
	roles    RoleLookup
	store    *session.Store
	nav      Rechecker
}

// NewService creates a profile service. nav may be nil.
func NewService(identity Identity, profiles storage.ProfileStore, roles RoleLookup, store *session.Store, nav Rechecker) *Service {
	return &Service{
		identity: identity,
		profiles: profiles,
		roles:    roles,
		store:    store,
		nav:      nav,
	}
}

// CheckSession verifies the backend still has a user and a session. If not,
// the store is logged out and ErrSessionInvalid is returned.
func (s *Service) CheckSession(ctx context.Context) (*backend.User, error) {
	user, userErr := s.identity.GetUser(ctx)
	sess, sessErr := s.identity.GetSession(ctx)
	if userErr != nil || sessErr != nil || user == nil || sess == nil {
		fields := map[string]any{}
		if userErr != nil {
			fields["user_error"] = userErr.Error()
		}
		if sessErr != nil {
			fields["session_error"] = sessErr.Error()
		}
		log.LogWarnWithFields("profile", "Session missing during profile completion", fields)

		s.store.Logout()
		return nil, ErrSessionInvalid
	}
	return user, nil
}

// Complete saves the form and returns the role the backend now reports.
func (s *Service) Complete(ctx context.Context, form Form) (role.Role, error) {
	form.Name = strings.TrimSpace(form.Name)
	if ferr := ValidateForm(form); ferr != nil {
		return "", ferr
	}

	user, err := s.CheckSession(ctx)
	if err != nil {
		return "", err
	}

	if err := s.profiles.UpsertProfile(ctx, storage.Profile{
		ID:    user.ID,
		Email: user.Email,
		Name:  form.Name,
		Role:  string(form.Role),
	}); err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			return "", apiErr
		}
		return "", fmt.Errorf("save profile: %w", err)
	}

	res := s.roles.GetUserRole(ctx, user.ID)
	if !res.Success || res.Role == "" {
		return "", &RoleError{Reason: res.Error}
	}

	if !s.store.SetUserRoleFor(user.ID, string(res.Role)) {
		log.LogDebugWithFields("profile", "User changed before role commit", map[string]any{
			"user_id": user.ID,
		})
	}
	if s.nav != nil {
		s.nav.Recheck()
	}

	log.LogInfoWithFields("profile", "Profile completed", map[string]any{
		"user_id": user.ID,
		"role":    string(res.Role),
	})
	return res.Role, nil
}

// BackToLogin abandons profile completion and signs out locally.
func (s *Service) BackToLogin() {
	s.store.Logout()
}

// Fetch reads the stored profile of userID.
func (s *Service) Fetch(ctx context.Context, userID string) (*storage.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	return p, nil
}
