// Package auth wraps the backend's authentication calls and normalizes
// every outcome into a Result. Nothing here returns a Go error or lets a
// panic escape.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/role"
)

// Messages reported in Result.Error or MessageData.
const (
	MsgUnexpected          = role.MsgUnexpected
	MsgAuthFailed          = "Authentication failed"
	MsgPasswordsMismatch   = "Passwords do not match"
	MsgResetEmailSent      = "Password reset email sent successfully"
	MsgSignedOut           = "Signed out successfully"
	DefaultResetRedirectTo = "medfix://reset-password"
)

// Result is the normalized outcome of a gateway operation. On success Data
// holds one of SignInData, SignUpData, MessageData or SessionData and Error
// is empty; on failure Data is nil and Error is non-empty.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// SignInData is returned by a successful SignIn.
type SignInData struct {
	User    *backend.User
	Session *backend.Session
	Role    role.Role
}

// SignUpData is returned by a successful SignUp. Session is nil while the
// account still has to confirm its email.
type SignUpData struct {
	User    *backend.User
	Session *backend.Session
}

// MessageData carries a human-readable confirmation.
type MessageData struct {
	Message string
}

// SessionData is returned by GetCurrentSession. Session is nil when signed out.
type SessionData struct {
	Session *backend.Session
}

// RoleLookup resolves a user's role.
type RoleLookup interface {
	GetUserRole(ctx context.Context, userID string) role.Result
}

// Gateway is the authentication facade used by the screens.
type Gateway struct {
	backend       backend.Backend
	roles         RoleLookup
	resetRedirect string
}

// Option configures the gateway
type Option func(*Gateway)

// WithResetRedirect sets the deep link the password reset mail opens
func WithResetRedirect(redirect string) Option {
	return func(g *Gateway) {
		if redirect != "" {
			g.resetRedirect = redirect
		}
	}
}

// NewGateway creates a gateway over be, resolving roles through roles.
func NewGateway(be backend.Backend, roles RoleLookup, opts ...Option) *Gateway {
	g := &Gateway{
		backend:       be,
		roles:         roles,
		resetRedirect: DefaultResetRedirectTo,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn authenticates with email and password. A failed role lookup does
// not fail the sign-in; the role falls back to role.User.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (res Result) {
	defer guard("sign_in", &res)

	sess, err := g.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return failure("sign_in", err)
	}
	if sess == nil || sess.User == nil {
		return Result{Error: MsgAuthFailed}
	}

	userRole := role.User
	if lookup := g.roles.GetUserRole(ctx, sess.User.ID); lookup.Success {
		userRole = lookup.Role
	} else {
		log.LogWarnWithFields("auth", "Role lookup failed, using default role", map[string]any{
			"user_id": sess.User.ID,
			"error":   lookup.Error,
		})
	}

	log.LogInfoWithFields("auth", "Signed in", map[string]any{
		"user_id": sess.User.ID,
		"role":    string(userRole),
	})
	return Result{
		Success: true,
		Data:    SignInData{User: sess.User, Session: sess, Role: userRole},
	}
}

// SignUp registers an account. The passwords are compared before anything
// is sent to the backend.
func (g *Gateway) SignUp(ctx context.Context, email, password, confirmPassword string) (res Result) {
	defer guard("sign_up", &res)

	if password != confirmPassword {
		return Result{Error: MsgPasswordsMismatch}
	}

	user, sess, err := g.backend.SignUp(ctx, email, password)
	if err != nil {
		return failure("sign_up", err)
	}

	log.LogInfoWithFields("auth", "Signed up", map[string]any{
		"pending_confirmation": sess == nil,
	})
	return Result{
		Success: true,
		Data:    SignUpData{User: user, Session: sess},
	}
}

// ResetPassword mails a password reset link for email.
func (g *Gateway) ResetPassword(ctx context.Context, email string) (res Result) {
	defer guard("reset_password", &res)

	if err := g.backend.ResetPasswordForEmail(ctx, email, g.resetRedirect); err != nil {
		return failure("reset_password", err)
	}
	return Result{Success: true, Data: MessageData{Message: MsgResetEmailSent}}
}

// SignOut ends the backend session. Clearing local state is up to the caller.
func (g *Gateway) SignOut(ctx context.Context) (res Result) {
	defer guard("sign_out", &res)

	if err := g.backend.SignOut(ctx); err != nil {
		return failure("sign_out", err)
	}
	return Result{Success: true, Data: MessageData{Message: MsgSignedOut}}
}

// GetCurrentSession reports the backend's current session without changing
// any local state.
func (g *Gateway) GetCurrentSession(ctx context.Context) (res Result) {
	defer guard("get_session", &res)

	sess, err := g.backend.GetSession(ctx)
	if err != nil {
		return failure("get_session", err)
	}
	return Result{Success: true, Data: SessionData{Session: sess}}
}

func failure(op string, err error) Result {
	msg := err.Error()

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = MsgUnexpected
	}

	log.LogDebugWithFields("auth", "Operation failed", map[string]any{
		"op":    op,
		"error": msg,
	})
	return Result{Error: msg}
}

func guard(op string, res *Result) {
	if r := recover(); r != nil {
		log.LogErrorWithFields("auth", "Recovered from panic", map[string]any{
			"op":    op,
			"panic": fmt.Sprint(r),
		})
		*res = Result{Error: MsgUnexpected}
	}
}
