// Package backend talks to the hosted auth/database platform: password
// sign-in and sign-up, session refresh, password recovery, the users profile
// table and the edge functions. The platform is Supabase-compatible.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoSession is returned by calls that need a signed-in user when none is.
	ErrNoSession = errors.New("no active session")

	// ErrSessionExpired is returned when the session expired and cannot be refreshed.
	ErrSessionExpired = errors.New("session expired")
)

// Backend is the authentication collaborator. Implementations keep the
// current session in memory the way the platform's client SDK does:
// SignInWithPassword and SignUp install it, SignOut drops it.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns a nil session when the account must confirm its email first.
	SignUp(ctx context.Context, email, password string) (*User, *Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns (nil, nil) when nobody is signed in. An expired
	// session is refreshed first.
	GetSession(ctx context.Context) (*Session, error)
	GetUser(ctx context.Context) (*User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// SetSession installs a previously persisted session (nil clears it).
	SetSession(session *Session)
}

// FunctionInvoker calls a named edge function with the given bearer token and
// returns the raw status and body. Transport errors are returned as err;
// non-2xx statuses are not errors at this level.
type FunctionInvoker interface {
	InvokeFunction(ctx context.Context, method, name, accessToken string, body any) (int, []byte, error)
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsAuthError reports whether the platform rejected the credentials or token.
func (e *APIError) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// httpStatusMessage is the fallback when an error body carries no message.
func httpStatusMessage(status int) string {
	return fmt.Sprintf("HTTP error! status: %d", status)
}
