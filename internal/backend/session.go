package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// User is the platform's auth user record.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	Role             string         `json:"role,omitempty"` // auth role, e.g. "authenticated"; not the app role
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
}

// Session is a signed-in credential bundle. Values are treated as immutable
// once built; refreshing produces a new Session.
type Session struct {
	Token *oauth2.Token
	User  *User
}

// AccessToken returns the bearer token, or "" for a nil or empty session.
func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// UserID returns the id of the session's user, falling back to the token subject.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	if claims, err := ParseClaims(s.AccessToken()); err == nil {
		return claims.Subject
	}
	return ""
}

// ExpiredAt reports whether the access token is expired at now, allowing
// for a small clock skew. Tokens without expiry never expire.
func (s *Session) ExpiredAt(now time.Time) bool {
	if s == nil || s.Token == nil {
		return true
	}
	if s.Token.Expiry.IsZero() {
		return false
	}
	return !now.Before(s.Token.Expiry.Add(-expirySkew))
}

const expirySkew = 10 * time.Second

// wireSession is the platform's token response shape.
type wireSession struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	w := wireSession{User: s.User}
	if s.Token != nil {
		w.AccessToken = s.Token.AccessToken
		w.TokenType = s.Token.TokenType
		w.RefreshToken = s.Token.RefreshToken
		if !s.Token.Expiry.IsZero() {
			w.ExpiresAt = s.Token.Expiry.Unix()
		}
	}
	return json.Marshal(w)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.AccessToken == "" {
		return fmt.Errorf("session has no access token")
	}

	tok := &oauth2.Token{
		AccessToken:  w.AccessToken,
		TokenType:    w.TokenType,
		RefreshToken: w.RefreshToken,
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	switch {
	case w.ExpiresAt > 0:
		tok.Expiry = time.Unix(w.ExpiresAt, 0)
	case w.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(w.ExpiresIn) * time.Second)
	default:
		if claims, err := ParseClaims(w.AccessToken); err == nil && claims.ExpiresAt != nil {
			tok.Expiry = claims.ExpiresAt.Time
		}
	}

	s.Token = tok
	s.User = w.User
	return nil
}

// Claims are the access token claims the client reads.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the access token without verifying its signature.
// Only use the result for display and bookkeeping.
func ParseClaims(accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("empty access token")
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return &claims, nil
}
