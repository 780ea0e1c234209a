package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/medfix/internal/crypto"
	"github.com/dgellow/medfix/internal/emailutil"
	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Edge function names served by the platform.
const (
	FunctionGetUserRole         = "get-user-role"
	FunctionValidateUserProfile = "validate-user-profile"
	FunctionCreateRequest       = "createRequest"
	FunctionGetDoctorRequests   = "get-doctor-requests"
)

var _ Backend = (*Memory)(nil)
var _ FunctionInvoker = (*Memory)(nil)
var _ storage.ProfileStore = (*Memory)(nil)

type memoryAccount struct {
	user      User
	hash      []byte
	confirmed bool
}

type memoryRequest struct {
	ID          string    `json:"id"`
	DoctorID    string    `json:"doctor_id"`
	DeviceName  string    `json:"device_name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Memory is an in-process Backend for local development and tests. It
// issues real HS256 tokens, hashes passwords with bcrypt and serves the
// four edge functions from its own profile table.
type Memory struct {
	mu            sync.Mutex
	secret        []byte
	tokenTTL      time.Duration
	now           func() time.Time
	requireEmail  bool
	accounts      map[string]*memoryAccount // by normalized email
	refreshTokens map[string]string         // refresh token -> user id
	revoked       map[string]bool           // session ids
	requests      []memoryRequest
	resets        []string
	session       *Session

	profiles *storage.MemoryStorage
}

// MemoryOption configures a Memory backend
type MemoryOption func(*Memory)

// WithEmailConfirmation makes sign-up return no session until ConfirmEmail is called
func WithEmailConfirmation() MemoryOption {
	return func(m *Memory) {
		m.requireEmail = true
	}
}

// WithTokenTTL sets the access token lifetime
func WithTokenTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.tokenTTL = ttl
	}
}

// WithMemoryClock overrides time.Now
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-process backend.
func NewMemory(opts ...MemoryOption) (*Memory, error) {
	secret, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	m := &Memory{
		secret:        []byte(secret),
		tokenTTL:      time.Hour,
		now:           time.Now,
		accounts:      make(map[string]*memoryAccount),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
		profiles:      storage.NewMemoryStorage(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Profiles exposes the backing users table
func (m *Memory) Profiles() *storage.MemoryStorage {
	return m.profiles
}

// ConfirmEmail marks the account as confirmed, as following the mailed link would.
func (m *Memory) ConfirmEmail(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[emailutil.Normalize(email)]
	if !ok {
		return fmt.Errorf("unknown account %q", email)
	}
	acct.confirmed = true
	at := m.now()
	acct.user.EmailConfirmedAt = &at
	return nil
}

// ResetRequests returns the addresses a reset mail was requested for
func (m *Memory) ResetRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...)
}

func (m *Memory) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[emailutil.Normalize(email)]
	if !ok || !crypto.CheckPassword(acct.hash, password) {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if m.requireEmail && !acct.confirmed {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "email_not_confirmed", Message: "Email not confirmed"}
	}

	sess, err := m.issueLocked(acct.user)
	if err != nil {
		return nil, err
	}
	m.session = sess
	return sess, nil
}

func (m *Memory) SignUp(ctx context.Context, email, password string) (*User, *Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := emailutil.Normalize(email)
	if _, exists := m.accounts[key]; exists {
		return nil, nil, &APIError{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	}
	if len(password) < 6 {
		return nil, nil, &APIError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 6 characters."}
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	created := m.now()
	acct := &memoryAccount{
		user: User{
			ID:        uuid.NewString(),
			Email:     key,
			Role:      "authenticated",
			CreatedAt: &created,
		},
		hash:      hash,
		confirmed: !m.requireEmail,
	}
	if acct.confirmed {
		acct.user.EmailConfirmedAt = &created
	}
	m.accounts[key] = acct

	log.LogDebugWithFields("memory_backend", "Registered account", map[string]any{
		"user_id": acct.user.ID,
	})

	if m.requireEmail {
		user := acct.user
		return &user, nil, nil
	}

	sess, err := m.issueLocked(acct.user)
	if err != nil {
		return nil, nil, err
	}
	m.session = sess
	return sess.User, sess, nil
}

func (m *Memory) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	if claims, err := m.verifyLocked(m.session.AccessToken()); err == nil {
		m.revoked[claims.SessionID] = true
	}
	if m.session.Token != nil {
		delete(m.refreshTokens, m.session.Token.RefreshToken)
	}
	m.session = nil
	return nil
}

func (m *Memory) GetSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.session
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiredAt(m.now()) {
		return sess, nil
	}

	refresh := ""
	if sess.Token != nil {
		refresh = sess.Token.RefreshToken
	}
	userID, ok := m.refreshTokens[refresh]
	if !ok {
		m.session = nil
		return nil, ErrSessionExpired
	}
	delete(m.refreshTokens, refresh)

	acct := m.accountByIDLocked(userID)
	if acct == nil {
		m.session = nil
		return nil, ErrSessionExpired
	}
	next, err := m.issueLocked(acct.user)
	if err != nil {
		return nil, err
	}
	m.session = next
	return next, nil
}

func (m *Memory) GetUser(ctx context.Context) (*User, error) {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	claims, err := m.verifyLocked(sess.AccessToken())
	if err != nil {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	acct := m.accountByIDLocked(claims.Subject)
	if acct == nil {
		return nil, &APIError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	user := acct.user
	return &user, nil
}

func (m *Memory) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// unknown addresses succeed too so accounts cannot be enumerated
	m.resets = append(m.resets, emailutil.Normalize(email))
	return nil
}

func (m *Memory) SetSession(session *Session) {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
}

// UpsertProfile writes to the users table as the signed-in user
func (m *Memory) UpsertProfile(ctx context.Context, profile storage.Profile) error {
	if _, err := m.requireUser(ctx); err != nil {
		return err
	}
	return m.profiles.UpsertProfile(ctx, profile)
}

// GetProfile reads from the users table as the signed-in user
func (m *Memory) GetProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	if _, err := m.requireUser(ctx); err != nil {
		return nil, err
	}
	return m.profiles.GetProfile(ctx, userID)
}

func (m *Memory) requireUser(ctx context.Context) (string, error) {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrNoSession
	}
	return sess.UserID(), nil
}

// InvokeFunction serves the platform's edge functions in-process.
func (m *Memory) InvokeFunction(ctx context.Context, method, name, accessToken string, body any) (int, []byte, error) {
	m.mu.Lock()
	claims, err := m.verifyLocked(accessToken)
	m.mu.Unlock()
	if err != nil {
		return reply(http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
	}

	var payload map[string]any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode function body: %w", err)
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return reply(http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		}
	}
	str := func(key string) string {
		s, _ := payload[key].(string)
		return strings.TrimSpace(s)
	}

	switch name {
	case FunctionGetUserRole:
		p, err := m.profiles.GetProfile(ctx, str("userId"))
		if errors.Is(err, storage.ErrProfileNotFound) {
			return reply(http.StatusNotFound, map[string]any{"error": "User profile not found"})
		}
		if err != nil {
			return reply(http.StatusInternalServerError, map[string]any{"error": err.Error()})
		}
		role := p.Role
		if role == "" {
			role = "user"
		}
		return reply(http.StatusOK, map[string]any{"role": role})

	case FunctionValidateUserProfile:
		p, err := m.profiles.GetProfile(ctx, str("userId"))
		complete := err == nil && p.IsComplete()
		return reply(http.StatusOK, map[string]any{"isProfileComplete": complete})

	case FunctionCreateRequest:
		if method != http.MethodPost {
			return reply(http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		}
		device, description := str("device_name"), str("description")
		if device == "" || description == "" {
			return reply(http.StatusBadRequest, map[string]any{"error": "device_name and description are required"})
		}
		req := memoryRequest{
			ID:          uuid.NewString(),
			DoctorID:    claims.Subject,
			DeviceName:  device,
			Description: description,
			Status:      "pending",
			CreatedAt:   m.now().UTC(),
		}
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.mu.Unlock()
		return reply(http.StatusCreated, map[string]any{"request": req})

	case FunctionGetDoctorRequests:
		m.mu.Lock()
		mine := make([]memoryRequest, 0)
		for _, r := range m.requests {
			if r.DoctorID == claims.Subject {
				mine = append(mine, r)
			}
		}
		m.mu.Unlock()
		return reply(http.StatusOK, map[string]any{"requests": mine})
	}

	return reply(http.StatusNotFound, map[string]any{"error": fmt.Sprintf("Function %s not found", name)})
}

func reply(status int, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	return status, data, nil
}

func (m *Memory) issueLocked(user User) (*Session, error) {
	now := m.now()
	expiry := now.Add(m.tokenTTL)

	claims := Claims{
		Email:     user.Email,
		Role:      "authenticated",
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "medfix-memory",
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	m.refreshTokens[refresh] = user.ID

	u := user
	return &Session{
		Token: &oauth2.Token{
			AccessToken:  access,
			TokenType:    "bearer",
			RefreshToken: refresh,
			Expiry:       expiry,
		},
		User: &u,
	}, nil
}

func (m *Memory) verifyLocked(accessToken string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if m.revoked[claims.SessionID] {
		return nil, fmt.Errorf("session revoked")
	}
	return &claims, nil
}

func (m *Memory) accountByIDLocked(id string) *memoryAccount {
	for _, acct := range m.accounts {
		if acct.user.ID == id {
			return acct
		}
	}
	return nil
}
