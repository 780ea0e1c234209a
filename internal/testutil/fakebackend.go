package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jsonwriter "github.com/dgellow/medfix/internal/json"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// FakeAnonKey is the api key the fake backend accepts
const FakeAnonKey = "test-anon-key"

type fakeUser struct {
	ID        string
	Email     string
	Password  string
	Confirmed bool
}

type fakeResponse struct {
	status int
	body   string
}

// FakeBackend is an httptest server speaking the platform's auth, rest and
// functions endpoints. Accounts, profiles and maintenance requests live in memory.
type FakeBackend struct {
	Server *httptest.Server
	URL    string

	mu              sync.Mutex
	users           map[string]*fakeUser // by email
	access          map[string]string    // access token -> user id
	refresh         map[string]string    // refresh token -> user id
	profiles        map[string]storage.Profile
	requests        []map[string]any
	calls           map[string]int
	overrides       map[string]fakeResponse
	expiresIn       int
	requireConfirm  bool
	omitSignInUser  bool
	recoverRedirect string
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	f := &FakeBackend{
		users:     make(map[string]*fakeUser),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		profiles:  make(map[string]storage.Profile),
		calls:     make(map[string]int),
		overrides: make(map[string]fakeResponse),
		expiresIn: 3600,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(f.countCalls)
	r.Use(f.requireAPIKey)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/token", f.handleToken)
		r.Post("/signup", f.handleSignUp)
		r.Post("/logout", f.handleLogout)
		r.Post("/recover", f.handleRecover)
		r.Get("/user", f.handleUser)
	})
	r.Route("/rest/v1", func(r chi.Router) {
		r.Post("/users", f.handleUpsertProfile)
		r.Get("/users", f.handleGetProfile)
	})
	r.HandleFunc("/functions/v1/{name}", f.handleFunction)

	f.Server = httptest.NewServer(r)
	f.URL = f.Server.URL
	t.Cleanup(f.Server.Close)
	return f
}

// AddUser registers a confirmed account and returns its id
func (f *FakeBackend) AddUser(email, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := &fakeUser{ID: uuid.NewString(), Email: strings.ToLower(email), Password: password, Confirmed: true}
	f.users[u.Email] = u
	return u.ID
}

// SetProfile stores a users row
func (f *FakeBackend) SetProfile(p storage.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

// Profile returns the stored users row for id
func (f *FakeBackend) Profile(id string) (storage.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	return p, ok
}

// RequireConfirmation makes sign-up answer with a bare user and no session
func (f *FakeBackend) RequireConfirmation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requireConfirm = true
}

// OmitSignInUser makes the password grant answer without a user object
func (f *FakeBackend) OmitSignInUser() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitSignInUser = true
}

// SetExpiresIn sets the lifetime in seconds of tokens issued from now on
func (f *FakeBackend) SetExpiresIn(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiresIn = seconds
}

// SetFunctionResponse makes the named edge function answer with status and body
func (f *FakeBackend) SetFunctionResponse(name string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[name] = fakeResponse{status: status, body: body}
}

// Calls returns how many requests hit path (without query)
func (f *FakeBackend) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// TotalCalls returns the number of requests served
func (f *FakeBackend) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// RecoverRedirect returns the redirect_to of the last recover request
func (f *FakeBackend) RecoverRedirect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoverRedirect
}

func (f *FakeBackend) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeBackend) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != FakeAnonKey {
			jsonwriter.WriteRESTError(w, http.StatusUnauthorized, "", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeBackend) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = jsonwriter.WriteResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "error_description": "Could not read body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := f.users[strings.ToLower(body["email"])]
		if !ok || u.Password != body["password"] {
			jsonwriter.WriteAuthError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		if !u.Confirmed {
			jsonwriter.WriteAuthError(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
			return
		}
		resp := f.sessionLocked(u)
		if f.omitSignInUser {
			delete(resp, "user")
		}
		_ = jsonwriter.WriteResponse(w, http.StatusOK, resp)

	case "refresh_token":
		id, ok := f.refresh[body["refresh_token"]]
		if !ok {
			jsonwriter.WriteAuthError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(f.refresh, body["refresh_token"])
		_ = jsonwriter.WriteResponse(w, http.StatusOK, f.sessionLocked(f.userByIDLocked(id)))

	default:
		jsonwriter.WriteAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported_grant_type")
	}
}

func (f *FakeBackend) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonwriter.WriteAuthError(w, http.StatusBadRequest, "", "Could not read body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	email := strings.ToLower(body["email"])
	if _, exists := f.users[email]; exists {
		jsonwriter.WriteAuthError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}

	u := &fakeUser{ID: uuid.NewString(), Email: email, Password: body["password"], Confirmed: !f.requireConfirm}
	f.users[email] = u

	if f.requireConfirm {
		_ = jsonwriter.WriteResponse(w, http.StatusOK, userJSON(u))
		return
	}
	_ = jsonwriter.WriteResponse(w, http.StatusOK, f.sessionLocked(u))
}

func (f *FakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.access[token]; !ok {
		jsonwriter.WriteAuthError(w, http.StatusUnauthorized, "", "invalid JWT")
		return
	}
	delete(f.access, token)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeBackend) handleRecover(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.recoverRedirect = r.URL.Query().Get("redirect_to")
	f.mu.Unlock()
	_ = jsonwriter.WriteResponse(w, http.StatusOK, map[string]any{})
}

func (f *FakeBackend) handleUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := f.authorizedLocked(r)
	if u == nil {
		jsonwriter.WriteAuthError(w, http.StatusUnauthorized, "", "invalid JWT")
		return
	}
	_ = jsonwriter.WriteResponse(w, http.StatusOK, userJSON(u))
}

func (f *FakeBackend) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authorizedLocked(r) == nil {
		jsonwriter.WriteRESTError(w, http.StatusUnauthorized, "", "JWT expired")
		return
	}

	var rows []storage.Profile
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		jsonwriter.WriteRESTError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json")
		return
	}
	for _, row := range rows {
		f.profiles[row.ID] = row
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *FakeBackend) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authorizedLocked(r) == nil {
		jsonwriter.WriteRESTError(w, http.StatusUnauthorized, "", "JWT expired")
		return
	}

	id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
	rows := []storage.Profile{}
	if p, ok := f.profiles[id]; ok {
		rows = append(rows, p)
	}
	_ = jsonwriter.WriteResponse(w, http.StatusOK, rows)
}

func (f *FakeBackend) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	f.mu.Lock()
	defer f.mu.Unlock()

	if o, ok := f.overrides[name]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(o.status)
		_, _ = w.Write([]byte(o.body))
		return
	}

	u := f.authorizedLocked(r)
	if u == nil {
		jsonwriter.WriteFunctionError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	str := func(k string) string {
		s, _ := body[k].(string)
		return s
	}

	switch name {
	case "get-user-role":
		p, ok := f.profiles[str("userId")]
		if !ok {
			jsonwriter.WriteFunctionError(w, http.StatusNotFound, "User profile not found")
			return
		}
		role := p.Role
		if role == "" {
			role = "user"
		}
		_ = jsonwriter.WriteResponse(w, http.StatusOK, map[string]any{"role": role})

	case "validate-user-profile":
		p, ok := f.profiles[str("userId")]
		_ = jsonwriter.WriteResponse(w, http.StatusOK, map[string]any{"isProfileComplete": ok && p.IsComplete()})

	case "createRequest":
		req := map[string]any{
			"id":          uuid.NewString(),
			"doctor_id":   u.ID,
			"device_name": str("device_name"),
			"description": str("description"),
			"status":      "pending",
			"created_at":  time.Now().UTC().Format(time.RFC3339),
		}
		f.requests = append(f.requests, req)
		_ = jsonwriter.WriteResponse(w, http.StatusCreated, map[string]any{"request": req})

	case "get-doctor-requests":
		mine := []map[string]any{}
		for _, req := range f.requests {
			if req["doctor_id"] == u.ID {
				mine = append(mine, req)
			}
		}
		_ = jsonwriter.WriteResponse(w, http.StatusOK, map[string]any{"requests": mine})

	default:
		jsonwriter.WriteFunctionError(w, http.StatusNotFound, fmt.Sprintf("Function %s not found", name))
	}
}

func (f *FakeBackend) sessionLocked(u *fakeUser) map[string]any {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(f.expiresIn) * time.Second)),
	}
	access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-backend"))
	refresh := uuid.NewString()

	f.access[access] = u.ID
	f.refresh[refresh] = u.ID

	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    f.expiresIn,
		"expires_at":    claims.ExpiresAt.Unix(),
		"refresh_token": refresh,
		"user":          userJSON(u),
	}
}

func (f *FakeBackend) authorizedLocked(r *http.Request) *fakeUser {
	id, ok := f.access[bearer(r)]
	if !ok {
		return nil
	}
	return f.userByIDLocked(id)
}

func (f *FakeBackend) userByIDLocked(id string) *fakeUser {
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func userJSON(u *fakeUser) map[string]any {
	return map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"role":  "authenticated",
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
