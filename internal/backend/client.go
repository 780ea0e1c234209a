package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/medfix/internal/ioutil"
	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/dgellow/medfix/internal/urlutil"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	authPath      = "/auth/v1"
	restPath      = "/rest/v1"
	functionsPath = "/functions/v1"

	// maxBodyBytes caps how much of a response is read
	maxBodyBytes = 1 << 20

	profileTable = "users"
)

// Ensure Client implements the collaborator interfaces
var _ Backend = (*Client)(nil)
var _ FunctionInvoker = (*Client)(nil)
var _ storage.ProfileStore = (*Client)(nil)

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	session *Session

	refreshGroup singleflight.Group // one refresh per refresh token; they are single use
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock overrides time.Now (for testing expiry)
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the platform at baseURL using the project's anon key.
func NewClient(baseURL, anonKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the platform URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetSession installs a session, e.g. one restored from disk.
func (c *Client) SetSession(session *Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// Session returns the installed session without refreshing it.
func (c *Client) Session() *Session {
	return c.currentSession()
}

func (c *Client) currentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// replaceSession swaps the session only if it is still old, so a slow
// refresh cannot overwrite a newer sign-in or a sign-out.
func (c *Client) replaceSession(old, next *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != old {
		return false
	}
	c.session = next
	return true
}

// SignInWithPassword exchanges email and password for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &sess)
	if err != nil {
		return nil, err
	}

	c.SetSession(&sess)
	log.LogDebugWithFields("backend", "Signed in with password", map[string]any{
		"user_id": sess.UserID(),
	})
	return &sess, nil
}

// SignUp registers an account. The platform answers with a session when
// email confirmation is disabled, or with the bare user when it is required.
func (c *Client) SignUp(ctx context.Context, email, password string) (*User, *Session, error) {
	var raw json.RawMessage
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/signup",
		body:   map[string]string{"email": email, "password": password},
	}, &raw)
	if err != nil {
		return nil, nil, err
	}

	var probe struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, fmt.Errorf("decode signup response: %w", err)
	}

	if probe.AccessToken != "" {
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, nil, fmt.Errorf("decode signup session: %w", err)
		}
		c.SetSession(&sess)
		return sess.User, &sess, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, fmt.Errorf("decode signup user: %w", err)
	}
	log.LogDebugWithFields("backend", "Sign up pending email confirmation", map[string]any{
		"user_id": user.ID,
	})
	return &user, nil, nil
}

// SignOut revokes the session on the platform and drops it locally. A
// session the platform no longer knows is treated as already signed out.
func (c *Client) SignOut(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil {
		return nil
	}

	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/logout",
		bearer: sess.AccessToken(),
	}, nil)

	c.replaceSession(sess, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.IsAuthError() || apiErr.Status == http.StatusNotFound) {
		return nil
	}
	return err
}

// GetSession returns the current session, refreshing it when expired.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	sess := c.currentSession()
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiredAt(c.now()) {
		return sess, nil
	}

	refreshToken := ""
	if sess.Token != nil {
		refreshToken = sess.Token.RefreshToken
	}
	if refreshToken == "" {
		c.replaceSession(sess, nil)
		return nil, ErrSessionExpired
	}

	v, err, _ := c.refreshGroup.Do(refreshToken, func() (any, error) {
		return c.refresh(ctx, refreshToken)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			// rejected refresh token: the session is gone for good
			c.replaceSession(sess, nil)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	next := v.(*Session)
	if next.User == nil {
		next.User = sess.User
	}
	if !c.replaceSession(sess, next) {
		if current := c.currentSession(); current != nil {
			return current, nil
		}
	}
	return next, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var sess Session
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &sess)
	if err != nil {
		return nil, err
	}
	log.LogDebugWithFields("backend", "Refreshed session", map[string]any{
		"user_id": sess.UserID(),
	})
	return &sess, nil
}

// GetUser fetches the signed-in user from the platform
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	var user User
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/user",
		bearer: sess.AccessToken(),
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ResetPasswordForEmail asks the platform to mail a reset link that opens redirectTo
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/recover",
		query:  q,
		body:   map[string]string{"email": email},
	}, nil)
}

// UpsertProfile writes a users row through the REST API as the signed-in user
func (c *Client) UpsertProfile(ctx context.Context, profile storage.Profile) error {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSession
	}

	header := http.Header{}
	header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   restPath + "/" + profileTable,
		query:  url.Values{"on_conflict": {"id"}},
		body:   []storage.Profile{profile},
		bearer: sess.AccessToken(),
		header: header,
	}, nil)
}

// GetProfile reads the users row for userID
func (c *Client) GetProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	var rows []storage.Profile
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   restPath + "/" + profileTable,
		query: url.Values{
			"id":     {"eq." + userID},
			"select": {"id,email,name,role"},
		},
		bearer: sess.AccessToken(),
	}, &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, storage.ErrProfileNotFound
	}
	return &rows[0], nil
}

// InvokeFunction calls an edge function, authorizing with accessToken
func (c *Client) InvokeFunction(ctx context.Context, method, name, accessToken string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode function body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target, err := urlutil.JoinPath(c.baseURL, functionsPath, name)
	if err != nil {
		return 0, nil, fmt.Errorf("build function url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build function request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}

	log.LogTraceWithFields("backend", "Invoking function", map[string]any{
		"function": name,
		"method":   method,
	})

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAtMost(resp.Body, maxBodyBytes)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read function response: %w", err)
	}
	return resp.StatusCode, data, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	bearer string
	header http.Header
}

func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	target, err := urlutil.Endpoint(c.baseURL, r.path, r.query)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	var reader io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range r.header {
		req.Header[k] = v
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAtMost(resp.Body, maxBodyBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := ParseAPIError(resp.StatusCode, data)
		log.LogDebugWithFields("backend", "Request rejected", map[string]any{
			"path":   r.path,
			"status": resp.StatusCode,
			"code":   apiErr.Code,
		})
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %q: %w", ioutil.Snippet(data, 120), err)
	}
	return nil
}

// ParseAPIError extracts the message from an error body. The platform's
// services disagree on the field name, so the known ones are tried in order.
func ParseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"msg", "message", "error_description", "error"} {
			if s, ok := payload[key].(string); ok && s != "" {
				apiErr.Message = s
				break
			}
		}
		for _, key := range []string{"error_code", "code"} {
			if s, ok := payload[key].(string); ok && s != "" {
				apiErr.Code = s
				break
			}
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = httpStatusMessage(status)
	}
	return apiErr
}
