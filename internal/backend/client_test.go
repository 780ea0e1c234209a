package backend_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/dgellow/medfix/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*backend.Client, *testutil.FakeBackend) {
	t.Helper()
	fake := testutil.NewFakeBackend(t)
	return backend.NewClient(fake.URL+"/", testutil.FakeAnonKey), fake
}

func TestClientSignInWithPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials install the session", func(t *testing.T) {
		client, fake := newClient(t)
		id := fake.AddUser("doc@example.com", "secret1")

		sess, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.AccessToken())
		assert.Equal(t, id, sess.UserID())
		require.NotNil(t, sess.User)
		assert.Equal(t, "doc@example.com", sess.User.Email)

		current, err := client.GetSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, sess.AccessToken(), current.AccessToken())
	})

	t.Run("rejection carries the platform message", func(t *testing.T) {
		client, fake := newClient(t)
		fake.AddUser("doc@example.com", "secret1")

		_, err := client.SignInWithPassword(ctx, "doc@example.com", "wrong")
		require.Error(t, err)

		var apiErr *backend.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Equal(t, "invalid_credentials", apiErr.Code)
		assert.Equal(t, "Invalid login credentials", err.Error())

		sess, err := client.GetSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("wrong api key", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		client := backend.NewClient(fake.URL, "nope")

		_, err := client.SignInWithPassword(ctx, "a@example.com", "secret1")
		require.Error(t, err)
		assert.Equal(t, "Invalid API key", err.Error())
	})
}

func TestClientSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate session", func(t *testing.T) {
		client, _ := newClient(t)

		user, sess, err := client.SignUp(ctx, "new@example.com", "secret1")
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.NotNil(t, user)
		assert.Equal(t, user.ID, sess.UserID())
	})

	t.Run("confirmation pending", func(t *testing.T) {
		client, fake := newClient(t)
		fake.RequireConfirmation()

		user, sess, err := client.SignUp(ctx, "new@example.com", "secret1")
		require.NoError(t, err)
		assert.Nil(t, sess)
		require.NotNil(t, user)
		assert.Equal(t, "new@example.com", user.Email)
	})

	t.Run("duplicate", func(t *testing.T) {
		client, fake := newClient(t)
		fake.AddUser("dup@example.com", "secret1")

		_, _, err := client.SignUp(ctx, "dup@example.com", "secret1")
		assert.EqualError(t, err, "User already registered")
	})
}

func TestClientSignOut(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	fake.AddUser("doc@example.com", "secret1")

	// nothing to do without a session
	require.NoError(t, client.SignOut(ctx))
	assert.Zero(t, fake.Calls("/auth/v1/logout"))

	_, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, client.SignOut(ctx))
	assert.Equal(t, 1, fake.Calls("/auth/v1/logout"))
	assert.Nil(t, client.Session())
}

func TestClientSignOutRevokedSession(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	fake.AddUser("doc@example.com", "secret1")

	sess, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	// revoke it server side through a second client
	other := backend.NewClient(fake.URL, testutil.FakeAnonKey)
	other.SetSession(sess)
	require.NoError(t, other.SignOut(ctx))

	// the platform answers 401 now, which still counts as signed out
	assert.NoError(t, client.SignOut(ctx))
	assert.Nil(t, client.Session())
}

func TestClientGetSessionRefreshesExpired(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	fake.AddUser("doc@example.com", "secret1")

	fake.SetExpiresIn(0)
	first, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)
	fake.SetExpiresIn(3600)

	refreshed, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.NotEqual(t, first.AccessToken(), refreshed.AccessToken())
	assert.Equal(t, first.UserID(), refreshed.UserID())

	again, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, refreshed.AccessToken(), again.AccessToken())
}

func TestClientGetSessionRejectedRefresh(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	fake.AddUser("doc@example.com", "secret1")

	fake.SetExpiresIn(0)
	sess, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	// single-use refresh token consumed elsewhere
	sess.Token.RefreshToken = "unknown"
	client.SetSession(sess)

	_, err = client.GetSession(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Refresh Token Not Found")
	assert.Nil(t, client.Session())
}

func TestClientGetSessionExpiredWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	fake.AddUser("doc@example.com", "secret1")

	fake.SetExpiresIn(0)
	sess, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)
	sess.Token.RefreshToken = ""
	client.SetSession(sess)

	_, err = client.GetSession(ctx)
	assert.ErrorIs(t, err, backend.ErrSessionExpired)
}

func TestClientGetUser(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	id := fake.AddUser("doc@example.com", "secret1")

	_, err := client.GetUser(ctx)
	assert.ErrorIs(t, err, backend.ErrNoSession)

	_, err = client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	user, err := client.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
}

func TestClientResetPasswordForEmail(t *testing.T) {
	client, fake := newClient(t)

	err := client.ResetPasswordForEmail(context.Background(), "doc@example.com", "medfix://reset-password")
	require.NoError(t, err)
	assert.Equal(t, "medfix://reset-password", fake.RecoverRedirect())
	assert.Equal(t, 1, fake.Calls("/auth/v1/recover"))
}

func TestClientProfiles(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	id := fake.AddUser("eng@example.com", "secret1")

	err := client.UpsertProfile(ctx, storage.Profile{ID: id})
	assert.ErrorIs(t, err, backend.ErrNoSession)

	_, err = client.SignInWithPassword(ctx, "eng@example.com", "secret1")
	require.NoError(t, err)

	_, err = client.GetProfile(ctx, id)
	assert.ErrorIs(t, err, storage.ErrProfileNotFound)

	require.NoError(t, client.UpsertProfile(ctx, storage.Profile{ID: id, Email: "eng@example.com", Name: "Grace", Role: "engineer"}))

	p, err := client.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Grace", p.Name)
	assert.Equal(t, "engineer", p.Role)

	stored, ok := fake.Profile(id)
	require.True(t, ok)
	assert.True(t, stored.IsComplete())
}

func TestClientInvokeFunction(t *testing.T) {
	ctx := context.Background()
	client, fake := newClient(t)
	id := fake.AddUser("doc@example.com", "secret1")
	fake.SetProfile(storage.Profile{ID: id, Name: "Ada", Role: "doctor"})

	sess, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	status, body, err := client.InvokeFunction(ctx, http.MethodPost, backend.FunctionGetUserRole, sess.AccessToken(), map[string]string{"userId": id})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"role":"doctor"}`, string(body))

	status, body, err = client.InvokeFunction(ctx, http.MethodPost, backend.FunctionGetUserRole, "bogus", map[string]string{"userId": id})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, string(body))
}

func TestParseAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
	}{
		{"gotrue msg", 400, `{"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, "Invalid login credentials", "invalid_credentials"},
		{"postgrest message", 401, `{"code":"PGRST301","message":"JWT expired"}`, "JWT expired", "PGRST301"},
		{"oauth style", 400, `{"error":"invalid_grant","error_description":"Refresh token revoked"}`, "Refresh token revoked", ""},
		{"function error", 404, `{"error":"User profile not found"}`, "User profile not found", ""},
		{"empty body", 502, ``, "HTTP error! status: 502", ""},
		{"non json", 500, `<html>oops</html>`, "HTTP error! status: 500", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := backend.ParseAPIError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestClientRefreshesWhenClockPassesExpiry(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeBackend(t)
	fake.AddUser("doc@example.com", "secret1")

	now := time.Now()
	client := backend.NewClient(fake.URL, testutil.FakeAnonKey, backend.WithClock(func() time.Time { return now }))

	first, err := client.SignInWithPassword(ctx, "doc@example.com", "secret1")
	require.NoError(t, err)

	same, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Same(t, first, same)
	assert.Equal(t, 1, fake.Calls("/auth/v1/token"))

	now = now.Add(2 * time.Hour)
	next, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, next)
	assert.Equal(t, 2, fake.Calls("/auth/v1/token"))
}
