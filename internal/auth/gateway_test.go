package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/role"
	"github.com/dgellow/medfix/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubRoles struct {
	result role.Result
	calls  []string
}

func (s *stubRoles) GetUserRole(ctx context.Context, userID string) role.Result {
	s.calls = append(s.calls, userID)
	return s.result
}

func newSession(userID string) *backend.Session {
	return &backend.Session{
		Token: &oauth2.Token{AccessToken: "tok-" + userID},
		User:  &backend.User{ID: userID, Email: userID + "@example.com"},
	}
}

func assertResultShape(t *testing.T, res Result) {
	t.Helper()
	if res.Success {
		assert.Empty(t, res.Error)
	} else {
		assert.Nil(t, res.Data)
		assert.NotEmpty(t, res.Error)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves role", func(t *testing.T) {
		be := &testutil.MockBackend{}
		sess := newSession("u1")
		be.On("SignInWithPassword", ctx, "doc@example.com", "secret1").Return(sess, nil)
		roles := &stubRoles{result: role.Result{Success: true, Role: role.Doctor}}

		res := NewGateway(be, roles).SignIn(ctx, "doc@example.com", "secret1")
		assertResultShape(t, res)
		require.True(t, res.Success)

		data := res.Data.(SignInData)
		assert.Equal(t, role.Doctor, data.Role)
		assert.Same(t, sess, data.Session)
		assert.Equal(t, "u1", data.User.ID)
		assert.Equal(t, []string{"u1"}, roles.calls)
	})

	t.Run("role lookup failure defaults to user", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignInWithPassword", ctx, mock.Anything, mock.Anything).Return(newSession("u1"), nil)
		roles := &stubRoles{result: role.Result{Error: "HTTP error! status: 500"}}

		res := NewGateway(be, roles).SignIn(ctx, "doc@example.com", "secret1")
		require.True(t, res.Success)
		assert.Equal(t, role.User, res.Data.(SignInData).Role)
	})

	t.Run("backend rejection verbatim", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignInWithPassword", ctx, mock.Anything, mock.Anything).
			Return(nil, &backend.APIError{Status: http.StatusBadRequest, Message: "Invalid login credentials"})
		roles := &stubRoles{}

		res := NewGateway(be, roles).SignIn(ctx, "doc@example.com", "bad")
		assertResultShape(t, res)
		assert.Equal(t, "Invalid login credentials", res.Error)
		assert.Empty(t, roles.calls)
	})

	t.Run("session without user", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignInWithPassword", ctx, mock.Anything, mock.Anything).
			Return(&backend.Session{Token: &oauth2.Token{AccessToken: "tok"}}, nil)

		res := NewGateway(be, &stubRoles{}).SignIn(ctx, "doc@example.com", "secret1")
		assertResultShape(t, res)
		assert.Equal(t, MsgAuthFailed, res.Error)
	})

	t.Run("network error", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignInWithPassword", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

		res := NewGateway(be, &stubRoles{}).SignIn(ctx, "doc@example.com", "secret1")
		assert.Equal(t, "dial tcp: connection refused", res.Error)
	})

	t.Run("panic is contained", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignInWithPassword", ctx, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			panic("boom")
		})

		res := NewGateway(be, &stubRoles{}).SignIn(ctx, "doc@example.com", "secret1")
		assertResultShape(t, res)
		assert.Equal(t, MsgUnexpected, res.Error)
	})
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatched passwords make no backend call", func(t *testing.T) {
		be := &testutil.MockBackend{}

		res := NewGateway(be, &stubRoles{}).SignUp(ctx, "new@example.com", "secret1", "secret2")
		assertResultShape(t, res)
		assert.Equal(t, MsgPasswordsMismatch, res.Error)
		be.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, be.Calls)
	})

	t.Run("pending confirmation", func(t *testing.T) {
		be := &testutil.MockBackend{}
		user := &backend.User{ID: "u2", Email: "new@example.com"}
		be.On("SignUp", ctx, "new@example.com", "secret1").Return(user, nil, nil)

		res := NewGateway(be, &stubRoles{}).SignUp(ctx, "new@example.com", "secret1", "secret1")
		require.True(t, res.Success)
		data := res.Data.(SignUpData)
		assert.Same(t, user, data.User)
		assert.Nil(t, data.Session)
	})

	t.Run("backend rejection", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("SignUp", ctx, mock.Anything, mock.Anything).
			Return(nil, nil, &backend.APIError{Status: http.StatusUnprocessableEntity, Message: "User already registered"})

		res := NewGateway(be, &stubRoles{}).SignUp(ctx, "dup@example.com", "secret1", "secret1")
		assertResultShape(t, res)
		assert.Equal(t, "User already registered", res.Error)
	})
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("default redirect", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("ResetPasswordForEmail", ctx, "doc@example.com", "medfix://reset-password").Return(nil)

		res := NewGateway(be, &stubRoles{}).ResetPassword(ctx, "doc@example.com")
		require.True(t, res.Success)
		assert.Equal(t, MessageData{Message: "Password reset email sent successfully"}, res.Data)
		be.AssertExpectations(t)
	})

	t.Run("custom redirect", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("ResetPasswordForEmail", ctx, "doc@example.com", "https://app.example.com/reset").Return(nil)

		res := NewGateway(be, &stubRoles{}, WithResetRedirect("https://app.example.com/reset")).ResetPassword(ctx, "doc@example.com")
		require.True(t, res.Success)
		be.AssertExpectations(t)
	})

	t.Run("error", func(t *testing.T) {
		be := &testutil.MockBackend{}
		be.On("ResetPasswordForEmail", ctx, mock.Anything, mock.Anything).
			Return(&backend.APIError{Status: http.StatusTooManyRequests, Message: "For security purposes, you can only request this once every 60 seconds"})

		res := NewGateway(be, &stubRoles{}).ResetPassword(ctx, "doc@example.com")
		assertResultShape(t, res)
		assert.Contains(t, res.Error, "once every 60 seconds")
	})
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()

	be := &testutil.MockBackend{}
	be.On("SignOut", ctx).Return(nil).Once()
	be.On("SignOut", ctx).Return(errors.New("")).Once()
	g := NewGateway(be, &stubRoles{})

	res := g.SignOut(ctx)
	require.True(t, res.Success)
	assert.Equal(t, MessageData{Message: "Signed out successfully"}, res.Data)

	res = g.SignOut(ctx)
	assertResultShape(t, res)
	assert.Equal(t, MsgUnexpected, res.Error)
}

func TestGetCurrentSession(t *testing.T) {
	ctx := context.Background()

	be := &testutil.MockBackend{}
	sess := newSession("u1")
	be.On("GetSession", ctx).Return(sess, nil).Once()
	be.On("GetSession", ctx).Return(nil, nil).Once()
	be.On("GetSession", ctx).Return(nil, backend.ErrSessionExpired).Once()
	g := NewGateway(be, &stubRoles{})

	res := g.GetCurrentSession(ctx)
	require.True(t, res.Success)
	assert.Same(t, sess, res.Data.(SessionData).Session)

	res = g.GetCurrentSession(ctx)
	require.True(t, res.Success)
	assert.Nil(t, res.Data.(SessionData).Session)

	res = g.GetCurrentSession(ctx)
	assertResultShape(t, res)
	assert.Equal(t, "session expired", res.Error)
}

func TestGatewayAgainstFakeBackend(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeBackend(t)
	client := backend.NewClient(fake.URL, testutil.FakeAnonKey)
	fake.AddUser("doc@example.com", "secret1")
	fake.OmitSignInUser()

	res := NewGateway(client, &stubRoles{}).SignIn(ctx, "doc@example.com", "secret1")
	assert.Equal(t, Result{Error: MsgAuthFailed}, res)
}
