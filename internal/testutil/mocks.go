package testutil

import (
	"context"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of backend.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Session), args.Error(1)
}

func (m *MockBackend) SignUp(ctx context.Context, email, password string) (*backend.User, *backend.Session, error) {
	args := m.Called(ctx, email, password)
	var user *backend.User
	if args.Get(0) != nil {
		user = args.Get(0).(*backend.User)
	}
	var sess *backend.Session
	if args.Get(1) != nil {
		sess = args.Get(1).(*backend.Session)
	}
	return user, sess, args.Error(2)
}

func (m *MockBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) GetSession(ctx context.Context) (*backend.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Session), args.Error(1)
}

func (m *MockBackend) GetUser(ctx context.Context) (*backend.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.User), args.Error(1)
}

func (m *MockBackend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

func (m *MockBackend) SetSession(session *backend.Session) {
	m.Called(session)
}

// MockFunctionInvoker is a testify mock of backend.FunctionInvoker
type MockFunctionInvoker struct {
	mock.Mock
}

func (m *MockFunctionInvoker) InvokeFunction(ctx context.Context, method, name, accessToken string, body any) (int, []byte, error) {
	args := m.Called(ctx, method, name, accessToken, body)
	var data []byte
	if args.Get(1) != nil {
		data = args.Get(1).([]byte)
	}
	return args.Int(0), data, args.Error(2)
}

// MockProfileStore is a testify mock of storage.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) UpsertProfile(ctx context.Context, profile storage.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfileStore) GetProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Profile), args.Error(1)
}
