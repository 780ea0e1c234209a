package role

import (
	"context"
	"errors"
	"testing"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/edge"
	"github.com/dgellow/medfix/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// stubLookup answers from maps; a non-nil gate blocks the role lookup of
// that user until it is closed.
type stubLookup struct {
	roles    map[string]string
	complete map[string]bool
	err      error
	gates    map[string]chan struct{}
	started  chan string
}

func (s *stubLookup) GetUserRole(ctx context.Context, userID string) (string, error) {
	if s.started != nil {
		s.started <- userID
	}
	if gate, ok := s.gates[userID]; ok {
		<-gate
	}
	if s.err != nil {
		return "", s.err
	}
	return s.roles[userID], nil
}

func (s *stubLookup) ValidateUserProfile(ctx context.Context, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.complete[userID], nil
}

func login(store *session.Store, userID string) {
	store.Login(&backend.Session{
		Token: &oauth2.Token{AccessToken: "tok-" + userID},
		User:  &backend.User{ID: userID},
	}, nil, "", userID+"@example.com")
}

func TestGetUserRole(t *testing.T) {
	ctx := context.Background()

	res := NewResolver(&stubLookup{roles: map[string]string{"u1": "engineer"}}).GetUserRole(ctx, "u1")
	assert.Equal(t, Result{Success: true, Role: Engineer}, res)

	res = NewResolver(&stubLookup{err: edge.ErrNoSession}).GetUserRole(ctx, "u1")
	assert.Equal(t, Result{Error: "No valid session found"}, res)

	res = NewResolver(&stubLookup{err: &edge.Error{Status: 500, Message: "HTTP error! status: 500"}}).GetUserRole(ctx, "u1")
	assert.False(t, res.Success)
	assert.Empty(t, res.Role)
	assert.Equal(t, "HTTP error! status: 500", res.Error)

	res = NewResolver(&stubLookup{err: errors.New("")}).GetUserRole(ctx, "u1")
	assert.Equal(t, MsgUnexpected, res.Error)
}

func TestValidateUserProfile(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(&stubLookup{complete: map[string]bool{"done": true}})

	assert.Equal(t, ProfileResult{Success: true, IsProfileComplete: true}, r.ValidateUserProfile(ctx, "done"))
	assert.Equal(t, ProfileResult{Success: true, IsProfileComplete: false}, r.ValidateUserProfile(ctx, "new"))

	failing := NewResolver(&stubLookup{err: edge.ErrNoSession})
	assert.Equal(t, ProfileResult{Error: "No valid session found"}, failing.ValidateUserProfile(ctx, "done"))

	_, err := failing.ProfileComplete(ctx, "done")
	assert.ErrorIs(t, err, edge.ErrNoSession)
}

func TestSelectable(t *testing.T) {
	assert.True(t, Doctor.Selectable())
	assert.True(t, Engineer.Selectable())
	assert.False(t, User.Selectable())
	assert.False(t, Role("admin").Selectable())
	assert.False(t, Role("").Selectable())
}

func TestSyncCommitsRoleForCurrentUser(t *testing.T) {
	store := session.NewStore()
	login(store, "a")

	res := NewResolver(&stubLookup{roles: map[string]string{"a": "doctor"}}).Sync(context.Background(), store)
	require.True(t, res.Success)
	assert.Equal(t, "doctor", store.Snapshot().UserRole)
}

func TestSyncWithoutUser(t *testing.T) {
	res := NewResolver(&stubLookup{}).Sync(context.Background(), session.NewStore())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestSyncDiscardsStaleLookup(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore()

	lookup := &stubLookup{
		roles:   map[string]string{"a": "doctor", "b": "engineer"},
		gates:   map[string]chan struct{}{"a": make(chan struct{})},
		started: make(chan string, 2),
	}
	r := NewResolver(lookup)

	login(store, "a")
	done := make(chan Result)
	go func() { done <- r.Sync(ctx, store) }()
	require.Equal(t, "a", <-lookup.started)

	// B signs in and resolves while A's lookup is still in flight
	login(store, "b")
	resB := r.Sync(ctx, store)
	require.Equal(t, "b", <-lookup.started)
	require.True(t, resB.Success)

	close(lookup.gates["a"])
	resA := <-done
	assert.True(t, resA.Success)
	assert.Equal(t, Doctor, resA.Role)

	assert.Equal(t, "engineer", store.Snapshot().UserRole)
	assert.Equal(t, "b", store.Snapshot().UserID())
}
