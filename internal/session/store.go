// Package session holds the client-side authentication state: the current
// token, user, backend session and resolved role. State changes only through
// the Store's setters, and every change is published to subscribers as one
// immutable Snapshot.
package session

import (
	"sort"
	"sync"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/emailutil"
)

// Snapshot is a point-in-time copy of the store. Version increases by one
// with every mutation.
type Snapshot struct {
	AuthToken string
	AuthEmail string
	User      *backend.User
	Session   *backend.Session
	UserRole  string
	IsLoading bool
	Error     string
	Version   uint64
}

// IsAuthenticated holds only when both a token and a session are present.
func (s Snapshot) IsAuthenticated() bool {
	return s.AuthToken != "" && s.Session != nil
}

// ValidationError checks the current email, see emailutil.ValidationError.
func (s Snapshot) ValidationError() string {
	return emailutil.ValidationError(s.AuthEmail)
}

// UserID is the current user's id, from the user record or else the session.
func (s Snapshot) UserID() string {
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	return s.Session.UserID()
}

// Listener receives every published snapshot, in version order.
type Listener func(Snapshot)

type subscription struct {
	id int
	fn Listener
}

// Store is the session state container. The zero value is not usable; use NewStore.
type Store struct {
	mu        sync.Mutex
	state     Snapshot
	subs      map[int]Listener
	nextSubID int
	pending   []Snapshot
	draining  bool
}

// NewStore creates an empty, unauthenticated store.
func NewStore() *Store {
	return &Store{subs: make(map[int]Listener)}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated is shorthand for Snapshot().IsAuthenticated().
func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// ValidationError is shorthand for Snapshot().ValidationError().
func (s *Store) ValidationError() string {
	return s.Snapshot().ValidationError()
}

// Subscribe registers fn for future snapshots and returns a function that
// removes it. fn may call back into the store; the resulting snapshots are
// delivered after the current one.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) SetAuthToken(token string) {
	s.update(func(st *Snapshot) { st.AuthToken = token })
}

// SetAuthEmail stores email with all whitespace removed.
func (s *Store) SetAuthEmail(email string) {
	email = emailutil.StripSpaces(email)
	s.update(func(st *Snapshot) { st.AuthEmail = email })
}

func (s *Store) SetUser(user *backend.User) {
	s.update(func(st *Snapshot) { st.User = user })
}

func (s *Store) SetSession(sess *backend.Session) {
	s.update(func(st *Snapshot) { st.Session = sess })
}

func (s *Store) SetUserRole(role string) {
	s.update(func(st *Snapshot) { st.UserRole = role })
}

func (s *Store) SetIsLoading(loading bool) {
	s.update(func(st *Snapshot) { st.IsLoading = loading })
}

func (s *Store) SetError(msg string) {
	s.update(func(st *Snapshot) { st.Error = msg })
}

// Login installs a signed-in identity in a single update: token and session
// from sess, plus user, role and email. Any previous error is cleared.
func (s *Store) Login(sess *backend.Session, user *backend.User, role, email string) {
	email = emailutil.StripSpaces(email)
	if user == nil && sess != nil {
		user = sess.User
	}
	s.update(func(st *Snapshot) {
		st.AuthToken = sess.AccessToken()
		st.Session = sess
		st.User = user
		st.UserRole = role
		st.AuthEmail = email
		st.Error = ""
	})
}

// SetUserRoleFor commits role only if userID is still the current user.
// It reports whether the role was applied.
func (s *Store) SetUserRoleFor(userID, role string) bool {
	applied := false
	s.updateIf(func(st *Snapshot) bool {
		if userID == "" || st.UserID() != userID {
			return false
		}
		st.UserRole = role
		applied = true
		return true
	})
	return applied
}

// Logout clears token, email, user, session, role and error together.
// Subscribers see one snapshot with all of them empty.
func (s *Store) Logout() {
	s.update(func(st *Snapshot) {
		st.AuthToken = ""
		st.AuthEmail = ""
		st.User = nil
		st.Session = nil
		st.UserRole = ""
		st.Error = ""
	})
}

func (s *Store) update(mutate func(*Snapshot)) {
	s.updateIf(func(st *Snapshot) bool {
		mutate(st)
		return true
	})
}

// updateIf applies mutate to a copy of the state and publishes it when
// mutate returns true. Snapshots are delivered outside the lock by whichever
// caller is draining the queue, so delivery order matches version order even
// when listeners mutate the store.
func (s *Store) updateIf(mutate func(*Snapshot) bool) {
	s.mu.Lock()
	next := s.state
	if !mutate(&next) {
		s.mu.Unlock()
		return
	}
	next.Version = s.state.Version + 1
	s.state = next
	s.pending = append(s.pending, next)

	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		snap := s.pending[0]
		s.pending = s.pending[1:]
		listeners := s.listenersLocked()

		s.mu.Unlock()
		for _, fn := range listeners {
			fn(snap)
		}
		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

func (s *Store) listenersLocked() []Listener {
	subs := make([]subscription, 0, len(s.subs))
	for id, fn := range s.subs {
		subs = append(subs, subscription{id: id, fn: fn})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	listeners := make([]Listener, len(subs))
	for i, sub := range subs {
		listeners[i] = sub.fn
	}
	return listeners
}
