package navigation

import (
	"context"
	"sort"
	"sync"

	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/session"
	"golang.org/x/sync/singleflight"
)

// ProfileChecker reports whether a user's profile is complete.
type ProfileChecker interface {
	ProfileComplete(ctx context.Context, userID string) (bool, error)
}

// trigger is the part of a snapshot that starts a new profile check.
type trigger struct {
	authenticated bool
	userID        string
	role          string
}

// Coordinator recomputes the navigation decision whenever the session store
// or a profile check changes. Profile checks for the same user are collapsed
// into one request, and a result is dropped if the user changed meanwhile.
type Coordinator struct {
	store   *session.Store
	checker ProfileChecker
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	last        trigger
	evaluated   bool
	checked     bool
	complete    bool
	generation  uint64 // bumped per started check
	committed   uint64 // generation of the last applied result
	decision    Decision
	listeners   map[int]func(Decision)
	nextID      int
	inflight    int
	idle        chan struct{}
}

// NewCoordinator creates a coordinator; call Start to begin watching store.
func NewCoordinator(store *session.Store, checker ProfileChecker) *Coordinator {
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		store:     store,
		checker:   checker,
		decision:  Decision{Route: Auth},
		listeners: make(map[int]func(Decision)),
		idle:      idle,
	}
}

// Start subscribes to the store and evaluates its current state. Checks run
// on ctx until Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	unsubscribe := c.store.Subscribe(c.onSnapshot)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.onSnapshot(c.store.Snapshot())
}

// Stop unsubscribes from the store and cancels running checks.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubscribe, cancel := c.unsubscribe, c.cancel
	c.unsubscribe, c.cancel = nil, nil
	c.started = false
	c.evaluated = false
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// Decision returns the current decision.
func (c *Coordinator) Decision() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// State returns the inputs of the current decision.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// OnChange registers fn to be called with every new decision. It returns a
// function that removes fn.
func (c *Coordinator) OnChange(fn func(Decision)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Recheck runs a fresh profile check for the current user, for example after
// the profile was completed.
func (c *Coordinator) Recheck() {
	c.mu.Lock()
	userID := c.last.userID
	if !c.last.authenticated || userID == "" {
		c.mu.Unlock()
		return
	}
	c.group.Forget(userID)
	c.startCheckLocked(userID)
	c.mu.Unlock()
}

// WaitSettled blocks until no profile check is running or ctx is done.
func (c *Coordinator) WaitSettled(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inflight == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) onSnapshot(snap session.Snapshot) {
	next := trigger{
		authenticated: snap.IsAuthenticated(),
		userID:        snap.UserID(),
		role:          snap.UserRole,
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	if c.evaluated && next == c.last {
		c.mu.Unlock()
		return
	}
	c.evaluated = true

	if next.userID != c.last.userID || next.authenticated != c.last.authenticated {
		c.checked = false
		c.complete = false
	}
	c.last = next

	switch {
	case !next.authenticated:
		c.checked = true
	case next.userID == "":
		// nothing to check against
		c.checked = true
		c.complete = true
	default:
		c.startCheckLocked(next.userID)
	}

	notify := c.updateDecisionLocked()
	c.mu.Unlock()
	notify()
}

func (c *Coordinator) startCheckLocked(userID string) {
	c.generation++
	gen := c.generation
	ctx := c.ctx

	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++

	ch := c.group.DoChan(userID, func() (any, error) {
		return c.checker.ProfileComplete(ctx, userID)
	})

	go func() {
		res := <-ch
		complete := false
		if res.Err != nil {
			log.LogDebugWithFields("navigation", "Profile check failed", map[string]any{
				"user_id": userID,
				"error":   res.Err.Error(),
			})
		} else {
			complete = res.Val.(bool)
		}
		c.commit(userID, gen, complete)
	}()
}

func (c *Coordinator) commit(userID string, gen uint64, complete bool) {
	c.mu.Lock()

	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}

	if userID != c.last.userID || !c.last.authenticated || gen <= c.committed {
		log.LogTraceWithFields("navigation", "Dropped stale profile check", map[string]any{
			"user_id": userID,
		})
		c.mu.Unlock()
		return
	}
	c.committed = gen
	c.checked = true
	c.complete = complete

	notify := c.updateDecisionLocked()
	c.mu.Unlock()
	notify()
}

func (c *Coordinator) stateLocked() State {
	return State{
		IsAuthenticated:   c.last.authenticated,
		ProfileChecked:    c.checked,
		IsProfileComplete: c.complete,
		Role:              c.last.role,
	}
}

// updateDecisionLocked recomputes the decision and returns a function that
// notifies listeners if it changed. Call the result without holding mu.
func (c *Coordinator) updateDecisionLocked() func() {
	next := Resolve(c.stateLocked())
	if next == c.decision {
		return func() {}
	}
	c.decision = next

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Decision), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}

	log.LogDebugWithFields("navigation", "Route changed", map[string]any{
		"decision": next.String(),
	})
	return func() {
		for _, fn := range fns {
			fn(next)
		}
	}
}
