package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/medfix/internal/auth"
	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/config"
	"github.com/dgellow/medfix/internal/edge"
	"github.com/dgellow/medfix/internal/log"
	"github.com/dgellow/medfix/internal/navigation"
	"github.com/dgellow/medfix/internal/profile"
	"github.com/dgellow/medfix/internal/role"
	"github.com/dgellow/medfix/internal/session"
	"github.com/dgellow/medfix/internal/storage"
)

// ErrBusy is returned when an action is started while another is running.
var ErrBusy = errors.New("another request is already in progress")

// Platform is everything the app needs from the hosted backend.
type Platform interface {
	backend.Backend
	backend.FunctionInvoker
	storage.ProfileStore
}

// App is the medfix client: one session store, the services acting on it and
// the navigation coordinator watching it.
type App struct {
	config    config.Config
	platform  Platform
	store     *session.Store
	gateway   *auth.Gateway
	roles     *role.Resolver
	functions *edge.Functions
	nav       *navigation.Coordinator
	profiles  *profile.Service
	snapshots storage.SnapshotStore

	busy    atomic.Bool
	closeMu sync.Mutex
	closers []func() error
}

// Option configures the app
type Option func(*options)

type options struct {
	platform  Platform
	snapshots storage.SnapshotStore
}

// WithPlatform replaces the HTTP client, e.g. with backend.Memory
func WithPlatform(p Platform) Option {
	return func(o *options) {
		o.platform = p
	}
}

// WithSnapshotStore replaces the session file
func WithSnapshotStore(s storage.SnapshotStore) Option {
	return func(o *options) {
		o.snapshots = s
	}
}

// NewApp builds the app from cfg and starts the navigation coordinator on ctx.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log.LogDebugWithFields("medfix", "Building client", map[string]any{
		"backend":         cfg.BackendURL,
		"anon_key":        log.Redact(string(cfg.AnonKey)),
		"profile_storage": string(cfg.Profile.Kind),
	})

	app := &App{config: cfg}

	platform := o.platform
	if platform == nil {
		platform = backend.NewClient(cfg.BackendURL, string(cfg.AnonKey),
			backend.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		)
	}
	app.platform = platform

	profileStore, err := app.setupProfileStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup profile storage: %w", err)
	}

	snapshots := o.snapshots
	if snapshots == nil {
		snapshots = setupSnapshotStore(cfg)
	}
	app.snapshots = snapshots

	app.store = session.NewStore()
	app.functions = edge.New(platform, platform)
	app.roles = role.NewResolver(app.functions)
	app.gateway = auth.NewGateway(platform, app.roles, auth.WithResetRedirect(cfg.ResetRedirect))
	app.nav = navigation.NewCoordinator(app.store, app.roles)
	app.profiles = profile.NewService(platform, profileStore, app.roles, app.store, app.nav)

	app.nav.Start(ctx)
	return app, nil
}

func (a *App) setupProfileStore(ctx context.Context, cfg config.Config) (storage.ProfileStore, error) {
	switch cfg.Profile.Kind {
	case config.ProfileStorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore profile storage", map[string]any{
			"project":    cfg.Profile.GCPProject,
			"database":   cfg.Profile.Database,
			"collection": cfg.Profile.Collection,
		})
		fs, err := storage.NewFirestoreStorage(ctx, cfg.Profile.GCPProject, cfg.Profile.Database, cfg.Profile.Collection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fs.Close)
		return fs, nil
	case config.ProfileStorageMemory:
		log.LogInfoWithFields("storage", "Using in-memory profile storage", nil)
		return storage.NewMemoryStorage(), nil
	default:
		return a.platform, nil
	}
}

func setupSnapshotStore(cfg config.Config) storage.SnapshotStore {
	path := cfg.SessionFile
	if path == "" {
		var err error
		path, err = storage.DefaultSnapshotPath()
		if err != nil {
			log.LogWarnWithFields("storage", "No config directory, session will not persist", map[string]any{
				"error": err.Error(),
			})
			return storage.NewMemoryStorage()
		}
	}
	return storage.NewFileSnapshotStore(path)
}

func (a *App) Config() config.Config { return a.config }
func (a *App) Store() *session.Store { return a.store }
func (a *App) Navigation() *navigation.Coordinator { return a.nav }
func (a *App) Roles() *role.Resolver { return a.roles }
func (a *App) Gateway() *auth.Gateway { return a.gateway }
func (a *App) Profiles() *profile.Service { return a.profiles }
func (a *App) Functions() *edge.Functions { return a.functions }
func (a *App) SnapshotStore() storage.SnapshotStore { return a.snapshots }

// Restore loads the persisted session, refreshing it if needed, and signs
// the store in with it. A missing or dead session leaves the store empty.
func (a *App) Restore(ctx context.Context) error {
	snap, err := a.snapshots.Load(ctx)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var saved backend.Session
	if err := json.Unmarshal(snap.Session, &saved); err != nil {
		log.LogWarnWithFields("medfix", "Discarding unreadable saved session", map[string]any{
			"error": err.Error(),
		})
		return a.snapshots.Clear(ctx)
	}

	a.platform.SetSession(&saved)
	current, err := a.platform.GetSession(ctx)
	if err != nil || current == nil {
		var apiErr *backend.APIError
		if err != nil && !errors.Is(err, backend.ErrSessionExpired) && !errors.As(err, &apiErr) {
			// network trouble: keep the file for the next run
			return fmt.Errorf("restore session: %w", err)
		}
		log.LogInfoWithFields("medfix", "Saved session expired", nil)
		a.platform.SetSession(nil)
		return a.snapshots.Clear(ctx)
	}

	a.store.Login(current, current.User, snap.Role, snap.Email)
	if current.AccessToken() != saved.AccessToken() {
		return a.persist(ctx)
	}
	return nil
}

// persist writes the store's session to the snapshot store, or clears it
// when signed out.
func (a *App) persist(ctx context.Context) error {
	snap := a.store.Snapshot()
	if !snap.IsAuthenticated() {
		return a.snapshots.Clear(ctx)
	}

	data, err := json.Marshal(snap.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return a.snapshots.Save(ctx, storage.SessionSnapshot{
		Session: data,
		Email:   snap.AuthEmail,
		Role:    snap.UserRole,
		SavedAt: time.Now().UTC(),
	})
}

// begin marks an action as running. Only one runs at a time, the way a
// screen disables its submit button while a call is pending.
func (a *App) begin() (func(), error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	a.store.SetIsLoading(true)
	return func() {
		a.store.SetIsLoading(false)
		a.busy.Store(false)
	}, nil
}

func (a *App) persistOrLog(ctx context.Context) {
	if err := a.persist(ctx); err != nil {
		log.LogWarnWithFields("medfix", "Failed to persist session", map[string]any{
			"error": err.Error(),
		})
	}
}

// SignIn runs the sign-in screen's submit action.
func (a *App) SignIn(ctx context.Context, email, password string) auth.Result {
	done, err := a.begin()
	if err != nil {
		return auth.Result{Error: err.Error()}
	}
	defer done()

	a.store.SetError("")
	res := a.gateway.SignIn(ctx, email, password)
	if !res.Success {
		a.store.SetError(res.Error)
		return res
	}

	data := res.Data.(auth.SignInData)
	a.store.Login(data.Session, data.User, string(data.Role), email)
	a.persistOrLog(ctx)
	return res
}

// SignUp runs the sign-up screen's submit action. When the platform answers
// with a session the user is signed in straight away.
func (a *App) SignUp(ctx context.Context, email, password, confirmPassword string) auth.Result {
	done, err := a.begin()
	if err != nil {
		return auth.Result{Error: err.Error()}
	}
	defer done()

	a.store.SetError("")
	res := a.gateway.SignUp(ctx, email, password, confirmPassword)
	if !res.Success {
		a.store.SetError(res.Error)
		return res
	}

	data := res.Data.(auth.SignUpData)
	if data.Session != nil {
		a.store.Login(data.Session, data.User, "", email)
		a.persistOrLog(ctx)
	} else {
		a.store.SetAuthEmail(email)
	}
	return res
}

// ResetPassword runs the password reset screen's submit action.
func (a *App) ResetPassword(ctx context.Context, email string) auth.Result {
	done, err := a.begin()
	if err != nil {
		return auth.Result{Error: err.Error()}
	}
	defer done()

	res := a.gateway.ResetPassword(ctx, email)
	if !res.Success {
		a.store.SetError(res.Error)
	}
	return res
}

// SignOut ends the backend session and logs the store out, even when the
// backend call fails.
func (a *App) SignOut(ctx context.Context) auth.Result {
	done, err := a.begin()
	if err != nil {
		return auth.Result{Error: err.Error()}
	}
	defer done()

	res := a.gateway.SignOut(ctx)
	if !res.Success {
		log.LogWarnWithFields("medfix", "Backend sign out failed, signing out locally", map[string]any{
			"error": res.Error,
		})
		a.platform.SetSession(nil)
	}
	a.store.Logout()
	a.persistOrLog(ctx)
	return res
}

// CompleteProfile runs the profile screen's submit action.
func (a *App) CompleteProfile(ctx context.Context, form profile.Form) (role.Role, error) {
	done, err := a.begin()
	if err != nil {
		return "", err
	}
	defer done()

	r, err := a.profiles.Complete(ctx, form)
	if errors.Is(err, profile.ErrSessionInvalid) {
		a.platform.SetSession(nil)
	}
	a.persistOrLog(ctx)
	return r, err
}

// CreateRequest files a maintenance request as the signed-in doctor.
func (a *App) CreateRequest(ctx context.Context, deviceName, description string) (*edge.MaintenanceRequest, error) {
	done, err := a.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	return a.functions.CreateRequest(ctx, deviceName, description)
}

// DoctorRequests lists the signed-in doctor's maintenance requests.
func (a *App) DoctorRequests(ctx context.Context) ([]edge.MaintenanceRequest, error) {
	return a.functions.DoctorRequests(ctx)
}

// Route waits for pending profile checks and returns the navigation decision.
func (a *App) Route(ctx context.Context) (navigation.Decision, error) {
	if err := a.nav.WaitSettled(ctx); err != nil {
		return navigation.Decision{}, err
	}
	return a.nav.Decision(), nil
}

// Close stops the coordinator and releases storage clients.
func (a *App) Close() error {
	a.nav.Stop()

	a.closeMu.Lock()
	closers := a.closers
	a.closers = nil
	a.closeMu.Unlock()

	var errs []error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
