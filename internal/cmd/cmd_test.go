package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dgellow/medfix/internal"
	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/config"
	"github.com/dgellow/medfix/internal/edge"
	"github.com/dgellow/medfix/internal/navigation"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// harness runs commands against one in-memory platform and one saved
// session, the way consecutive invocations share a backend and a file.
type harness struct {
	mem       *backend.Memory
	snapshots *storage.MemoryStorage
	env       *environment
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	prev := interactive
	interactive = func() bool { return false }
	t.Cleanup(func() { interactive = prev })

	mem, err := backend.NewMemory()
	require.NoError(t, err)

	h := &harness{mem: mem, snapshots: storage.NewMemoryStorage()}
	cfg := config.Config{
		BackendURL:    "memory://test",
		AnonKey:       "test",
		ResetRedirect: config.DefaultResetRedirect,
		Profile:       config.ProfileStorageConfig{Kind: config.ProfileStorageBackend},
	}
	h.env = &environment{
		loadConfig: func() (config.Config, error) { return cfg, nil },
		newApp: func(ctx context.Context, cfg config.Config) (*internal.App, error) {
			return internal.NewApp(ctx, cfg, internal.WithPlatform(h.mem), internal.WithSnapshotStore(h.snapshots))
		},
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(h.env)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func decodeAction(t *testing.T, out string) actionOutput {
	t.Helper()
	var got actionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

func TestRootSubcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"signin", "signup", "reset-password", "signout", "whoami", "route", "profile", "requests", "env", "demo"}

	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestDoctorJourney(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "signup", "--email", "ada@example.com", "--password", "secret1", "--confirm-password", "secret1", "-o", "json")
	got := decodeAction(t, out)
	assert.Equal(t, "Account created and signed in", got.Message)
	assert.Equal(t, navigation.Decision{Route: navigation.CompleteProfile}, got.Route)

	// the next invocation restores the saved session
	out = h.mustRun(t, "route", "-o", "json")
	assert.JSONEq(t, `{"route":"CompleteProfile","loading":false}`, out)

	out = h.mustRun(t, "profile", "complete", "--name", "Ada Lovelace", "--role", "doctor", "-o", "json")
	got = decodeAction(t, out)
	assert.Equal(t, "doctor", got.Role)
	assert.Equal(t, navigation.Decision{Route: navigation.Doctor}, got.Route)

	out = h.mustRun(t, "requests", "create", "--device", "MRI-2", "--description", "coil fault", "-o", "json")
	var created requestOutput
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotNil(t, created.Request)
	assert.Equal(t, "MRI-2", created.Request.DeviceName)
	assert.Equal(t, "pending", created.Request.Status)

	out = h.mustRun(t, "requests", "list", "-o", "json")
	var listed struct {
		Requests []edge.MaintenanceRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Requests, 1)
	assert.Equal(t, "coil fault", listed.Requests[0].Description)

	out = h.mustRun(t, "whoami", "-o", "json")
	var who whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &who))
	assert.True(t, who.Authenticated)
	assert.Equal(t, "ada@example.com", who.Email)
	assert.Equal(t, "doctor", who.Role)

	out = h.mustRun(t, "profile", "show", "-o", "json")
	assert.Contains(t, out, `"name": "Ada Lovelace"`)

	out = h.mustRun(t, "signout", "-o", "json")
	got = decodeAction(t, out)
	assert.Equal(t, "Signed out successfully", got.Message)
	assert.Equal(t, navigation.Decision{Route: navigation.Auth}, got.Route)

	_, err := h.snapshots.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	out = h.mustRun(t, "signin", "--email", "ada@example.com", "--password", "secret1", "-o", "json")
	got = decodeAction(t, out)
	assert.Equal(t, "doctor", got.Role)
	assert.Equal(t, navigation.Decision{Route: navigation.Doctor}, got.Route)
}

func TestEngineerLandsOnDashboard(t *testing.T) {
	h := newHarness(t)

	h.mustRun(t, "signup", "--email", "grace@example.com", "--password", "secret1", "--confirm-password", "secret1")
	out := h.mustRun(t, "profile", "complete", "--name", "Grace Hopper", "--role", "engineer")
	assert.Contains(t, out, "Next: EngineerDashboard")
}

func TestSignInErrors(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "signup", "--email", "ada@example.com", "--password", "secret1", "--confirm-password", "secret1")
	h.mustRun(t, "signout")

	t.Run("rejected credentials", func(t *testing.T) {
		_, err := h.run(t, "signin", "--email", "ada@example.com", "--password", "wrong12")
		assert.EqualError(t, err, "Invalid login credentials")
	})

	t.Run("missing fields without a terminal", func(t *testing.T) {
		_, err := h.run(t, "signin")
		require.Error(t, err)
		assert.Equal(t, "email: Email is required; password: Password is required", err.Error())
	})

	t.Run("short password never reaches the platform", func(t *testing.T) {
		_, err := h.run(t, "signin", "--email", "ada@example.com", "--password", "123")
		assert.EqualError(t, err, "password: Password must be at least 6 characters")
	})
}

func TestSignUpMismatchedPasswords(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "signup", "--email", "ada@example.com", "--password", "secret1", "--confirm-password", "secret2")
	assert.EqualError(t, err, "confirmPassword: Passwords must match")
}

func TestCommandsRequireSession(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		{"requests", "list"},
		{"requests", "create", "--device", "x", "--description", "y"},
		{"profile", "show"},
		{"profile", "complete", "--name", "Ada", "--role", "doctor"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := h.run(t, args...)
			assert.True(t, errors.Is(err, errNotSignedIn), "got %v", err)
		})
	}
}

func TestProfileCompleteValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "profile", "complete", "--name", "Ada", "--role", "admin")
	assert.EqualError(t, err, "Role is required")
}

func TestSignOutWhenSignedOut(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "signout")
	assert.Equal(t, "Not signed in\nNext: Auth\n", out)
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "reset-password", "--email", "Ada@Example.com")
	assert.Contains(t, out, "Password reset email sent successfully")
	assert.Equal(t, []string{"ada@example.com"}, h.mem.ResetRequests())
}

func TestRouteOutputFormats(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "route")
	assert.Equal(t, "Auth\n", out)

	out = h.mustRun(t, "route", "--output", "yaml")
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "Auth", decoded["route"])
	assert.Equal(t, false, decoded["loading"])

	_, err := h.run(t, "route", "--output", "xml")
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestEnvCommand(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "env", "-o", "json")

	var got envOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "memory://test", got.BackendURL)
	assert.True(t, got.AnonKeySet)
	assert.Equal(t, "backend", got.ProfileStorage)
	assert.NotContains(t, out, `"test"`)
}

func TestDescribeConfigPlaceholders(t *testing.T) {
	got := describeConfig(config.Config{
		BackendURL:       config.PlaceholderBackendURL,
		AnonKey:          config.PlaceholderAnonKey,
		UsedPlaceholders: true,
		SessionFile:      "/tmp/medfix/session.json",
	})
	assert.False(t, got.AnonKeySet)
	assert.True(t, got.UsedPlaceholders)
	assert.Equal(t, "/tmp/medfix/session.json", got.SessionFile)
	assert.Contains(t, got.Warnings, "placeholder backend values in use; network calls will fail")
	assert.Contains(t, got.Errors, "MEDFIX_HTTP_TIMEOUT: timeout must be positive")
}

func TestConfigErrorStopsCommand(t *testing.T) {
	h := newHarness(t)
	h.env.loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("backend is not configured")
	}
	_, err := h.run(t, "route")
	assert.EqualError(t, err, "failed to load config: backend is not configured")
}

func TestDemo(t *testing.T) {
	out, err := runDemo(context.Background())
	require.NoError(t, err)

	routes := make([]navigation.Route, 0, len(out.Steps))
	for _, s := range out.Steps {
		assert.False(t, s.Route.Loading, s.Action)
		routes = append(routes, s.Route.Route)
	}
	assert.Equal(t, []navigation.Route{
		navigation.Auth,
		navigation.CompleteProfile,
		navigation.Doctor,
		navigation.Doctor,
		navigation.Doctor,
		navigation.Auth,
		navigation.Doctor,
		navigation.Auth,
		navigation.CompleteProfile,
		navigation.EngineerDashboard,
	}, routes)
	assert.Equal(t, "1 request(s)", out.Steps[4].Result)
}

func TestRequestListText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, outputText, requestListOutput{}))
	assert.Equal(t, "No maintenance requests\n", buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, outputText, requestListOutput{Requests: []edge.MaintenanceRequest{
		{ID: "r1", DeviceName: "MRI-2", Status: "pending"},
	}}))
	assert.Contains(t, buf.String(), "MRI-2")
	assert.Contains(t, buf.String(), "pending")
}
