package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/medfix/internal"
	"github.com/dgellow/medfix/internal/auth"
	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/config"
	"github.com/dgellow/medfix/internal/profile"
	"github.com/dgellow/medfix/internal/role"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/spf13/cobra"
)

const demoPassword = "medfix-demo"

func newDemoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Walk through a doctor and an engineer session against an in-process backend",
		Long: `Run a scripted session against an in-process platform: a doctor signs up,
completes the profile, files and lists a request and signs out, then an
engineer does the same up to the engineer dashboard. Nothing leaves the
process and no saved session is touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := runDemo(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, out)
		},
	}
}

type demoRun struct {
	ctx   context.Context
	app   *internal.App
	steps []demoStep
}

func (d *demoRun) step(action string, run func() (string, error)) error {
	result, err := run()
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	decision, err := d.app.Route(d.ctx)
	if err != nil {
		return err
	}
	d.steps = append(d.steps, demoStep{Action: action, Result: result, Route: decision})
	return nil
}

func (d *demoRun) signUp(email string) error {
	return d.step("signup "+email, func() (string, error) {
		res := d.app.SignUp(d.ctx, email, demoPassword, demoPassword)
		if !res.Success {
			return "", errors.New(res.Error)
		}
		return "account created", nil
	})
}

func (d *demoRun) completeProfile(name string, r role.Role) error {
	return d.step("profile complete "+string(r), func() (string, error) {
		got, err := d.app.CompleteProfile(d.ctx, profile.Form{Name: name, Role: r})
		if err != nil {
			return "", err
		}
		return "role " + string(got), nil
	})
}

func (d *demoRun) signOut() error {
	return d.step("signout", func() (string, error) {
		res := d.app.SignOut(d.ctx)
		if !res.Success {
			return "", errors.New(res.Error)
		}
		return res.Data.(auth.MessageData).Message, nil
	})
}

func runDemo(ctx context.Context) (demoOutput, error) {
	mem, err := backend.NewMemory()
	if err != nil {
		return demoOutput{}, err
	}
	cfg := config.Config{
		BackendURL:    "memory://demo",
		AnonKey:       "demo",
		ResetRedirect: config.DefaultResetRedirect,
		Profile:       config.ProfileStorageConfig{Kind: config.ProfileStorageBackend},
	}
	app, err := internal.NewApp(ctx, cfg,
		internal.WithPlatform(mem),
		internal.WithSnapshotStore(storage.NewMemoryStorage()),
	)
	if err != nil {
		return demoOutput{}, err
	}
	defer func() { _ = app.Close() }()

	d := &demoRun{ctx: ctx, app: app}

	if err := d.step("start", func() (string, error) { return "signed out", nil }); err != nil {
		return demoOutput{}, err
	}
	if err := d.signUp("ada@demo.medfix"); err != nil {
		return demoOutput{}, err
	}
	if err := d.completeProfile("Ada Lovelace", role.Doctor); err != nil {
		return demoOutput{}, err
	}
	err = d.step("requests create", func() (string, error) {
		req, err := app.CreateRequest(ctx, "MRI-2", "Gradient coil overheating")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s", req.DeviceName, req.Status), nil
	})
	if err != nil {
		return demoOutput{}, err
	}
	err = d.step("requests list", func() (string, error) {
		reqs, err := app.DoctorRequests(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d request(s)", len(reqs)), nil
	})
	if err != nil {
		return demoOutput{}, err
	}
	if err := d.signOut(); err != nil {
		return demoOutput{}, err
	}
	err = d.step("signin ada@demo.medfix", func() (string, error) {
		res := app.SignIn(ctx, "ada@demo.medfix", demoPassword)
		if !res.Success {
			return "", errors.New(res.Error)
		}
		return "role " + string(res.Data.(auth.SignInData).Role), nil
	})
	if err != nil {
		return demoOutput{}, err
	}
	if err := d.signOut(); err != nil {
		return demoOutput{}, err
	}
	if err := d.signUp("grace@demo.medfix"); err != nil {
		return demoOutput{}, err
	}
	if err := d.completeProfile("Grace Hopper", role.Engineer); err != nil {
		return demoOutput{}, err
	}

	return demoOutput{Steps: d.steps}, nil
}
