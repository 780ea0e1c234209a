// Package cmd implements the medfix command line. Each command plays the part
// of one client screen: it restores the saved session, runs a single action
// against the platform and prints where the client would navigate next.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/medfix/internal"
	"github.com/dgellow/medfix/internal/config"
	"github.com/dgellow/medfix/internal/log"
	"github.com/spf13/cobra"
)

// BuildVersion is set at link time.
var BuildVersion = "dev"

// environment is what commands use to reach the outside world. Tests swap
// it for an in-memory platform.
type environment struct {
	loadConfig func() (config.Config, error)
	newApp     func(ctx context.Context, cfg config.Config) (*internal.App, error)
}

func defaultEnvironment() *environment {
	return &environment{
		loadConfig: config.Load,
		newApp: func(ctx context.Context, cfg config.Config) (*internal.App, error) {
			return internal.NewApp(ctx, cfg)
		},
	}
}

type rootOptions struct {
	output   string
	logLevel string
	env      *environment
}

// NewRootCmd builds the medfix command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultEnvironment())
}

func newRootCmd(env *environment) *cobra.Command {
	opts := &rootOptions{env: env}

	root := &cobra.Command{
		Use:   "medfix",
		Short: "Client for the MedFix hospital device maintenance platform",
		Long: `medfix signs you in to the MedFix platform, completes your profile and
files or lists device maintenance requests.

The session is saved between runs, so after "medfix signin" the other
commands act as the signed-in user until "medfix signout".

Configuration is read from the environment (and a .env file):
  MEDFIX_BACKEND_URL       platform URL
  MEDFIX_BACKEND_ANON_KEY  platform public key
  MEDFIX_ENV=dev           allow running without the two above

Examples:
  medfix signin --email doc@hospital.org
  medfix profile complete --name "Ada Lovelace" --role doctor
  medfix requests create --device "MRI-2" --description "coil fault"
  medfix route --output json`,
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				if err := log.SetLogLevel(opts.logLevel); err != nil {
					return err
				}
			}
			return validateOutput(opts.output)
		},
	}

	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text, json or yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: error, warn, info, debug or trace")

	root.AddCommand(
		newSignInCmd(opts),
		newSignUpCmd(opts),
		newResetPasswordCmd(opts),
		newSignOutCmd(opts),
		newWhoamiCmd(opts),
		newRouteCmd(opts),
		newProfileCmd(opts),
		newRequestsCmd(opts),
		newEnvCmd(opts),
		newDemoCmd(opts),
	)

	return root
}

// ExecuteContext runs the command line with the process arguments.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// openApp builds the client and restores the saved session. A session that
// cannot be refreshed because the platform is unreachable is kept on disk
// and the command runs signed out.
func (o *rootOptions) openApp(cmd *cobra.Command) (*internal.App, error) {
	cfg, err := o.env.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.UsedPlaceholders {
		log.LogWarnWithFields("cmd", "Running with placeholder backend values, requests will fail", nil)
	}

	app, err := o.env.newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := app.Restore(cmd.Context()); err != nil {
		log.LogWarnWithFields("cmd", "Could not restore saved session", map[string]any{
			"error": err.Error(),
		})
	}
	return app, nil
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(app *internal.App) error) error {
	app, err := o.openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.LogWarnWithFields("cmd", "Failed to close client", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	return fn(app)
}

func (o *rootOptions) print(cmd *cobra.Command, v any) error {
	return render(cmd.OutOrStdout(), o.output, v)
}

// requireSignedIn fails with the message a screen shows when it finds no
// session.
func requireSignedIn(app *internal.App) error {
	if !app.Store().IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}

var errNotSignedIn = errors.New(`not signed in, run "medfix signin" first`)

