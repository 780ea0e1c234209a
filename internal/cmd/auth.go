package cmd

import (
	"errors"
	"fmt"

	"github.com/dgellow/medfix/internal"
	"github.com/dgellow/medfix/internal/auth"
	"github.com/spf13/cobra"
)

// Fallback messages for failures that arrive without a message of their own.
const (
	msgSignInFailed = "Sign in failed"
	msgSignUpFailed = "Sign up failed"
	msgResetFailed  = "Password reset failed"
)

func resultError(res auth.Result, fallback string) error {
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return errors.New(fallback)
}

func newSignInCmd(opts *rootOptions) *cobra.Command {
	var form auth.SignInForm

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password and save the session.

Missing flags are prompted for when running in a terminal.

Examples:
  medfix signin --email doc@hospital.org --password s3cret!`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptSignIn(&form); err != nil {
				return err
			}
			if err := fieldError(form.Validate(), "email", "password"); err != nil {
				return err
			}

			return opts.withApp(cmd, func(app *internal.App) error {
				res := app.SignIn(cmd.Context(), form.Email, form.Password)
				if !res.Success {
					return resultError(res, msgSignInFailed)
				}
				data := res.Data.(auth.SignInData)
				email := form.Email
				if data.User != nil && data.User.Email != "" {
					email = data.User.Email
				}

				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, actionOutput{
					Message: fmt.Sprintf("Signed in as %s", email),
					Email:   email,
					Role:    string(data.Role),
					Route:   decision,
				})
			})
		},
	}

	cmd.Flags().StringVar(&form.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password")
	return cmd
}

func newSignUpCmd(opts *rootOptions) *cobra.Command {
	var form auth.SignUpForm

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Long: `Create an account. If the platform signs the new account in straight
away, the next step is completing your profile; otherwise confirm your email
and run "medfix signin".

Examples:
  medfix signup --email eng@hospital.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptSignUp(&form); err != nil {
				return err
			}
			if err := fieldError(form.Validate(), "email", "password", "confirmPassword"); err != nil {
				return err
			}

			return opts.withApp(cmd, func(app *internal.App) error {
				res := app.SignUp(cmd.Context(), form.Email, form.Password, form.ConfirmPassword)
				if !res.Success {
					return resultError(res, msgSignUpFailed)
				}
				data := res.Data.(auth.SignUpData)

				msg := "Account created, check your email to confirm it"
				if data.Session != nil {
					msg = "Account created and signed in"
				}
				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, actionOutput{
					Message: msg,
					Email:   form.Email,
					Route:   decision,
				})
			})
		},
	}

	cmd.Flags().StringVar(&form.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password (at least 6 characters)")
	cmd.Flags().StringVar(&form.ConfirmPassword, "confirm-password", "", "Password again")
	return cmd
}

func newResetPasswordCmd(opts *rootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptEmail(&email); err != nil {
				return err
			}
			if err := auth.ValidateEmail(email); err != nil {
				return fmt.Errorf("email: %w", err)
			}

			return opts.withApp(cmd, func(app *internal.App) error {
				res := app.ResetPassword(cmd.Context(), email)
				if !res.Success {
					return resultError(res, msgResetFailed)
				}
				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, actionOutput{
					Message: res.Data.(auth.MessageData).Message,
					Email:   email,
					Route:   decision,
				})
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the account")
	return cmd
}

func newSignOutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *internal.App) error {
				msg := auth.MsgSignedOut
				if app.Store().IsAuthenticated() {
					res := app.SignOut(cmd.Context())
					if !res.Success {
						// the local session is gone either way
						msg = fmt.Sprintf("Signed out locally (%s)", res.Error)
					}
				} else {
					msg = "Not signed in"
				}

				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, actionOutput{Message: msg, Route: decision})
			})
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *internal.App) error {
				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}

				snap := app.Store().Snapshot()
				out := whoamiOutput{
					Authenticated: snap.IsAuthenticated(),
					Email:         snap.AuthEmail,
					UserID:        snap.UserID(),
					Role:          snap.UserRole,
					Route:         decision,
				}
				if snap.User != nil && out.Email == "" {
					out.Email = snap.User.Email
				}
				if snap.Session != nil && snap.Session.Token != nil && !snap.Session.Token.Expiry.IsZero() {
					expiry := snap.Session.Token.Expiry
					out.ExpiresAt = &expiry
				}
				return opts.print(cmd, out)
			})
		},
	}
}

func newRouteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Print the screen the client would show",
		Long: `Print the screen the client would show for the saved session:
Auth, CompleteProfile, EngineerDashboard, Doctor or MainApp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *internal.App) error {
				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, decision)
			})
		},
	}
}
