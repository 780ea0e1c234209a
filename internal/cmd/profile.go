package cmd

import (
	"fmt"

	"github.com/dgellow/medfix/internal"
	"github.com/dgellow/medfix/internal/profile"
	"github.com/dgellow/medfix/internal/role"
	"github.com/spf13/cobra"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Complete or show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newProfileCompleteCmd(opts), newProfileShowCmd(opts))
	return cmd
}

func newProfileCompleteCmd(opts *rootOptions) *cobra.Command {
	var name, selected string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Set your name and role",
		Long: `Set your full name and role. New accounts must do this once before
they can use the platform.

Examples:
  medfix profile complete --name "Grace Hopper" --role engineer`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptProfile(&name, &selected); err != nil {
				return err
			}
			form := profile.Form{Name: name, Role: role.Role(selected)}
			if ferr := profile.ValidateForm(form); ferr != nil {
				return ferr
			}

			return opts.withApp(cmd, func(app *internal.App) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}

				r, err := app.CompleteProfile(cmd.Context(), form)
				if err != nil {
					return err
				}
				decision, err := app.Route(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, actionOutput{
					Message: fmt.Sprintf("Profile saved, you are signed in as %s", r),
					Email:   app.Store().Snapshot().AuthEmail,
					Role:    string(r),
					Route:   decision,
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&selected, "role", "", "Role: doctor or engineer")
	return cmd
}

func newProfileShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show your stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *internal.App) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}
				p, err := app.Profiles().Fetch(cmd.Context(), app.Store().Snapshot().UserID())
				if err != nil {
					return err
				}
				return opts.print(cmd, profileOutput{ID: p.ID, Email: p.Email, Name: p.Name, Role: p.Role})
			})
		},
	}
}
