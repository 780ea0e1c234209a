package cmd

import (
	"github.com/dgellow/medfix/internal"
	"github.com/spf13/cobra"
)

func newRequestsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"request"},
		Short:   "File and list device maintenance requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newRequestsCreateCmd(opts), newRequestsListCmd(opts))
	return cmd
}

func newRequestsCreateCmd(opts *rootOptions) *cobra.Command {
	var device, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a maintenance request for a device",
		Long: `File a maintenance request for a device. The request is created as the
signed-in doctor and starts out pending until an engineer picks it up.

Examples:
  medfix requests create --device "Infusion pump 7" --description "occlusion alarm"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := promptRequest(&device, &description); err != nil {
				return err
			}

			return opts.withApp(cmd, func(app *internal.App) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}
				req, err := app.CreateRequest(cmd.Context(), device, description)
				if err != nil {
					return err
				}
				return opts.print(cmd, requestOutput{Request: req})
			})
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Device name")
	cmd.Flags().StringVar(&description, "description", "", "What is wrong with the device")
	return cmd
}

func newRequestsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your maintenance requests",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *internal.App) error {
				if err := requireSignedIn(app); err != nil {
					return err
				}
				reqs, err := app.DoctorRequests(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd, requestListOutput{Requests: reqs})
			})
		},
	}
}
