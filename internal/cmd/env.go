package cmd

import (
	"github.com/dgellow/medfix/internal/config"
	"github.com/dgellow/medfix/internal/storage"
	"github.com/spf13/cobra"
)

func newEnvCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Check the backend configuration",
		Long: `Print the backend configuration medfix would use, without contacting
the platform. The anon key itself is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.env.loadConfig()
			if err != nil {
				return err
			}
			return opts.print(cmd, describeConfig(cfg))
		},
	}
}

func describeConfig(cfg config.Config) envOutput {
	sessionFile := cfg.SessionFile
	if sessionFile == "" {
		sessionFile, _ = storage.DefaultSnapshotPath()
	}
	out := envOutput{
		BackendURL:       cfg.BackendURL,
		AnonKeySet:       cfg.AnonKey != "" && cfg.AnonKey != config.PlaceholderAnonKey,
		UsedPlaceholders: cfg.UsedPlaceholders,
		ProfileStorage:   string(cfg.Profile.Kind),
		SessionFile:      sessionFile,
		ResetRedirect:    cfg.ResetRedirect,
	}

	result := config.Check(&cfg)
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, issue(e))
	}
	for _, w := range result.Warnings {
		out.Warnings = append(out.Warnings, issue(w))
	}
	return out
}

func issue(v config.ValidationError) string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}
