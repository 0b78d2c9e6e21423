package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/taskshell/internal/config"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML with secrets redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(redact(appInstance.Config()))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func redact(cfg config.Config) config.Config {
	if cfg.Auth.APIKey != "" {
		cfg.Auth.APIKey = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if cfg.Storage.MinIO.SecretAccessKey != "" {
		cfg.Storage.MinIO.SecretAccessKey = redacted
	}
	if cfg.Storage.Postgres.DSN != "" {
		// DSNs may carry a password.
		cfg.Storage.Postgres.DSN = redacted
	}
	return cfg
}
