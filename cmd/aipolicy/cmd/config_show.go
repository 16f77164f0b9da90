package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/aipolicy/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, environment overrides and
validation, as YAML. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redactConfig(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// redactConfig returns a copy of cfg with secrets replaced.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	if out.Auth.JWT.Secret != "" {
		out.Auth.JWT.Secret = redacted
	}
	out.Notifications.Outputs = append([]config.NotifyOutputConfig(nil), cfg.Notifications.Outputs...)
	for i := range out.Notifications.Outputs {
		if out.Notifications.Outputs[i].Password != "" {
			out.Notifications.Outputs[i].Password = redacted
		}
	}
	return out
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
