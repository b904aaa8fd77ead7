package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the build configuration",
	Long:  `Show and validate the effective configuration after defaults, config file and environment.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Show the configuration fluxpack would build with. Secrets are redacted.

Examples:
  fluxpack config show
  fluxpack config show -o json`,
	PreRunE: loadConfig,
	RunE:    runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration without building.

Examples:
  fluxpack config validate --config ./configs/fluxpack.yaml`,
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		GetFormatter().PrintSuccess("Configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	f := GetFormatter()
	shown := redacted(cfg)
	if f.Format == output.FormatTable {
		// Tables have no nesting; fall back to YAML.
		return output.NewFormatterTo(output.FormatYAML, f.Writer, f.NoHeaders, f.Quiet).Print(shown)
	}
	return f.Print(shown)
}

// redacted returns a copy of c with credentials masked.
func redacted(c *config.Config) config.Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[redacted]"
	}
	out.Publish.S3SecretKey = mask(out.Publish.S3SecretKey)
	out.Cache.RedisURL = mask(out.Cache.RedisURL)
	out.Notify.RedisURL = mask(out.Notify.RedisURL)
	return out
}
