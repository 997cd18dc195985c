package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/conneroisu/playground/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect playground configuration",
	Long: `Inspect the resolved playground configuration.

Examples:
  playground config show               # Show the effective configuration
  playground config show --format json # Same, as JSON
  playground config validate           # Check .playground.yml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after the config file, PLAYGROUND_ environment
variables, flags and defaults have been applied.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := config.Load(); err != nil {
			return err
		}
		source := viper.ConfigFileUsed()
		if source == "" {
			source = "defaults"
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "✓ configuration valid (%s)\n", source)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format (yaml, json)")
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}
