// Package cmd provides the playground command-line interface.
//
// Configuration is read, highest priority first, from command-line flags,
// PLAYGROUND_<SECTION>_<OPTION> environment variables and the .playground.yml
// file. PLAYGROUND_CONFIG_FILE names an alternative config file.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "playground",
	Short: "Serve an in-browser coding playground backed by a sandbox",
	Long: `playground mounts a workspace template into a sandbox, keeps the browser
editor and the sandbox files in sync, and serves terminals into the sandbox.

Quick Start:
  playground serve                         Serve the built-in template
  playground serve -t workspace.yml        Serve a custom template
  playground template show                 Print the built-in template
  playground template validate file.yml    Check a template`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .playground.yml, can also use PLAYGROUND_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (text, json)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// bindFlags binds each named flag of fs to its config key.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("PLAYGROUND_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("PLAYGROUND_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".playground")
	}

	viper.SetEnvPrefix("PLAYGROUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = cfg.Log.Format
	return logging.NewLogger(lc), nil
}
