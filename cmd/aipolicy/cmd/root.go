// Package cmd provides the CLI commands for aipolicy.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aipolicy/internal/config"
)

var cfgFile string
var envFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "aipolicy",
	Short: "aipolicy - AI-gated role and action policy engine",
	Long: `aipolicy is an authorization engine that grants roles and authorizes
actions on the strength of AI decisions.

An AI oracle submits decisions carrying a confidence and a risk score; the
engine checks them against per-role confidence floors and a global risk
ceiling, records every accepted decision in a tamper-evident audit trail,
and emits notifications for grants, executions and security audits.

Quick start:
  1. Create a config file: aipolicy.yaml
  2. Run: aipolicy start

Configuration:
  Config is loaded from aipolicy.yaml in the current directory,
  $HOME/.aipolicy/, or /etc/aipolicy/. A .env file is read first.

  Environment variables can override config values with the AIPOLICY_ prefix.
  Example: AIPOLICY_SERVER_HTTP_ADDR=:9090

Commands:
  start         Start the policy server
  stop          Stop the running server
  reset         Reset to clean state (remove state.json)
  hash-key      Hash an API key for the config file
  token         Mint a bearer JWT for an identity
  audit verify  Verify the hash chain of a sqlite audit trail
  config show   Print the effective configuration
  version       Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aipolicy.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before the config (default: ./.env)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: state.path from config)")
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	config.InitViper(cfgFile)
}

// resolveStatePath applies the precedence CLI flag > config.
func resolveStatePath(cfg *config.Config) string {
	if stateFilePath != "" {
		return stateFilePath
	}
	return cfg.State.Path
}
