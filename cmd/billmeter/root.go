package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/artpar/billmeter/bootstrap"
	"github.com/artpar/billmeter/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billmeter",
	Short: "Event storage and pricing engine for metered billing",
	Long: `billmeter stores SDK calls, AI token usage, payments and API keys,
and answers "how much does this user owe" from what it stored.

Quick start:
  billmeter schema apply   # Create tables
  billmeter keys create --name ci
  billmeter serve          # Start the HTTP API

Queries:
  billmeter price --user <id> --type payment
  billmeter balance --user <id>
  billmeter stats`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "billmeter.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}

// loadEnvFile loads path when present. Variables already set in the
// environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openCore opens the store for one-shot commands. Logs go to stderr so
// stdout stays machine readable.
func openCore(ctx context.Context) (*bootstrap.Core, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := bootstrap.NewLogger("warn", "console", os.Stderr)
	core, err := bootstrap.OpenCore(ctx, cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return core, cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
