package main

import (
	"fmt"

	"github.com/artpar/billmeter/adapters/sqlstore"
	"github.com/artpar/billmeter/bootstrap"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the database schema",
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create the tables for the configured driver and user id scheme",
	Long: `Create users, events, api_keys and the per-kind detail tables.

Applying is idempotent: versions already recorded in schema_migrations
are skipped.`,
	RunE: runSchemaApply,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaApplyCmd)
}

func runSchemaApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sqlstore.Open(bootstrap.StoreOptions(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%s, user ids: %s)\n", db.Dialect().Name(), cfg.Identity.UserIDScheme)
	return nil
}
