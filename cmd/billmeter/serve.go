package main

import (
	"fmt"

	"github.com/artpar/billmeter/bootstrap"
	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the billmeter HTTP API.

The server will:
  - Load configuration from billmeter.yaml (or --config)
  - Or load configuration from BILLMETER_* environment variables
  - Connect to the database and apply the schema when auto_schema is on
  - Serve /v1/events, /v1/price and per-user totals
  - Buffer AI_TOKEN_USAGE writes when ingest.buffer_ai_token_usage is set

Environment variables:
  BILLMETER_DATABASE_DRIVER   - sqlite, postgres or mysql (default: sqlite)
  BILLMETER_DATABASE_DSN      - Data source name (default: billmeter.db)
  BILLMETER_SERVER_PORT       - Server port (default: 8080)
  BILLMETER_USER_ID_SCHEME    - uuid, bigint or int (default: uuid)
  BILLMETER_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  billmeter serve
  billmeter serve --config /etc/billmeter/billmeter.yaml
  BILLMETER_DATABASE_DRIVER=postgres BILLMETER_DATABASE_DSN=postgres://... billmeter serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      hotReload,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return a.Run()
}
