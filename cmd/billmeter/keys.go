package main

import (
	"fmt"
	"time"

	"github.com/artpar/billmeter/adapters/clock"
	"github.com/artpar/billmeter/adapters/hasher"
	"github.com/artpar/billmeter/adapters/random"
	"github.com/artpar/billmeter/domain/apikey"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/ports"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage billmeter API keys.

SDK_CALL and AI_TOKEN_USAGE events must reference an API key id. Keys are
stored as ADD_KEY events; only the bcrypt hash of the raw key is kept.

Examples:
  billmeter keys create --name ci
  billmeter keys create --name partner --ttl 720h`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var (
	keyName string
	keyTTL  time.Duration

	keyClock ports.Clock = clock.Real{}
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysCreateCmd)

	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (required)")
	keysCreateCmd.Flags().DurationVar(&keyTTL, "ttl", 0, "time until the key expires (0 = never)")
	keysCreateCmd.MarkFlagRequired("name")
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	core, cfg, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	issued, err := apikey.Issue(random.Real{}, hasher.NewBcrypt(cfg.Keys.BcryptCost), apikey.Params{
		Prefix: cfg.Keys.Prefix,
		Name:   keyName,
		TTL:    keyTTL,
	}, keyClock.Now())
	if err != nil {
		return err
	}

	res, err := core.Dispatcher.AddEvent(cmd.Context(), "", event.NewAddKey(issued.Data))
	if err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key created\n")
	fmt.Fprintf(out, "  ID:   %s\n", res.ID)
	fmt.Fprintf(out, "  Name: %s\n", keyName)
	if issued.Data.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", event.FormatTimestamp(*issued.Data.ExpiresAt))
	}
	fmt.Fprintf(out, "\n  Key: %s\n\n", issued.Raw)
	fmt.Fprintln(out, "Save this key now. It cannot be shown again.")
	return nil
}
