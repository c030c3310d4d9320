package main

import (
	"fmt"

	"github.com/artpar/billmeter/domain/ident"
	"github.com/spf13/cobra"
)

var statsUser string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored user and event counts",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsUser, "user", "", "also count events for this user")
}

func runStats(cmd *cobra.Command, args []string) error {
	core, cfg, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	users, err := core.DB.CountUsers(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Users: %d\n", users)

	if statsUser == "" {
		return nil
	}
	parser, err := ident.NewParser(ident.Scheme(cfg.Identity.UserIDScheme))
	if err != nil {
		return err
	}
	id, err := parser.Parse(statsUser)
	if err != nil {
		return err
	}
	events, err := core.DB.CountEvents(cmd.Context(), id.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Events for %s: %d\n", id, events)
	return nil
}
