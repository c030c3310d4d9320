package main

import (
	"fmt"
	"strings"

	apihttp "github.com/artpar/billmeter/adapters/http"
	"github.com/artpar/billmeter/domain/event"
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Price a user's usage",
	Long: `Answer a REQUEST_* query for one user.

Types:
  sdk       REQUEST_SDK_CALL: sum of SDK call debits
  ai        REQUEST_AI_TOKEN_USAGE: sum of input and output token debits
  payment   REQUEST_PAYMENT: sdk + ai, the amount owed

Examples:
  billmeter price --user <id>
  billmeter price --user <id> --type sdk --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z`,
	RunE: runPrice,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show payments minus the amount owed",
	RunE:  runBalance,
}

var (
	priceUser string
	priceType string
	priceFrom string
	priceTo   string
)

func init() {
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(balanceCmd)

	for _, c := range []*cobra.Command{priceCmd, balanceCmd} {
		c.Flags().StringVar(&priceUser, "user", "", "user id (required)")
		c.Flags().StringVar(&priceFrom, "from", "", "window start, inclusive (RFC 3339)")
		c.Flags().StringVar(&priceTo, "to", "", "window end, exclusive (RFC 3339)")
		c.MarkFlagRequired("user")
	}
	priceCmd.Flags().StringVar(&priceType, "type", "payment", "sdk, ai or payment")
}

func requestKind(name string) (event.Kind, error) {
	switch strings.ToLower(name) {
	case "sdk", "sdk_call":
		return event.KindRequestSDKCall, nil
	case "ai", "ai_token_usage":
		return event.KindRequestAITokenUsage, nil
	case "payment", "owed":
		return event.KindRequestPayment, nil
	default:
		return "", fmt.Errorf("unknown price type %q (want sdk, ai or payment)", name)
	}
}

func window() (event.RequestData, error) {
	var w event.RequestData
	if priceFrom != "" {
		t, err := event.ParseTimestamp(priceFrom)
		if err != nil {
			return w, fmt.Errorf("--from: %w", err)
		}
		w.From = &t
	}
	if priceTo != "" {
		t, err := event.ParseTimestamp(priceTo)
		if err != nil {
			return w, fmt.Errorf("--to: %w", err)
		}
		w.To = &t
	}
	return w, nil
}

func runPrice(cmd *cobra.Command, args []string) error {
	kind, err := requestKind(priceType)
	if err != nil {
		return err
	}
	w, err := window()
	if err != nil {
		return err
	}

	var req event.Request
	switch kind {
	case event.KindRequestSDKCall:
		req = event.NewRequestSDKCall(priceUser, w)
	case event.KindRequestAITokenUsage:
		req = event.NewRequestAITokenUsage(priceUser, w)
	default:
		req = event.NewRequestPayment(priceUser, w)
	}

	core, _, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	amount, err := core.Dispatcher.PriceEvent(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), apihttp.PriceResponse{Type: kind, UserID: priceUser, Amount: amount})
}

func runBalance(cmd *cobra.Command, args []string) error {
	w, err := window()
	if err != nil {
		return err
	}

	core, _, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	amount, err := core.Pricing.Balance(cmd.Context(), priceUser, w)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), apihttp.PriceResponse{Type: "BALANCE", UserID: priceUser, Amount: amount})
}
