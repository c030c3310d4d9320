package main

import (
	"encoding/json"
	"fmt"
	"time"

	apihttp "github.com/artpar/billmeter/adapters/http"
	"github.com/artpar/billmeter/domain/event"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Store events",
	Long: `Store events without going through the HTTP API.

Examples:
  billmeter events add --api-key-id <id> --file event.json
  echo '{"SQL":{...}}' | billmeter events add --api-key-id <id>
  billmeter events batch --api-key-id <id> --file usage.json
  billmeter events payment --user <id> --amount 250.75`,
}

var eventsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store one serialized event",
	RunE:  runEventsAdd,
}

var eventsBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Store an AI_TOKEN_USAGE batch aggregated by user and model",
	RunE:  runEventsBatch,
}

var eventsPaymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Record a payment given in major currency units",
	RunE:  runEventsPayment,
}

var (
	eventFile     string
	eventAPIKeyID string
	paymentUser   string
	paymentAmount string
	paymentPlaces int32
	paymentAt     string
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.AddCommand(eventsAddCmd)
	eventsCmd.AddCommand(eventsBatchCmd)
	eventsCmd.AddCommand(eventsPaymentCmd)

	eventsCmd.PersistentFlags().StringVar(&eventAPIKeyID, "api-key-id", "", "api_keys id the events belong to")
	eventsAddCmd.Flags().StringVarP(&eventFile, "file", "f", "-", "JSON envelope file (- for stdin)")
	eventsBatchCmd.Flags().StringVarP(&eventFile, "file", "f", "-", `JSON file with {"events":[...]} or an array of envelopes`)

	eventsPaymentCmd.Flags().StringVar(&paymentUser, "user", "", "user id (required)")
	eventsPaymentCmd.Flags().StringVar(&paymentAmount, "amount", "", "amount in major units, e.g. 250.75 (required)")
	eventsPaymentCmd.Flags().Int32Var(&paymentPlaces, "places", 2, "minor unit decimal places")
	eventsPaymentCmd.Flags().StringVar(&paymentAt, "at", "", "reported timestamp (RFC 3339, default now)")
	eventsPaymentCmd.MarkFlagRequired("user")
	eventsPaymentCmd.MarkFlagRequired("amount")
}

func runEventsAdd(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, eventFile)
	if err != nil {
		return err
	}
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	core, _, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	res, err := core.Dispatcher.Add(cmd.Context(), eventAPIKeyID, env)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runEventsBatch(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, eventFile)
	if err != nil {
		return err
	}
	envs, err := decodeBatch(data)
	if err != nil {
		return err
	}

	core, _, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	ids, err := core.Dispatcher.AddBatch(cmd.Context(), eventAPIKeyID, envs)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	return printJSON(cmd.OutOrStdout(), apihttp.BatchResponse{IDs: ids})
}

// decodeBatch accepts the HTTP batch body or a bare array.
func decodeBatch(data []byte) ([]event.Envelope, error) {
	var req apihttp.BatchRequest
	if err := json.Unmarshal(data, &req); err == nil && req.Events != nil {
		return req.Events, nil
	}
	var envs []event.Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return envs, nil
}

func runEventsPayment(cmd *cobra.Command, args []string) error {
	minor, err := event.MinorUnits(paymentAmount, paymentPlaces)
	if err != nil {
		return err
	}

	var opts []event.Option
	if paymentAt != "" {
		at, err := time.Parse(time.RFC3339Nano, paymentAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		opts = append(opts, event.At(at))
	}

	core, _, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	res, err := core.Dispatcher.AddEvent(cmd.Context(), eventAPIKeyID,
		event.NewPayment(paymentUser, event.PaymentData{CreditAmount: minor}, opts...))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"id": res.ID, "creditAmount": minor})
}
