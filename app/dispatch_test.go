package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
)

func TestDispatch_UnknownEventType(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	env := event.Envelope{SQL: event.Record{Type: "REFUND", UserID: alice, ReportedTimestamp: "2024-01-01T00:00:00Z"}}

	_, err := fx.dispatch.Add(ctx, fx.apiKeyID, env)
	if !failure.Has(err, failure.UnknownEventType) {
		t.Fatalf("Add error = %v, want UNKNOWN_EVENT_TYPE", err)
	}
	if !strings.Contains(err.Error(), "REFUND") {
		t.Errorf("error %q should name the offending type", err)
	}

	_, err = fx.dispatch.Price(ctx, env)
	if !failure.Has(err, failure.UnknownEventType) {
		t.Errorf("Price error = %v, want UNKNOWN_EVENT_TYPE", err)
	}

	if n := fx.countUsers(t); n != 0 {
		t.Errorf("users = %d, want 0", n)
	}
}

func TestDispatch_RequestKindIsNotStored(t *testing.T) {
	fx := setup(t)

	env, err := event.NewRequestPayment(alice, event.RequestData{}).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	_, err = fx.dispatch.Add(context.Background(), fx.apiKeyID, env)
	if !failure.Has(err, failure.InvalidData) {
		t.Errorf("error = %v, want INVALID_DATA", err)
	}
}

func TestDispatch_WriteKindIsNotPriced(t *testing.T) {
	fx := setup(t)

	_, err := fx.dispatch.PriceEvent(context.Background(), sdkCall(alice, 1))
	if !failure.Has(err, failure.InvalidData) {
		t.Errorf("error = %v, want INVALID_DATA", err)
	}
}

func TestDispatch_EveryKindRoutes(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	writes := []event.Event{
		sdkCall(alice, 1),
		event.NewPayment(alice, event.PaymentData{CreditAmount: 1}),
		tokenUsage(alice, "gpt4", 1, 1, 1, 1),
		event.NewAddKey(event.AddKeyData{Name: "second", Key: "hash-second"}),
	}
	for _, e := range writes {
		res, err := fx.dispatch.AddEvent(ctx, fx.apiKeyID, e)
		if err != nil {
			t.Errorf("%s: %v", e.Kind(), err)
			continue
		}
		if res.ID == "" {
			t.Errorf("%s: empty id", e.Kind())
		}
	}

	if n := fx.countEvents(t, alice); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}
}
