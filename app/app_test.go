package app_test

import (
	"context"
	"os"
	"testing"

	"github.com/artpar/billmeter/adapters/sqlstore"
	"github.com/artpar/billmeter/app"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/rs/zerolog"
)

const (
	alice = "0b5a2c1e-8d9f-4e3a-9c41-6f2d7e8a1b01"
	bob   = "0b5a2c1e-8d9f-4e3a-9c41-6f2d7e8a1b02"
)

type fixture struct {
	db       *sqlstore.DB
	ingest   *app.IngestService
	pricing  *app.PricingService
	dispatch *app.Dispatcher
	apiKeyID string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f, err := os.CreateTemp("", "billmeter-app-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlstore.Open(sqlstore.Options{Driver: "sqlite", DSN: path, UserIDScheme: ident.SchemeUUID})
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
	})
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	users := ident.MustParser(ident.SchemeUUID)
	ingest := app.NewIngestService(db, users, nil, zerolog.Nop())
	pricing := app.NewPricingService(db, users, nil, zerolog.Nop())
	dispatch, err := app.NewDispatcher(ingest, pricing)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	fx := &fixture{db: db, ingest: ingest, pricing: pricing, dispatch: dispatch}

	res, err := dispatch.AddEvent(context.Background(), "", event.NewAddKey(event.AddKeyData{Name: "test", Key: "hash-test"}))
	if err != nil {
		t.Fatalf("add key: %v", err)
	}
	fx.apiKeyID = res.ID
	return fx
}

func (fx *fixture) countEvents(t *testing.T, user string) int64 {
	t.Helper()
	n, err := fx.db.CountEvents(context.Background(), user)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	return n
}

func (fx *fixture) countUsers(t *testing.T) int64 {
	t.Helper()
	n, err := fx.db.CountUsers(context.Background())
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	return n
}

func sdkCall(user string, amount int64) event.SDKCall {
	return event.NewSDKCall(user, event.SDKCallData{Type: event.SDKCallRaw, DebitAmount: amount})
}

func tokenUsage(user, model string, in, out, inDebit, outDebit int64) event.AITokenUsage {
	return event.NewAITokenUsage(user, event.AITokenUsageData{
		Model:             model,
		InputTokens:       in,
		OutputTokens:      out,
		InputDebitAmount:  inDebit,
		OutputDebitAmount: outDebit,
	})
}

func mustEnvelope(t *testing.T, e event.Event) event.Envelope {
	t.Helper()
	env, err := e.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return env
}
