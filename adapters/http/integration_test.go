package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	apihttp "github.com/artpar/billmeter/adapters/http"
	"github.com/artpar/billmeter/adapters/sqlstore"
	"github.com/artpar/billmeter/app"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/rs/zerolog"
)

func setupStore(t *testing.T) http.Handler {
	t.Helper()

	f, err := os.CreateTemp("", "billmeter-http-*.db")
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

	h := apihttp.NewEventHandler(dispatch, pricing, nil, zerolog.Nop())
	return apihttp.NewRouter(h, apihttp.NewHealthHandler(db), zerolog.Nop(), apihttp.RouterConfig{})
}

func TestEndToEnd_IngestAndPrice(t *testing.T) {
	router := setupStore(t)

	rec := do(t, router, http.MethodPost, "/v1/events",
		`{"SQL":{"type":"ADD_KEY","reported_timestamp":"2024-01-01T00:00:00.000Z","data":{"name":"ci","key":"hash-ci"}}}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ADD_KEY status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var key app.Result
	json.Unmarshal(rec.Body.Bytes(), &key)

	rec = do(t, router, http.MethodPost, "/v1/events", sdkBody, map[string]string{apihttp.APIKeyHeader: key.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("SDK_CALL status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/v1/events",
		`{"SQL":{"type":"PAYMENT","userId":"`+userID+`","reported_timestamp":"2024-01-01T00:00:00.000Z","data":{"creditAmount":25}}}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("PAYMENT status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/v1/users/"+userID+"/owed", "", nil)
	var owed apihttp.PriceResponse
	json.Unmarshal(rec.Body.Bytes(), &owed)
	if owed.Amount != 10 {
		t.Errorf("owed = %d, want 10", owed.Amount)
	}

	rec = do(t, router, http.MethodGet, "/v1/users/"+userID+"/balance", "", nil)
	var balance apihttp.PriceResponse
	json.Unmarshal(rec.Body.Bytes(), &balance)
	if balance.Amount != 15 {
		t.Errorf("balance = %d, want 15", balance.Amount)
	}

	rec = do(t, router, http.MethodPost, "/v1/events",
		`{"SQL":{"type":"ADD_KEY","reported_timestamp":"2024-01-01T00:00:00.000Z","data":{"name":"ci","key":"other"}}}`, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate ADD_KEY status = %d, want 409", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/events",
		`{"SQL":{"type":"REFUND","userId":"`+userID+`","reported_timestamp":"2024-01-01T00:00:00.000Z","data":{}}}`, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "UNKNOWN_EVENT_TYPE" {
		t.Errorf("unknown type = %d %s", rec.Code, rec.Body.String())
	}
}
