package sqlstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/artpar/billmeter/adapters/idgen"
	"github.com/artpar/billmeter/adapters/sqlstore"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/artpar/billmeter/ports"
)

func setupTestDB(t *testing.T) *sqlstore.DB {
	t.Helper()

	f, err := os.CreateTemp("", "billmeter-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlstore.Open(sqlstore.Options{
		Driver:       "sqlite",
		DSN:          path,
		UserIDScheme: ident.SchemeUUID,
		IDs:          idgen.NewSequential("id_"),
	})
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("ensure schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
	})
	return db
}

const testUser = "6f1c1b52-1d7e-4c55-9e57-0a0d1e3b9a11"

var reportedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// addKey inserts an API key and returns its id.
func addKey(t *testing.T, db *sqlstore.DB, name string) string {
	t.Helper()
	var id string
	err := db.WithTx(context.Background(), func(tx ports.EventTx) error {
		var err error
		id, err = tx.InsertAPIKey(context.Background(), event.AddKeyData{Name: name, Key: "hash-" + name})
		return err
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	return id
}

func insertSDKCall(ctx context.Context, tx ports.EventTx, keyID string, at time.Time, amount int64) error {
	if err := tx.InsertOrSkipUser(ctx, testUser); err != nil {
		return err
	}
	id, err := tx.InsertEvent(ctx, ports.EventRow{UserID: testUser, APIKeyID: keyID, ReportedAt: at})
	if err != nil {
		return err
	}
	return tx.InsertSDKCall(ctx, id, event.SDKCallData{Type: event.SDKCallRaw, DebitAmount: amount})
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", n)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := sqlstore.Open(sqlstore.Options{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestWithTx_Commit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	keyID := addKey(t, db, "ci")

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		return insertSDKCall(ctx, tx, keyID, reportedAt, 10)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	n, err := db.CountEvents(ctx, testUser)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEvents = %d, want 1", n)
	}

	agg, err := db.SumSDKDebits(ctx, testUser, event.RequestData{})
	if err != nil {
		t.Fatalf("SumSDKDebits: %v", err)
	}
	if !agg.Valid || agg.Value != "10" {
		t.Errorf("SumSDKDebits = %+v, want 10", agg)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUser(ctx, testUser); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	n, _ := db.CountUsers(ctx)
	if n != 0 {
		t.Errorf("CountUsers = %d, want 0 after rollback", n)
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = db.WithTx(ctx, func(tx ports.EventTx) error {
			if err := tx.InsertOrSkipUser(ctx, testUser); err != nil {
				return err
			}
			panic("handler bug")
		})
	}()

	n, _ := db.CountUsers(ctx)
	if n != 0 {
		t.Errorf("CountUsers = %d, want 0 after panic", n)
	}
}

func TestInsertOrSkipUser_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := db.WithTx(ctx, func(tx ports.EventTx) error {
			if err := tx.InsertOrSkipUser(ctx, testUser); err != nil {
				return err
			}
			return tx.InsertOrSkipUser(ctx, testUser)
		})
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}

	n, _ := db.CountUsers(ctx)
	if n != 1 {
		t.Errorf("CountUsers = %d, want 1", n)
	}
}

func TestInsertOrSkipUsers_MultiRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUser(ctx, "u2"); err != nil {
			return err
		}
		return tx.InsertOrSkipUsers(ctx, []string{"u1", "u2", "u3"})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	n, _ := db.CountUsers(ctx)
	if n != 3 {
		t.Errorf("CountUsers = %d, want 3", n)
	}
}

func TestInsertEvents_Batch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	keyID := addKey(t, db, "batch")

	var ids []string
	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUsers(ctx, []string{"u1", "u2"}); err != nil {
			return err
		}
		var err error
		ids, err = tx.InsertEvents(ctx, []ports.EventRow{
			{UserID: "u1", APIKeyID: keyID, ReportedAt: reportedAt},
			{UserID: "u2", APIKeyID: keyID, ReportedAt: reportedAt},
		})
		if err != nil {
			return err
		}
		return tx.InsertAITokenUsages(ctx, ids, []event.AITokenUsageData{
			{Model: "gpt4", InputTokens: 100, OutputTokens: 50, InputDebitAmount: 10, OutputDebitAmount: 5},
			{Model: "claude", InputTokens: 10, OutputTokens: 10, InputDebitAmount: 1, OutputDebitAmount: 1},
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("ids = %v, want two distinct ids", ids)
	}

	agg, err := db.SumAITokenDebits(ctx, "u1", event.RequestData{})
	if err != nil {
		t.Fatalf("SumAITokenDebits: %v", err)
	}
	if agg.Value != "15" {
		t.Errorf("SumAITokenDebits(u1) = %q, want 15", agg.Value)
	}
}

func TestInsertAITokenUsages_LengthMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		return tx.InsertAITokenUsages(ctx, []string{"a"}, nil)
	})
	if err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestInsertAPIKey_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	addKey(t, db, "ci")

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		_, err := tx.InsertAPIKey(ctx, event.AddKeyData{Name: "ci", Key: "another-hash"})
		return err
	})
	if !failure.Has(err, failure.ConstraintViolation) {
		t.Errorf("error = %v, want CONSTRAINT_VIOLATION", err)
	}
}

func TestInsertAPIKey_Timestamps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	exp := reportedAt.Add(24 * time.Hour)

	var id string
	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		var err error
		id, err = tx.InsertAPIKey(ctx, event.AddKeyData{Name: "exp", Key: "h", ExpiresAt: &exp})
		return err
	})
	if err != nil {
		t.Fatalf("InsertAPIKey: %v", err)
	}

	var stored string
	if err := db.QueryRow("SELECT expires_at FROM api_keys WHERE id = ?", id).Scan(&stored); err != nil {
		t.Fatalf("select: %v", err)
	}
	if stored != "2024-03-02T12:00:00.000Z" {
		t.Errorf("expires_at = %s, want 2024-03-02T12:00:00.000Z", stored)
	}
}

func TestInsertEvent_UnknownAPIKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		return insertSDKCall(ctx, tx, "no-such-key", reportedAt, 1)
	})
	if !failure.Has(err, failure.ConstraintViolation) {
		t.Errorf("error = %v, want CONSTRAINT_VIOLATION", err)
	}
}

func TestInsertPayment_CheckConstraint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUser(ctx, testUser); err != nil {
			return err
		}
		id, err := tx.InsertEvent(ctx, ports.EventRow{UserID: testUser, ReportedAt: reportedAt})
		if err != nil {
			return err
		}
		return tx.InsertPayment(ctx, id, event.PaymentData{CreditAmount: 0})
	})
	if !failure.Has(err, failure.ConstraintViolation) {
		t.Errorf("error = %v, want CONSTRAINT_VIOLATION", err)
	}

	n, _ := db.CountEvents(ctx, testUser)
	if n != 0 {
		t.Errorf("CountEvents = %d, want 0 after rollback", n)
	}
}

func TestSum_NoRowsIsNull(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for name, sum := range map[string]func(context.Context, string, event.RequestData) (ports.Aggregate, error){
		"sdk":     db.SumSDKDebits,
		"ai":      db.SumAITokenDebits,
		"payment": db.SumPaymentCredits,
	} {
		agg, err := sum(ctx, testUser, event.RequestData{})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if agg.Valid {
			t.Errorf("%s: Valid = true, want NULL aggregate", name)
		}
	}
}

func TestSum_Window(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	keyID := addKey(t, db, "win")

	days := []time.Time{
		reportedAt,
		reportedAt.Add(24 * time.Hour),
		reportedAt.Add(48 * time.Hour),
	}
	for i, at := range days {
		err := db.WithTx(ctx, func(tx ports.EventTx) error {
			return insertSDKCall(ctx, tx, keyID, at, int64(i+1)*100)
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	from := days[1]
	to := days[2]
	agg, err := db.SumSDKDebits(ctx, testUser, event.RequestData{From: &from, To: &to})
	if err != nil {
		t.Fatalf("SumSDKDebits: %v", err)
	}
	if agg.Value != "200" {
		t.Errorf("windowed sum = %s, want 200 (To is exclusive)", agg.Value)
	}

	agg, _ = db.SumSDKDebits(ctx, testUser, event.RequestData{From: &from})
	if agg.Value != "500" {
		t.Errorf("open-ended sum = %s, want 500", agg.Value)
	}
}
