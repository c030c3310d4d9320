// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/billmeter/domain/event"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides key hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Event Store Ports
// -----------------------------------------------------------------------------

// EventRow is the generic row written for every persisted event.
type EventRow struct {
	UserID     string
	APIKeyID   string // empty is stored as NULL
	ReportedAt time.Time
}

// EventTx is the write side of the store, valid only inside WithTx.
type EventTx interface {
	// InsertOrSkipUser creates the user row; an existing row is not an error.
	InsertOrSkipUser(ctx context.Context, userID string) error

	// InsertOrSkipUsers is InsertOrSkipUser for many ids in one statement.
	InsertOrSkipUsers(ctx context.Context, userIDs []string) error

	// InsertEvent writes the generic event row and returns its id.
	InsertEvent(ctx context.Context, row EventRow) (string, error)

	// InsertEvents writes many event rows and returns their ids in order.
	InsertEvents(ctx context.Context, rows []EventRow) ([]string, error)

	// InsertSDKCall writes the SDK_CALL detail row keyed by eventID.
	InsertSDKCall(ctx context.Context, eventID string, d event.SDKCallData) error

	// InsertPayment writes the PAYMENT detail row keyed by eventID.
	InsertPayment(ctx context.Context, eventID string, d event.PaymentData) error

	// InsertAITokenUsage writes the AI_TOKEN_USAGE detail row keyed by eventID.
	InsertAITokenUsage(ctx context.Context, eventID string, d event.AITokenUsageData) error

	// InsertAITokenUsages writes one detail row per event id.
	InsertAITokenUsages(ctx context.Context, eventIDs []string, ds []event.AITokenUsageData) error

	// InsertAPIKey writes an api_keys row and returns its id.
	InsertAPIKey(ctx context.Context, d event.AddKeyData) (string, error)
}

// Aggregate is a raw SUM as returned by the backend. Valid is false when
// the sum ran over zero rows.
type Aggregate struct {
	Value string
	Valid bool
}

// EventStore persists events and answers aggregate queries.
type EventStore interface {
	// WithTx runs fn inside one transaction: commit when fn returns nil,
	// rollback on error or panic.
	WithTx(ctx context.Context, fn func(tx EventTx) error) error

	// SumSDKDebits sums SDK_CALL debit amounts for a user.
	SumSDKDebits(ctx context.Context, userID string, w event.RequestData) (Aggregate, error)

	// SumAITokenDebits sums input + output debit amounts for a user.
	SumAITokenDebits(ctx context.Context, userID string, w event.RequestData) (Aggregate, error)

	// SumPaymentCredits sums PAYMENT credit amounts for a user.
	SumPaymentCredits(ctx context.Context, userID string, w event.RequestData) (Aggregate, error)

	// CountEvents returns the number of event rows for a user.
	CountEvents(ctx context.Context, userID string) (int64, error)

	// CountUsers returns the number of user rows.
	CountUsers(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// ErrNotBufferable is returned by BatchRecorder.Record for a valid record
// that cannot join an aggregated batch, such as a refund. The caller writes
// it directly instead.
var ErrNotBufferable = errors.New("record cannot be buffered")

// BatchRecorder accepts AI token usage for buffered, aggregated persistence.
type BatchRecorder interface {
	// Record queues one AI_TOKEN_USAGE record for the given API key.
	// Records are validated on enqueue; persistence happens on flush.
	// Refunds are rejected with ErrNotBufferable.
	Record(apiKeyID string, rec event.Record) error

	// Flush forces immediate persistence of queued records.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining records.
	Close() error
}
