// Package event provides the tagged event model, its wire envelope and the
// pure aggregation functions applied before persistence.
// All functions are pure - no side effects.
package event

import (
	"encoding/json"
	"time"

	"github.com/artpar/billmeter/domain/failure"
)

// Kind is the event discriminant.
type Kind string

const (
	KindSDKCall             Kind = "SDK_CALL"
	KindPayment             Kind = "PAYMENT"
	KindAITokenUsage        Kind = "AI_TOKEN_USAGE"
	KindAddKey              Kind = "ADD_KEY"
	KindRequestSDKCall      Kind = "REQUEST_SDK_CALL"
	KindRequestAITokenUsage Kind = "REQUEST_AI_TOKEN_USAGE"
	KindRequestPayment      Kind = "REQUEST_PAYMENT"
)

// AllKinds lists every known discriminant. The dispatcher refuses to start
// unless each one has a handler.
func AllKinds() []Kind {
	return []Kind{
		KindSDKCall,
		KindPayment,
		KindAITokenUsage,
		KindAddKey,
		KindRequestSDKCall,
		KindRequestAITokenUsage,
		KindRequestPayment,
	}
}

// IsRequest reports whether k is a query-only REQUEST_* kind.
func (k Kind) IsRequest() bool {
	switch k {
	case KindRequestSDKCall, KindRequestAITokenUsage, KindRequestPayment:
		return true
	}
	return false
}

// Event is implemented by every event value.
type Event interface {
	Kind() Kind
	Serialize() (Envelope, error)
}

// Envelope is the serialized wire shape the pipeline operates on.
type Envelope struct {
	SQL Record `json:"SQL"`
}

// Record is the flat form of one event.
type Record struct {
	Type              Kind            `json:"type"`
	UserID            string          `json:"userId,omitempty"`
	ReportedTimestamp string          `json:"reported_timestamp"`
	Data              json.RawMessage `json:"data,omitempty"`
}

// SDKCallType distinguishes direct SDK usage from middleware-reported calls.
type SDKCallType string

const (
	SDKCallRaw            SDKCallType = "RAW"
	SDKCallMiddlewareCall SDKCallType = "MIDDLEWARE_CALL"
)

// SDKCallData is the SDK_CALL payload.
// DebitAmount may be negative for refunds.
type SDKCallData struct {
	Type        SDKCallType `json:"type"`
	DebitAmount int64       `json:"debitAmount"`
}

// PaymentData is the PAYMENT payload, in integer minor units.
type PaymentData struct {
	CreditAmount int64 `json:"creditAmount"`
}

// AITokenUsageData is the AI_TOKEN_USAGE payload.
type AITokenUsageData struct {
	Model             string `json:"model"`
	InputTokens       int64  `json:"inputTokens"`
	OutputTokens      int64  `json:"outputTokens"`
	InputDebitAmount  int64  `json:"inputDebitAmount"`
	OutputDebitAmount int64  `json:"outputDebitAmount"`
}

// AddKeyData is the ADD_KEY payload. Key holds the hash, never the raw key.
type AddKeyData struct {
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// RequestData optionally restricts a price query to events reported in
// [From, To).
type RequestData struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Option adjusts a constructed event.
type Option func(*time.Time)

// At overrides the reported timestamp.
func At(t time.Time) Option {
	return func(ts *time.Time) {
		*ts = t.UTC()
	}
}

func reportedAt(opts []Option) time.Time {
	t := time.Now().UTC()
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// SDKCall records one billable SDK invocation.
type SDKCall struct {
	UserID     string
	ReportedAt time.Time
	Data       SDKCallData
}

// NewSDKCall creates an SDK_CALL event reported now.
func NewSDKCall(userID string, data SDKCallData, opts ...Option) SDKCall {
	return SDKCall{UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

func (SDKCall) Kind() Kind { return KindSDKCall }

func (e SDKCall) Serialize() (Envelope, error) {
	return serialize(KindSDKCall, e.UserID, e.ReportedAt, e.Data)
}

// Payment records a credit to a user, typically from a payment webhook.
type Payment struct {
	UserID     string
	ReportedAt time.Time
	Data       PaymentData
}

// NewPayment creates a PAYMENT event reported now.
func NewPayment(userID string, data PaymentData, opts ...Option) Payment {
	return Payment{UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

func (Payment) Kind() Kind { return KindPayment }

func (e Payment) Serialize() (Envelope, error) {
	return serialize(KindPayment, e.UserID, e.ReportedAt, e.Data)
}

// AITokenUsage records model token consumption.
type AITokenUsage struct {
	UserID     string
	ReportedAt time.Time
	Data       AITokenUsageData
}

// NewAITokenUsage creates an AI_TOKEN_USAGE event reported now.
func NewAITokenUsage(userID string, data AITokenUsageData, opts ...Option) AITokenUsage {
	return AITokenUsage{UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

func (AITokenUsage) Kind() Kind { return KindAITokenUsage }

func (e AITokenUsage) Serialize() (Envelope, error) {
	return serialize(KindAITokenUsage, e.UserID, e.ReportedAt, e.Data)
}

// AddKey provisions an API key. It has no user and no event row.
type AddKey struct {
	ReportedAt time.Time
	Data       AddKeyData
}

// NewAddKey creates an ADD_KEY event reported now.
func NewAddKey(data AddKeyData, opts ...Option) AddKey {
	return AddKey{ReportedAt: reportedAt(opts), Data: data}
}

func (AddKey) Kind() Kind { return KindAddKey }

func (e AddKey) Serialize() (Envelope, error) {
	return serialize(KindAddKey, "", e.ReportedAt, e.Data)
}

// Request is a price query. It is never persisted.
type Request struct {
	kind       Kind
	UserID     string
	ReportedAt time.Time
	Data       RequestData
}

// NewRequestSDKCall asks for the SDK_CALL spend of a user.
func NewRequestSDKCall(userID string, data RequestData, opts ...Option) Request {
	return Request{kind: KindRequestSDKCall, UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

// NewRequestAITokenUsage asks for the AI_TOKEN_USAGE spend of a user.
func NewRequestAITokenUsage(userID string, data RequestData, opts ...Option) Request {
	return Request{kind: KindRequestAITokenUsage, UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

// NewRequestPayment asks for the total amount a user owes.
func NewRequestPayment(userID string, data RequestData, opts ...Option) Request {
	return Request{kind: KindRequestPayment, UserID: userID, ReportedAt: reportedAt(opts), Data: data}
}

func (r Request) Kind() Kind { return r.kind }

func (r Request) Serialize() (Envelope, error) {
	return serialize(r.kind, r.UserID, r.ReportedAt, r.Data)
}

func serialize(kind Kind, userID string, at time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, failure.Wrap(failure.SerializationFailed, err, string(kind))
	}
	var ts string
	if !at.IsZero() {
		ts = FormatTimestamp(at)
	}
	return Envelope{SQL: Record{
		Type:              kind,
		UserID:            userID,
		ReportedTimestamp: ts,
		Data:              raw,
	}}, nil
}

// Decode unmarshals a record's payload into T.
func Decode[T any](rec Record) (T, error) {
	var v T
	if len(rec.Data) == 0 {
		return v, failure.Newf(failure.InvalidData, "%s: data is required", rec.Type)
	}
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return v, failure.Wrap(failure.InvalidData, err, string(rec.Type)+": malformed data")
	}
	return v, nil
}

// DecodeRequest is Decode for REQUEST_* records, whose payload is optional.
func DecodeRequest(rec Record) (RequestData, error) {
	if len(rec.Data) == 0 || string(rec.Data) == "null" {
		return RequestData{}, nil
	}
	return Decode[RequestData](rec)
}
