// Package app contains the services behind the ingest and price contracts:
// IngestService runs the transactional write pipeline, PricingService
// answers price queries, and Dispatcher routes envelopes to both.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/artpar/billmeter/ports"
	"github.com/rs/zerolog"
)

// Result is returned by a successful write: the event id, or the API key
// id for ADD_KEY.
type Result struct {
	ID string `json:"id"`
}

// IngestService persists events. Every write runs in exactly one
// transaction; nothing is partially committed.
type IngestService struct {
	store   ports.EventStore
	users   ident.Parser
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewIngestService creates a new ingest service. m may be nil.
func NewIngestService(
	store ports.EventStore,
	users ident.Parser,
	m *metrics.Collector,
	logger zerolog.Logger,
) *IngestService {
	return &IngestService{
		store:   store,
		users:   users,
		metrics: m,
		logger:  logger,
	}
}

// AddSDKCall writes an SDK_CALL event. apiKeyID is required.
func (s *IngestService) AddSDKCall(ctx context.Context, apiKeyID string, rec event.Record) (res Result, err error) {
	defer s.observe(event.KindSDKCall, rec, time.Now(), &res, &err)

	if err := expectKind(rec, event.KindSDKCall); err != nil {
		return Result{}, err
	}
	if apiKeyID == "" {
		return Result{}, failure.New(failure.MissingAPIKeyID, "SDK_CALL requires an API key id")
	}
	data, err := event.Decode[event.SDKCallData](rec)
	if err != nil {
		return Result{}, err
	}
	if err := data.Validate(); err != nil {
		return Result{}, err
	}
	user, err := s.parseUser(rec.UserID)
	if err != nil {
		return Result{}, err
	}

	return s.write(ctx, rec, user, apiKeyID, func(ctx context.Context, tx ports.EventTx, eventID string) error {
		return tx.InsertSDKCall(ctx, eventID, data)
	})
}

// AddPayment writes a PAYMENT event. apiKeyID is optional since payments
// usually arrive from provider webhooks.
func (s *IngestService) AddPayment(ctx context.Context, apiKeyID string, rec event.Record) (res Result, err error) {
	defer s.observe(event.KindPayment, rec, time.Now(), &res, &err)

	if err := expectKind(rec, event.KindPayment); err != nil {
		return Result{}, err
	}
	data, err := event.Decode[event.PaymentData](rec)
	if err != nil {
		return Result{}, err
	}
	if err := data.Validate(); err != nil {
		return Result{}, err
	}
	user, err := s.parseUser(rec.UserID)
	if err != nil {
		return Result{}, err
	}

	return s.write(ctx, rec, user, apiKeyID, func(ctx context.Context, tx ports.EventTx, eventID string) error {
		return tx.InsertPayment(ctx, eventID, data)
	})
}

// AddAITokenUsage writes a single AI_TOKEN_USAGE event. apiKeyID is
// required. Debit amounts may be negative (refunds); token counts may not.
func (s *IngestService) AddAITokenUsage(ctx context.Context, apiKeyID string, rec event.Record) (res Result, err error) {
	defer s.observe(event.KindAITokenUsage, rec, time.Now(), &res, &err)

	if err := expectKind(rec, event.KindAITokenUsage); err != nil {
		return Result{}, err
	}
	if apiKeyID == "" {
		return Result{}, failure.New(failure.MissingAPIKeyID, "AI_TOKEN_USAGE requires an API key id")
	}
	data, err := event.Decode[event.AITokenUsageData](rec)
	if err != nil {
		return Result{}, err
	}
	if err := data.Validate(); err != nil {
		return Result{}, err
	}
	user, err := s.parseUser(rec.UserID)
	if err != nil {
		return Result{}, err
	}

	return s.write(ctx, rec, user, apiKeyID, func(ctx context.Context, tx ports.EventTx, eventID string) error {
		return tx.InsertAITokenUsage(ctx, eventID, data)
	})
}

// AddKey writes an ADD_KEY event straight into api_keys and returns the
// key id. Duplicate names or hashes surface as CONSTRAINT_VIOLATION.
func (s *IngestService) AddKey(ctx context.Context, rec event.Record) (res Result, err error) {
	defer s.observe(event.KindAddKey, rec, time.Now(), &res, &err)

	if err := expectKind(rec, event.KindAddKey); err != nil {
		return Result{}, err
	}
	data, err := event.Decode[event.AddKeyData](rec)
	if err != nil {
		return Result{}, err
	}
	if err := data.Validate(); err != nil {
		return Result{}, err
	}

	var id string
	err = s.store.WithTx(ctx, func(tx ports.EventTx) error {
		keyID, err := tx.InsertAPIKey(ctx, data)
		if err != nil {
			return err
		}
		id = keyID
		return nil
	})
	if err != nil {
		return Result{}, failure.Boundary(err, "ADD_KEY")
	}
	return Result{ID: id}, nil
}

// AddAITokenUsageBatch aggregates one delivery batch by (user, model) and
// writes the groups in a single transaction. It returns one id per group,
// in first-appearance order. Any invalid event rejects the whole batch
// before the transaction opens.
func (s *IngestService) AddAITokenUsageBatch(ctx context.Context, apiKeyID string, recs []event.Record) (ids []string, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveIngest(string(event.KindAITokenUsage)+"_BATCH", start, err)
		if err != nil {
			s.logFailure(event.KindAITokenUsage, err).
				Int("events", len(recs)).
				Msg("batch rejected")
		}
	}()

	if apiKeyID == "" {
		return nil, failure.New(failure.MissingAPIKeyID, "AI_TOKEN_USAGE requires an API key id")
	}
	if len(recs) == 0 {
		return nil, nil
	}

	usages := make([]event.AITokenUsage, len(recs))
	for i, rec := range recs {
		u, err := s.decodeBatchItem(rec)
		if err != nil {
			return nil, failure.Prefix(err, fmt.Sprintf("events[%d]", i))
		}
		usages[i] = u
	}

	groups, err := event.AggregateTokenUsage(usages)
	if err != nil {
		return nil, err
	}

	rows := make([]ports.EventRow, len(groups))
	details := make([]event.AITokenUsageData, len(groups))
	for i, g := range groups {
		rows[i] = ports.EventRow{UserID: g.UserID, APIKeyID: apiKeyID, ReportedAt: g.ReportedAt}
		details[i] = g.Data
	}

	err = s.store.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUsers(ctx, event.DistinctUsers(groups)); err != nil {
			return err
		}
		eventIDs, err := tx.InsertEvents(ctx, rows)
		if err != nil {
			return err
		}
		if err := tx.InsertAITokenUsages(ctx, eventIDs, details); err != nil {
			return err
		}
		ids = eventIDs
		return nil
	})
	if err != nil {
		return nil, failure.Boundary(err, "AI_TOKEN_USAGE batch")
	}

	s.metrics.ObserveBatch(len(recs), len(groups))
	s.logger.Debug().
		Str("api_key_id", apiKeyID).
		Int("events", len(recs)).
		Int("rows", len(groups)).
		Msg("token usage batch stored")

	return ids, nil
}

// CheckAITokenUsage applies the single-write rules to one record without
// writing it. Buffered ingest calls it so bad input is rejected on enqueue.
// A valid record with a negative debit returns ports.ErrNotBufferable: it
// must go through AddAITokenUsage, since batches only accept non-negative
// fields.
func (s *IngestService) CheckAITokenUsage(apiKeyID string, rec event.Record) error {
	if apiKeyID == "" {
		return failure.New(failure.MissingAPIKeyID, "AI_TOKEN_USAGE requires an API key id")
	}
	u, err := s.decodeBatchItem(rec)
	if err != nil {
		return err
	}
	if err := u.Data.Validate(); err != nil {
		return err
	}
	if u.Data.ValidateForBatch() != nil {
		return ports.ErrNotBufferable
	}
	return nil
}

func (s *IngestService) decodeBatchItem(rec event.Record) (event.AITokenUsage, error) {
	if err := expectKind(rec, event.KindAITokenUsage); err != nil {
		return event.AITokenUsage{}, err
	}
	data, err := event.Decode[event.AITokenUsageData](rec)
	if err != nil {
		return event.AITokenUsage{}, err
	}
	user, err := s.parseUser(rec.UserID)
	if err != nil {
		return event.AITokenUsage{}, err
	}
	at, err := event.ParseTimestamp(rec.ReportedTimestamp)
	if err != nil {
		return event.AITokenUsage{}, err
	}
	return event.AITokenUsage{UserID: user, ReportedAt: at, Data: data}, nil
}

// detailWriter inserts the kind-specific row for eventID.
type detailWriter func(ctx context.Context, tx ports.EventTx, eventID string) error

// write is the shared pipeline for user-linked kinds: ensure user, convert
// the timestamp, insert the event row, insert the detail row. The
// timestamp is converted inside the transaction so that a bad value rolls
// back the user upsert with everything else.
func (s *IngestService) write(ctx context.Context, rec event.Record, userID, apiKeyID string, detail detailWriter) (Result, error) {
	var id string
	err := s.store.WithTx(ctx, func(tx ports.EventTx) error {
		if err := tx.InsertOrSkipUser(ctx, userID); err != nil {
			return err
		}
		at, err := event.ParseTimestamp(rec.ReportedTimestamp)
		if err != nil {
			return err
		}
		eventID, err := tx.InsertEvent(ctx, ports.EventRow{UserID: userID, APIKeyID: apiKeyID, ReportedAt: at})
		if err != nil {
			return err
		}
		if err := detail(ctx, tx, eventID); err != nil {
			return err
		}
		id = eventID
		return nil
	})
	if err != nil {
		return Result{}, failure.Boundary(err, string(rec.Type))
	}
	return Result{ID: id}, nil
}

func (s *IngestService) parseUser(raw string) (string, error) {
	if raw == "" {
		return "", failure.New(failure.InvalidData, "userId is required")
	}
	id, err := s.users.Parse(raw)
	if err != nil {
		return "", failure.Wrap(failure.InvalidData, err, "userId")
	}
	return id.String(), nil
}

func (s *IngestService) observe(kind event.Kind, rec event.Record, start time.Time, res *Result, err *error) {
	s.metrics.ObserveIngest(string(kind), start, *err)
	if *err != nil {
		s.logFailure(kind, *err).
			Str("user_id", rec.UserID).
			Msg("write rejected")
		return
	}
	s.logger.Debug().
		Str("kind", string(kind)).
		Str("user_id", rec.UserID).
		Str("id", res.ID).
		Msg("event stored")
}

// logFailure logs caller mistakes at warn and storage failures at error.
func (s *IngestService) logFailure(kind event.Kind, err error) *zerolog.Event {
	ev := s.logger.Error()
	switch failure.KindOf(err) {
	case failure.InvalidData, failure.InvalidTimestamp, failure.MissingAPIKeyID, failure.ConstraintViolation:
		ev = s.logger.Warn()
	}
	return ev.Err(err).Str("kind", string(kind))
}

func expectKind(rec event.Record, want event.Kind) error {
	if rec.Type != want {
		return failure.Newf(failure.InvalidData, "record type %q, want %s", rec.Type, want)
	}
	return nil
}
