package app

import (
	"context"
	"math"
	"time"

	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/artpar/billmeter/ports"
	"github.com/rs/zerolog"
)

// PricingService answers price queries from stored events. Amounts are in
// the same integer units as the stored debits and credits and may be
// negative when refunds exceed charges.
type PricingService struct {
	store   ports.EventStore
	users   ident.Parser
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewPricingService creates a new pricing service. m may be nil.
func NewPricingService(
	store ports.EventStore,
	users ident.Parser,
	m *metrics.Collector,
	logger zerolog.Logger,
) *PricingService {
	return &PricingService{
		store:   store,
		users:   users,
		metrics: m,
		logger:  logger,
	}
}

// PriceSDKCall returns the SDK_CALL spend of a user. No rows is 0.
func (s *PricingService) PriceSDKCall(ctx context.Context, userID string, w event.RequestData) (amount int64, err error) {
	defer s.observe(event.KindRequestSDKCall, userID, time.Now(), &err)
	return s.query(ctx, userID, w, s.store.SumSDKDebits)
}

// PriceAITokenUsage returns the AI_TOKEN_USAGE spend (input plus output
// debit) of a user. No rows is 0.
func (s *PricingService) PriceAITokenUsage(ctx context.Context, userID string, w event.RequestData) (amount int64, err error) {
	defer s.observe(event.KindRequestAITokenUsage, userID, time.Now(), &err)
	return s.query(ctx, userID, w, s.store.SumAITokenDebits)
}

// PricePayment returns what a user owes: SDK_CALL spend plus AI_TOKEN_USAGE
// spend. It composes the two prices rather than querying on its own, and
// fails if either part fails. Only the composite query is observed.
func (s *PricingService) PricePayment(ctx context.Context, userID string, w event.RequestData) (amount int64, err error) {
	defer s.observe(event.KindRequestPayment, userID, time.Now(), &err)
	return s.owed(ctx, userID, w)
}

// Credits returns the sum of PAYMENT credits of a user.
func (s *PricingService) Credits(ctx context.Context, userID string, w event.RequestData) (int64, error) {
	return s.query(ctx, userID, w, s.store.SumPaymentCredits)
}

// Balance returns credits minus what the user owes. Negative means the
// user is in debt.
func (s *PricingService) Balance(ctx context.Context, userID string, w event.RequestData) (int64, error) {
	credits, err := s.Credits(ctx, userID, w)
	if err != nil {
		return 0, err
	}
	owed, err := s.owed(ctx, userID, w)
	if err != nil {
		return 0, err
	}
	if owed == math.MinInt64 {
		return 0, failure.New(failure.PriceCalculationFailed, "balance overflows int64")
	}
	return addAmounts(credits, -owed)
}

func (s *PricingService) owed(ctx context.Context, userID string, w event.RequestData) (int64, error) {
	sdk, err := s.query(ctx, userID, w, s.store.SumSDKDebits)
	if err != nil {
		return 0, err
	}
	ai, err := s.query(ctx, userID, w, s.store.SumAITokenDebits)
	if err != nil {
		return 0, err
	}
	return addAmounts(sdk, ai)
}

type sumFunc func(ctx context.Context, userID string, w event.RequestData) (ports.Aggregate, error)

func (s *PricingService) query(ctx context.Context, userID string, w event.RequestData, sum sumFunc) (int64, error) {
	user, err := s.parseUser(userID)
	if err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	agg, err := sum(ctx, user, w)
	if err != nil {
		return 0, failure.Boundary(err, "price query")
	}
	return amountOf(agg)
}

func (s *PricingService) parseUser(raw string) (string, error) {
	if raw == "" {
		return "", failure.New(failure.InvalidData, "userId is required")
	}
	id, err := s.users.Parse(raw)
	if err != nil {
		return "", failure.Wrap(failure.InvalidData, err, "userId")
	}
	return id.String(), nil
}

func (s *PricingService) observe(kind event.Kind, userID string, start time.Time, err *error) {
	s.metrics.ObservePrice(string(kind), start, *err)
	if *err != nil {
		s.logger.Warn().Err(*err).
			Str("kind", string(kind)).
			Str("user_id", userID).
			Msg("price query failed")
	}
}

// amountOf converts a raw aggregate. NULL (no rows) is 0; anything that
// does not parse as a whole number fails instead of defaulting.
func amountOf(agg ports.Aggregate) (int64, error) {
	if !agg.Valid {
		return 0, nil
	}
	n, err := event.ParseWholeAmount(agg.Value)
	if err != nil {
		if failure.Recognized(err) {
			return 0, err
		}
		return 0, failure.Wrap(failure.PriceCalculationFailed, err, "aggregate "+agg.Value)
	}
	return n, nil
}

func addAmounts(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, failure.New(failure.PriceCalculationFailed, "amount overflows int64")
	}
	return a + b, nil
}
