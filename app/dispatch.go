package app

import (
	"context"
	"fmt"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
)

type (
	writeHandler func(ctx context.Context, apiKeyID string, rec event.Record) (Result, error)
	priceHandler func(ctx context.Context, rec event.Record) (int64, error)
)

// Dispatcher is the single entry point for serialized events. It maps each
// event kind to exactly one handler and fails closed on anything else.
type Dispatcher struct {
	ingest *IngestService
	writes map[event.Kind]writeHandler
	prices map[event.Kind]priceHandler
}

// NewDispatcher builds the dispatch table and checks that every known kind
// has exactly one handler.
func NewDispatcher(ingest *IngestService, pricing *PricingService) (*Dispatcher, error) {
	d := &Dispatcher{
		ingest: ingest,
		writes: map[event.Kind]writeHandler{
			event.KindSDKCall:      ingest.AddSDKCall,
			event.KindPayment:      ingest.AddPayment,
			event.KindAITokenUsage: ingest.AddAITokenUsage,
			event.KindAddKey: func(ctx context.Context, _ string, rec event.Record) (Result, error) {
				return ingest.AddKey(ctx, rec)
			},
		},
		prices: map[event.Kind]priceHandler{
			event.KindRequestSDKCall:      priceBy(event.KindRequestSDKCall, pricing.PriceSDKCall),
			event.KindRequestAITokenUsage: priceBy(event.KindRequestAITokenUsage, pricing.PriceAITokenUsage),
			event.KindRequestPayment:      priceBy(event.KindRequestPayment, pricing.PricePayment),
		},
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	return d, nil
}

// verify fails unless the table covers event.AllKinds() exactly: one write
// handler per mutating kind, one price handler per request kind.
func (d *Dispatcher) verify() error {
	known := make(map[event.Kind]bool)
	for _, k := range event.AllKinds() {
		known[k] = true
		_, w := d.writes[k]
		_, p := d.prices[k]
		switch {
		case w && p:
			return fmt.Errorf("dispatch: %s has both a write and a price handler", k)
		case k.IsRequest() && !p:
			return fmt.Errorf("dispatch: no price handler for %s", k)
		case !k.IsRequest() && !w:
			return fmt.Errorf("dispatch: no write handler for %s", k)
		}
	}
	for k := range d.writes {
		if !known[k] {
			return fmt.Errorf("dispatch: write handler for unknown kind %s", k)
		}
	}
	for k := range d.prices {
		if !known[k] {
			return fmt.Errorf("dispatch: price handler for unknown kind %s", k)
		}
	}
	return nil
}

// Add routes a mutating envelope to its write pipeline.
func (d *Dispatcher) Add(ctx context.Context, apiKeyID string, env event.Envelope) (Result, error) {
	kind := env.SQL.Type
	if h, ok := d.writes[kind]; ok {
		return h(ctx, apiKeyID, env.SQL)
	}
	if _, ok := d.prices[kind]; ok {
		return Result{}, failure.Newf(failure.InvalidData, "%s is a price request and cannot be stored", kind)
	}
	return Result{}, unknownKind(kind)
}

// AddBatch stores one delivery batch of AI_TOKEN_USAGE envelopes, aggregated
// by (user, model).
func (d *Dispatcher) AddBatch(ctx context.Context, apiKeyID string, envs []event.Envelope) ([]string, error) {
	recs := make([]event.Record, len(envs))
	for i, env := range envs {
		kind := env.SQL.Type
		switch {
		case kind == event.KindAITokenUsage:
		case d.known(kind):
			return nil, failure.Newf(failure.InvalidData, "events[%d]: batches accept only %s, got %s", i, event.KindAITokenUsage, kind)
		default:
			return nil, unknownKind(kind)
		}
		recs[i] = env.SQL
	}
	return d.ingest.AddAITokenUsageBatch(ctx, apiKeyID, recs)
}

// Price routes a REQUEST_* envelope to its pricing function.
func (d *Dispatcher) Price(ctx context.Context, env event.Envelope) (int64, error) {
	kind := env.SQL.Type
	if h, ok := d.prices[kind]; ok {
		return h(ctx, env.SQL)
	}
	if _, ok := d.writes[kind]; ok {
		return 0, failure.Newf(failure.InvalidData, "%s is not a price request", kind)
	}
	return 0, unknownKind(kind)
}

// AddEvent serializes e and stores it.
func (d *Dispatcher) AddEvent(ctx context.Context, apiKeyID string, e event.Event) (Result, error) {
	env, err := e.Serialize()
	if err != nil {
		return Result{}, err
	}
	return d.Add(ctx, apiKeyID, env)
}

// PriceEvent serializes e and prices it.
func (d *Dispatcher) PriceEvent(ctx context.Context, e event.Event) (int64, error) {
	env, err := e.Serialize()
	if err != nil {
		return 0, err
	}
	return d.Price(ctx, env)
}

func (d *Dispatcher) known(k event.Kind) bool {
	_, w := d.writes[k]
	_, p := d.prices[k]
	return w || p
}

func priceBy(kind event.Kind, price func(context.Context, string, event.RequestData) (int64, error)) priceHandler {
	return func(ctx context.Context, rec event.Record) (int64, error) {
		if err := expectKind(rec, kind); err != nil {
			return 0, err
		}
		w, err := event.DecodeRequest(rec)
		if err != nil {
			return 0, err
		}
		return price(ctx, rec.UserID, w)
	}
}

func unknownKind(k event.Kind) error {
	return failure.Newf(failure.UnknownEventType, "unknown event type %q", string(k))
}
