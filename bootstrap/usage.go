package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/ports"
	"github.com/rs/zerolog"
)

// ErrBufferClosed is returned by Record after Close.
var ErrBufferClosed = errors.New("token usage buffer closed")

// TokenUsageWriter validates and stores AI_TOKEN_USAGE batches.
type TokenUsageWriter interface {
	CheckAITokenUsage(apiKeyID string, rec event.Record) error
	AddAITokenUsageBatch(ctx context.Context, apiKeyID string, recs []event.Record) ([]string, error)
}

// TokenUsageBuffer queues AI_TOKEN_USAGE records per API key and writes
// them as aggregated batches, either when batchSize records are pending or
// every flushInterval.
type TokenUsageBuffer struct {
	writer  TokenUsageWriter
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu        sync.Mutex
	pending   map[string][]event.Record
	count     int
	batchSize int
	closed    bool

	resetCh   chan time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewTokenUsageBuffer creates a buffer and starts its flush loop.
func NewTokenUsageBuffer(w TokenUsageWriter, batchSize int, flushInterval time.Duration, m *metrics.Collector, logger zerolog.Logger) *TokenUsageBuffer {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	b := &TokenUsageBuffer{
		writer:    w,
		metrics:   m,
		logger:    logger,
		pending:   make(map[string][]event.Record),
		batchSize: batchSize,
		resetCh:   make(chan time.Duration, 1),
		stopCh:    make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushLoop(flushInterval)

	return b
}

// Record validates rec and queues it. A full buffer is written in the
// background.
func (b *TokenUsageBuffer) Record(apiKeyID string, rec event.Record) error {
	if err := b.writer.CheckAITokenUsage(apiKeyID, rec); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	b.pending[apiKeyID] = append(b.pending[apiKeyID], rec)
	b.count++

	if b.count >= b.batchSize {
		batches := b.takeLocked()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := b.write(ctx, batches); err != nil {
				b.logger.Error().Err(err).Msg("background token usage flush failed")
			}
		}()
	}
	b.metrics.SetBuffered(b.count)
	return nil
}

// Flush writes everything queued so far and waits for the result.
func (b *TokenUsageBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batches := b.takeLocked()
	b.mu.Unlock()

	return b.write(ctx, batches)
}

// Reconfigure applies a new batch size and flush interval. Zero values
// keep the current setting.
func (b *TokenUsageBuffer) Reconfigure(batchSize int, flushInterval time.Duration) {
	if batchSize > 0 {
		b.mu.Lock()
		b.batchSize = batchSize
		b.mu.Unlock()
	}
	if flushInterval > 0 {
		select {
		case b.resetCh <- flushInterval:
		default:
		}
	}
}

// Pending returns the number of queued records.
func (b *TokenUsageBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *TokenUsageBuffer) takeLocked() map[string][]event.Record {
	if b.count == 0 {
		return nil
	}
	batches := b.pending
	b.pending = make(map[string][]event.Record)
	b.count = 0
	b.metrics.SetBuffered(0)
	return batches
}

// write stores one batch per API key. A failed key does not stop the
// others; its records are dropped and logged.
func (b *TokenUsageBuffer) write(ctx context.Context, batches map[string][]event.Record) error {
	var errs []error
	for apiKeyID, recs := range batches {
		ids, err := b.writer.AddAITokenUsageBatch(ctx, apiKeyID, recs)
		if err != nil {
			b.logger.Error().Err(err).
				Str("api_key_id", apiKeyID).
				Int("dropped", len(recs)).
				Msg("token usage flush failed")
			errs = append(errs, err)
			continue
		}
		b.logger.Debug().
			Str("api_key_id", apiKeyID).
			Int("records", len(recs)).
			Int("rows", len(ids)).
			Msg("token usage flushed")
	}
	return errors.Join(errs...)
}

func (b *TokenUsageBuffer) flushLoop(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Error().Err(err).Msg("periodic token usage flush failed")
			}
		case d := <-b.resetCh:
			ticker.Reset(d)
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop, waits for background writes and flushes
// what is left.
func (b *TokenUsageBuffer) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.stopCh)
		b.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = b.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.BatchRecorder = (*TokenUsageBuffer)(nil)
