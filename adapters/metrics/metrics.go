// Package metrics provides Prometheus metrics collection for billmeter.
package metrics

import (
	"time"

	"github.com/artpar/billmeter/domain/failure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billmeter"

// Collector holds all Prometheus metrics for billmeter.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Ingest metrics
	EventsIngested *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec

	// Batch aggregation metrics
	BatchEventsIn  prometheus.Counter
	BatchRowsOut   prometheus.Counter
	BufferedEvents prometheus.Gauge

	// Pricing metrics
	PriceQueries  *prometheus.CounterVec
	PriceDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on reg.
// Tests pass a fresh registry to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Events committed to the store, by kind",
			},
			[]string{"kind"},
		),
		IngestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Rejected or failed writes, by kind and error kind",
			},
			[]string{"kind", "error"},
		),
		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Write pipeline duration in seconds, including the transaction",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),

		BatchEventsIn: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_events_in_total",
				Help:      "AI token usage events received in batches before aggregation",
			},
		),
		BatchRowsOut: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_rows_out_total",
				Help:      "AI token usage rows written after aggregation",
			},
		),
		BufferedEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffered_events",
				Help:      "AI token usage events waiting in the ingest buffer",
			},
		),

		PriceQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_queries_total",
				Help:      "Price queries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PriceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "price_duration_seconds",
				Help:      "Price query duration in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route pattern and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveIngest records the outcome of one write of the given kind.
func (c *Collector) ObserveIngest(kind string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.IngestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.IngestFailures.WithLabelValues(kind, errorLabel(err)).Inc()
		return
	}
	c.EventsIngested.WithLabelValues(kind).Inc()
}

// ObserveBatch records how many events a batch carried and how many rows
// survived aggregation.
func (c *Collector) ObserveBatch(in, out int) {
	if c == nil {
		return
	}
	c.BatchEventsIn.Add(float64(in))
	c.BatchRowsOut.Add(float64(out))
}

// SetBuffered reports the current ingest buffer depth.
func (c *Collector) SetBuffered(n int) {
	if c == nil {
		return
	}
	c.BufferedEvents.Set(float64(n))
}

// ObservePrice records one price query.
func (c *Collector) ObservePrice(kind string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.PriceDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = errorLabel(err)
	}
	c.PriceQueries.WithLabelValues(kind, outcome).Inc()
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// errorLabel keeps label cardinality bounded to the failure taxonomy.
func errorLabel(err error) string {
	if k := failure.KindOf(err); k != "" {
		return string(k)
	}
	return "UNCLASSIFIED"
}
