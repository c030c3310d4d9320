// Package http provides the HTTP surface for event ingest and pricing.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/artpar/billmeter/app"
	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// APIKeyHeader carries the api_keys id events are attributed to.
const APIKeyHeader = "X-Api-Key-Id"

const maxBodyBytes = 10 << 20

// OpenAPIPath is where the API description is served.
const OpenAPIPath = "/.well-known/openapi.json"

//go:embed openapi.json
var openAPIDoc []byte

// ErrorResponseBody is the JSON body of every error response.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the failure kind and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchRequest is the body of POST /v1/events/batch.
type BatchRequest struct {
	Events []event.Envelope `json:"events"`
}

// BatchResponse lists the stored event ids.
type BatchResponse struct {
	IDs []string `json:"ids"`
}

// PriceResponse is the result of a price query.
type PriceResponse struct {
	Type   event.Kind `json:"type"`
	UserID string     `json:"userId"`
	Amount int64      `json:"amount"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// Dispatcher routes serialized events.
type Dispatcher interface {
	Add(ctx context.Context, apiKeyID string, env event.Envelope) (app.Result, error)
	AddBatch(ctx context.Context, apiKeyID string, envs []event.Envelope) ([]string, error)
	Price(ctx context.Context, env event.Envelope) (int64, error)
}

// Pricer answers per-user totals.
type Pricer interface {
	PricePayment(ctx context.Context, userID string, w event.RequestData) (int64, error)
	Balance(ctx context.Context, userID string, w event.RequestData) (int64, error)
}

// EventHandler serves the /v1 API.
type EventHandler struct {
	dispatch Dispatcher
	pricing  Pricer
	buffer   ports.BatchRecorder
	logger   zerolog.Logger
}

// NewEventHandler creates the /v1 handler. buffer may be nil, in which case
// AI_TOKEN_USAGE events are written synchronously.
func NewEventHandler(dispatch Dispatcher, pricing Pricer, buffer ports.BatchRecorder, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		dispatch: dispatch,
		pricing:  pricing,
		buffer:   buffer,
		logger:   logger,
	}
}

// Routes returns the /v1 sub-router.
func (h *EventHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/events", h.AddEvent)
	r.Post("/events/batch", h.AddBatch)
	r.Post("/price", h.Price)
	r.Get("/users/{userID}/owed", h.Owed)
	r.Get("/users/{userID}/balance", h.Balance)
	return r
}

// AddEvent stores one event. AI_TOKEN_USAGE is queued when a buffer is
// configured and answered with 202.
func (h *EventHandler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var env event.Envelope
	if !h.decode(w, r, &env) {
		return
	}
	apiKeyID := r.Header.Get(APIKeyHeader)

	if h.buffer != nil && env.SQL.Type == event.KindAITokenUsage {
		err := h.buffer.Record(apiKeyID, env.SQL)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffered"})
			return
		case !errors.Is(err, ports.ErrNotBufferable):
			h.writeFailure(w, r, err)
			return
		}
		// Refunds skip the buffer and are stored synchronously.
	}

	res, err := h.dispatch.Add(r.Context(), apiKeyID, env)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// AddBatch stores an aggregated AI_TOKEN_USAGE batch.
func (h *EventHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	ids, err := h.dispatch.AddBatch(r.Context(), r.Header.Get(APIKeyHeader), req.Events)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusCreated, BatchResponse{IDs: ids})
}

// Price answers a REQUEST_* envelope.
func (h *EventHandler) Price(w http.ResponseWriter, r *http.Request) {
	var env event.Envelope
	if !h.decode(w, r, &env) {
		return
	}

	amount, err := h.dispatch.Price(r.Context(), env)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{Type: env.SQL.Type, UserID: env.SQL.UserID, Amount: amount})
}

// Owed returns the REQUEST_PAYMENT amount for a user. Optional from and to
// query parameters bound the window.
func (h *EventHandler) Owed(w http.ResponseWriter, r *http.Request) {
	h.userTotal(w, r, event.KindRequestPayment, h.pricing.PricePayment)
}

// Balance returns credits minus the owed amount for a user.
func (h *EventHandler) Balance(w http.ResponseWriter, r *http.Request) {
	h.userTotal(w, r, "BALANCE", h.pricing.Balance)
}

func (h *EventHandler) userTotal(w http.ResponseWriter, r *http.Request, kind event.Kind, total func(context.Context, string, event.RequestData) (int64, error)) {
	userID := chi.URLParam(r, "userID")
	window, err := windowFromQuery(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	amount, err := total(r.Context(), userID, window)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{Type: kind, UserID: userID, Amount: amount})
}

func windowFromQuery(r *http.Request) (event.RequestData, error) {
	var w event.RequestData
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := event.ParseTimestamp(s)
		if err != nil {
			return w, failure.Prefix(err, "from")
		}
		w.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := event.ParseTimestamp(s)
		if err != nil {
			return w, failure.Prefix(err, "to")
		}
		w.To = &t
	}
	return w, nil
}

func (h *EventHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeFailure(w, r, failure.Wrap(failure.InvalidData, err, "read request body"))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.writeFailure(w, r, failure.Wrap(failure.InvalidData, err, "decode request body"))
		return false
	}
	return true
}

func (h *EventHandler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	writeError(w, status, err)
}

// StatusFor maps a failure kind to an HTTP status.
func StatusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.InvalidData, failure.InvalidTimestamp, failure.MissingAPIKeyID,
		failure.UnknownEventType, failure.SerializationFailed:
		return http.StatusBadRequest
	case failure.ConstraintViolation:
		return http.StatusConflict
	case failure.PriceCalculationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := string(failure.KindOf(err))
	msg := err.Error()
	if code == "" {
		code = "INTERNAL"
		msg = "internal error"
	}
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Msg != "" && status >= http.StatusInternalServerError {
		msg = fe.Msg
	}
	writeJSON(w, status, ErrorResponseBody{Error: ErrorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store HealthChecker
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks that the database answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionHandler returns the build version.
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "billmeter"})
	}
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics     *metrics.Collector
	MetricsPath string       // default "/metrics"
	Gatherer    http.Handler // optional /metrics handler; promhttp.Handler() when nil
	Version     string

	EnableOpenAPI bool // serve OpenAPIPath and the Swagger UI under /swagger/
}

// NewRouter creates the main HTTP router.
func NewRouter(events *EventHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, metricsPath))
	}

	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		h := cfg.Gatherer
		if h == nil {
			h = promhttp.Handler()
		}
		r.Handle(metricsPath, h)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	r.Get("/version", VersionHandler(version))

	if cfg.EnableOpenAPI {
		r.Get(OpenAPIPath, OpenAPI)
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL(OpenAPIPath),
		))
	}

	r.Mount("/v1", events.Routes())

	return r
}

// OpenAPI serves the embedded API description.
func OpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(openAPIDoc)
}

// skipInstrumentation reports whether path is an operational endpoint that
// metrics and request logs leave out.
func skipInstrumentation(path, metricsPath string) bool {
	return strings.HasPrefix(path, "/health") || path == metricsPath ||
		strings.HasPrefix(path, "/swagger") || strings.HasPrefix(path, "/.well-known")
}

// NewMetricsMiddleware records request counts and durations by route
// pattern, so user ids never become label values.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipInstrumentation(r.URL.Path, metricsPath) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NewLoggingMiddleware logs HTTP requests.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if skipInstrumentation(r.URL.Path, "/metrics") {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
