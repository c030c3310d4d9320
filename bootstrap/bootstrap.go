// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apihttp "github.com/artpar/billmeter/adapters/http"
	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/artpar/billmeter/adapters/sqlstore"
	"github.com/artpar/billmeter/app"
	"github.com/artpar/billmeter/config"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/artpar/billmeter/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Core is the storage and service layer without any transport. The CLI
// uses it directly; App puts HTTP in front of it.
type Core struct {
	DB         *sqlstore.DB
	Ingest     *app.IngestService
	Pricing    *app.PricingService
	Dispatcher *app.Dispatcher
}

// OpenCore connects to the configured database, applies the schema when
// auto_schema is on and builds the services. m may be nil.
func OpenCore(ctx context.Context, cfg *config.Config, m *metrics.Collector, logger zerolog.Logger) (*Core, error) {
	scheme := ident.Scheme(cfg.Identity.UserIDScheme)
	users, err := ident.NewParser(scheme)
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(StoreOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Database.AutoSchemaEnabled() {
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	logger.Info().
		Str("driver", db.Dialect().Name()).
		Str("user_id_scheme", string(scheme)).
		Bool("auto_schema", cfg.Database.AutoSchemaEnabled()).
		Msg("database initialized")

	ingest := app.NewIngestService(db, users, m, logger.With().Str("component", "ingest").Logger())
	pricing := app.NewPricingService(db, users, m, logger.With().Str("component", "pricing").Logger())
	dispatcher, err := app.NewDispatcher(ingest, pricing)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Core{DB: db, Ingest: ingest, Pricing: pricing, Dispatcher: dispatcher}, nil
}

// StoreOptions maps the database and identity sections onto sqlstore.
func StoreOptions(cfg *config.Config) sqlstore.Options {
	return sqlstore.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		UserIDScheme:    ident.Scheme(cfg.Identity.UserIDScheme),
	}
}

// Close releases the database.
func (c *Core) Close() error {
	return c.DB.Close()
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Core       *Core
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry

	buffer *TokenUsageBuffer
	holder *config.Holder
}

// Options configures New.
type Options struct {
	// ConfigPath is an optional YAML file. Without it, configuration comes
	// from BILLMETER_* environment variables.
	ConfigPath string

	// Watch enables hot reload of ConfigPath via fsnotify and SIGHUP.
	Watch bool

	// Version is reported by /version.
	Version string

	// LogOutput defaults to os.Stdout.
	LogOutput io.Writer
}

// New loads configuration and initializes the application.
func New(opts Options) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)
	if opts.ConfigPath != "" && fileExists(opts.ConfigPath) {
		holder, err = config.NewHolder(opts.ConfigPath, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		cfg = holder.Get()
	} else {
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
	}

	a, err := NewWithConfig(cfg, opts)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		a.attachHolder(holder, opts.Watch)
	}
	return a, nil
}

// NewWithConfig initializes the application from an already loaded config.
func NewWithConfig(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := NewLogger(cfg.Logging.Level, cfg.Logging.Format, out)

	logger.Info().Msg("initializing billmeter")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	if cfg.Metrics.IsEnabled() {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	core, err := OpenCore(context.Background(), cfg, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("init core: %w", err)
	}
	a.Core = core

	if cfg.Ingest.BufferAITokenUsage {
		a.buffer = NewTokenUsageBuffer(core.Ingest, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, a.Metrics,
			logger.With().Str("component", "buffer").Logger())
		logger.Info().
			Int("batch_size", cfg.Ingest.BatchSize).
			Dur("flush_interval", cfg.Ingest.FlushInterval).
			Msg("AI token usage buffering enabled")
	}

	a.initHTTPServer(opts.Version)
	return a, nil
}

func (a *App) initHTTPServer(version string) {
	var buffer ports.BatchRecorder
	if a.buffer != nil {
		buffer = a.buffer
	}

	events := apihttp.NewEventHandler(a.Core.Dispatcher, a.Core.Pricing, buffer, a.Logger)
	rc := apihttp.RouterConfig{
		Metrics:     a.Metrics,
		MetricsPath: a.Config.Metrics.Path,
		Version:     version,

		EnableOpenAPI: a.Config.Server.OpenAPIEnabled(),
	}
	if a.Registry != nil {
		rc.Gatherer = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
	}
	router := apihttp.NewRouter(events, apihttp.NewHealthHandler(a.Core.DB), a.Logger, rc)

	a.HTTPServer = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

func (a *App) attachHolder(h *config.Holder, watch bool) {
	a.holder = h
	h.SetLogger(a.Logger)
	h.SetMetrics(a.Metrics)
	h.OnChange(a.applyConfig)
	if !watch {
		return
	}
	if err := h.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	h.WatchSignals()
}

// applyConfig applies the reloadable subset of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if a.buffer != nil {
		a.buffer.Reconfigure(cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval)
	}
	a.Logger.Info().Str("log_level", cfg.Logging.Level).Msg("configuration applied")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application: HTTP first, then the buffer
// flush, then the database.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
		a.holder = nil
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.buffer != nil {
		if err := a.buffer.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("token usage buffer close error")
		}
	}

	if a.Core != nil {
		if err := a.Core.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(level, format string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
