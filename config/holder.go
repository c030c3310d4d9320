// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/artpar/billmeter/adapters/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// fileSettle is how long the watcher waits after the last write before
// reloading. Editors often save in several steps.
const fileSettle = 50 * time.Millisecond

// field describes one setting the holder knows how to compare.
type field struct {
	name       string
	reloadable bool
	changed    func(old, new *Config) bool
}

var fields = []field{
	{"logging.level", true, func(o, n *Config) bool { return o.Logging.Level != n.Logging.Level }},
	{"ingest.batch_size", true, func(o, n *Config) bool { return o.Ingest.BatchSize != n.Ingest.BatchSize }},
	{"ingest.flush_interval", true, func(o, n *Config) bool { return o.Ingest.FlushInterval != n.Ingest.FlushInterval }},
	{"server.host", false, func(o, n *Config) bool { return o.Server.Host != n.Server.Host }},
	{"server.port", false, func(o, n *Config) bool { return o.Server.Port != n.Server.Port }},
	{"database.driver", false, func(o, n *Config) bool { return o.Database.Driver != n.Database.Driver }},
	{"database.dsn", false, func(o, n *Config) bool { return o.Database.DSN != n.Database.DSN }},
	{"identity.user_id_scheme", false, func(o, n *Config) bool { return o.Identity.UserIDScheme != n.Identity.UserIDScheme }},
	{"ingest.buffer_ai_token_usage", false, func(o, n *Config) bool {
		return o.Ingest.BufferAITokenUsage != n.Ingest.BufferAITokenUsage
	}},
}

// Holder owns the live configuration. Readers call Get; a reload swaps the
// whole value, so a *Config is never mutated after it is published.
type Holder struct {
	path    string
	current atomic.Pointer[Config]
	logger  atomic.Pointer[zerolog.Logger]

	mu        sync.Mutex // guards listeners, metrics and reloads
	listeners []func(*Config)
	metrics   *metrics.Collector

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder serving it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	h := &Holder{path: abs, stop: make(chan struct{})}
	h.current.Store(cfg)
	h.SetLogger(logger)
	return h, nil
}

// SetLogger replaces the logger, typically once the application logger
// has been built from the loaded config.
func (h *Holder) SetLogger(l zerolog.Logger) {
	l = l.With().Str("component", "config").Logger()
	h.logger.Store(&l)
}

// SetMetrics records reload outcomes on m.
func (h *Holder) SetMetrics(m *metrics.Collector) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Reload reads the file again. On error the previous config stays live.
func (h *Holder) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.log()
	next, err := Load(h.path)
	h.metrics.ObserveReload(err)
	if err != nil {
		log.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous config")
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(next)
	h.report(prev, next)
	for _, fn := range h.listeners {
		fn(next)
	}
	return nil
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so atomic renames are seen too.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = w

	go h.watch(w)
	h.log().Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				h.log().Info().Msg("SIGHUP received")
				_ = h.Reload()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watch(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle.Reset(fileSettle)
		case <-settle.C:
			_ = h.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.log().Error().Err(err).Msg("config watcher error")
		case <-h.stop:
			return
		}
	}
}

// report logs what a reload changed. Settings that only take effect on
// restart are logged at warn level.
func (h *Holder) report(prev, next *Config) {
	log := h.log()
	var applied, pending []string
	for _, f := range fields {
		if !f.changed(prev, next) {
			continue
		}
		if f.reloadable {
			applied = append(applied, f.name)
		} else {
			pending = append(pending, f.name)
		}
	}
	if len(pending) > 0 {
		log.Warn().Strs("fields", pending).Msg("config changed; restart required to apply")
	}
	log.Info().Strs("applied", applied).Msg("configuration reloaded")
}

func (h *Holder) log() *zerolog.Logger {
	return h.logger.Load()
}

// ReloadableFields lists the settings a reload applies immediately.
func ReloadableFields() []string {
	return fieldNames(true)
}

// NonReloadableFields lists the settings that need a restart.
func NonReloadableFields() []string {
	return fieldNames(false)
}

func fieldNames(reloadable bool) []string {
	var out []string
	for _, f := range fields {
		if f.reloadable == reloadable {
			out = append(out, f.name)
		}
	}
	return out
}
