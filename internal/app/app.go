// Package app wires all voicegate subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the call
// registry, call manager, media-stream endpoint, and HTTP surface; Run serves
// until the context is cancelled; Shutdown drains active calls and tears
// everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/quantabank/voicegate/internal/api"
	"github.com/quantabank/voicegate/internal/call"
	"github.com/quantabank/voicegate/internal/config"
	"github.com/quantabank/voicegate/internal/health"
	"github.com/quantabank/voicegate/internal/observe"
	"github.com/quantabank/voicegate/pkg/provider/llm"
	"github.com/quantabank/voicegate/pkg/provider/stt"
	"github.com/quantabank/voicegate/pkg/provider/tts"
	"github.com/quantabank/voicegate/pkg/telephony/mediaws"
)

// readHeaderTimeout bounds slow-header attacks on the shared listener.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per pipeline stage. All three are
// required; main populates them from the config registry and wraps them in
// resilience fallback groups.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	logLevel *slog.LevelVar

	metrics  *observe.Metrics
	registry *call.Registry
	manager  *call.Manager
	media    *mediaws.Server
	health   *health.Handler
	server   *http.Server
	watcher  *config.Watcher

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithConfigWatch enables hot-reloading of the config file at path. Only the
// log level and the conversation text (greeting, closing and apology
// messages, closing phrases, system prompt) are applied live; everything else
// needs a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) {
		w, err := config.NewWatcher(path, a.applyReload)
		if err != nil {
			a.log.Warn("config watch disabled", "err", err)
			return
		}
		a.watcher = w
	}
}

// New wires the application. logLevel may be nil when the caller does not
// want live log-level changes.
func New(cfg *config.Config, providers Providers, log *slog.Logger, logLevel *slog.LevelVar, opts ...Option) (*App, error) {
	if providers.STT == nil || providers.TTS == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: stt, tts, and llm providers are all required")
	}
	if log == nil {
		log = slog.Default()
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		logLevel: logLevel,
		metrics:  metrics,
		registry: call.NewRegistry(cfg.Call.CompletedLogSize),
		health:   health.New(),
	}
	a.manager = call.NewManager(call.ManagerConfig{
		Registry: a.registry,
		STT:      providers.STT,
		LLM:      providers.LLM,
		TTS:      providers.TTS,
		Voice:    tts.VoiceProfile{ID: cfg.Providers.TTS.VoiceID},
		Metrics:  metrics,
		Logger:   log,
		Call:     cfg.Call,
		Language: cfg.Providers.STT.Language,
	})
	a.media = mediaws.NewServer(a.manager.Handle)

	mux := http.NewServeMux()
	mux.Handle("/telephony/stream", a.media)
	api.New(a.registry, log).Register(mux, metrics)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Run serves HTTP until ctx is cancelled or the listener fails. The caller
// is expected to follow up with Shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown drains the server: readiness flips to draining so load balancers
// stop routing here, active calls are hung up with reason system and given
// until ctx to finish teardown, then the listeners close.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.health.SetDraining(true)
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.media.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
	})
	return errors.Join(errs...)
}

// Registry exposes the session registry, mainly for tests and diagnostics.
func (a *App) Registry() *call.Registry { return a.registry }

// Handler exposes the composed HTTP handler so tests and embedders can serve
// it on their own listener.
func (a *App) Handler() http.Handler { return a.server.Handler }

// applyReload is the config watcher callback.
func (a *App) applyReload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CallChanged {
		a.manager.UpdateConversation(next.Call)
		a.log.Info("conversation text reloaded")
	}
}
