// Package app wires all EchoVerse subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the background loops until the
// context ends, and Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithSessionManager, ...). Providers are passed in by the caller, usually
// built with [BuildProviders].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echoverse/internal/acquire"
	"github.com/MrWong99/echoverse/internal/config"
	"github.com/MrWong99/echoverse/internal/health"
	"github.com/MrWong99/echoverse/internal/narrate"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/pipeline"
	"github.com/MrWong99/echoverse/internal/rewrite"
	"github.com/MrWong99/echoverse/internal/server"
	"github.com/MrWong99/echoverse/internal/session"
	"github.com/MrWong99/echoverse/internal/textgen"
	"github.com/MrWong99/echoverse/internal/translate"
)

// shutdownTimeout bounds how long in-flight runs may finish after Run's
// context ends.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	configPath     string
	watchInterval  time.Duration

	sessions *session.Manager
	orch     *pipeline.Orchestrator
	health   *health.Handler
	handler  http.Handler
	httpSrv  *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics when metrics are enabled in the
// config.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads adjust the log level of the handler
// that reads lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch reloads the config file at path while Run is active.
// Only the log level is applied live; other changes are logged as needing
// a restart.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithSessionManager injects a session manager instead of creating one
// from config.
func WithSessionManager(m *session.Manager) Option {
	return func(a *App) { a.sessions = m }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	orch, err := a.buildOrchestrator()
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.orch = orch

	if a.sessions == nil {
		a.sessions = session.NewManager(
			session.WithTTL(cfg.Server.SessionTTL),
			session.WithMetrics(a.metrics),
		)
	}

	a.health = health.New(a.checkers()...)

	srvOpts := []server.Option{
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
	}
	if cfg.Observe.MetricsEnabled() && a.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	srv, err := server.New(a.sessions, a.orch, srvOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: build server: %w", err)
	}
	a.handler = srv.Handler()

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) buildOrchestrator() (*pipeline.Orchestrator, error) {
	catalog, err := a.cfg.Catalog()
	if err != nil {
		return nil, err
	}
	tone := rewrite.Neutral
	if a.cfg.Pipeline.DefaultTone != "" {
		if tone, err = rewrite.ParseTone(a.cfg.Pipeline.DefaultTone); err != nil {
			return nil, err
		}
	}
	lang := a.cfg.Pipeline.DefaultLanguage
	if lang == "" {
		lang = config.DefaultLanguage
	}

	params := textgen.Params{
		MaxNewTokens: a.cfg.Generation.MaxNewTokens,
		Temperature:  a.cfg.Generation.Temperature,
	}
	var acqOpts []acquire.Option
	if a.cfg.Server.MaxUploadBytes > 0 {
		acqOpts = append(acqOpts, acquire.WithMaxBytes(a.cfg.Server.MaxUploadBytes))
	}
	return pipeline.New(
		catalog,
		acquire.New(acqOpts...),
		rewrite.New(a.providers.LLM, params),
		translate.New(a.providers.LLM, params),
		narrate.New(a.providers.TTS),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithDefaults(tone, lang),
	)
}

// checkers reports provider slots as optional: a missing backend degrades
// output but the server still answers.
func (a *App) checkers() []health.Checker {
	return []health.Checker{
		{Name: "catalog", Check: func(context.Context) error {
			if len(a.orch.Catalog().Languages()) == 0 {
				return errors.New("voice catalog is empty")
			}
			return nil
		}},
		{Name: "llm", Optional: true, Check: func(context.Context) error {
			if a.providers.LLM == nil {
				return errors.New("not configured; rewriting and translation pass text through")
			}
			return nil
		}},
		{Name: "tts", Optional: true, Check: func(context.Context) error {
			if a.providers.TTS == nil {
				return errors.New("not configured; narration produces no audio")
			}
			return nil
		}},
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the pipeline used by the server. The one-shot CLI
// drives it directly.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. Cancelling ctx drains in-flight requests
// for up to [shutdownTimeout].
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		return a.sessions.RunSweeper(gctx, 0)
	})

	g.Go(func() error {
		a.verifyVoices(gctx)
		return nil
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Info("config hot-reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// onConfigChange applies what can change live and reports the rest.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops accepting runs and drains the HTTP server. It respects
// the context deadline. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len())
		a.health.SetDraining(true)
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown did not complete", "err", err)
			shutdownErr = err
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
