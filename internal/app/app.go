// Package app wires the MindfulCart subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the routes, Run serves
// until the context is cancelled, and Shutdown drains in-flight requests and
// runs the registered closers in order.
//
// For testing, inject doubles via functional options (WithResponder,
// WithMetrics, etc.) and drive [App.Handler] with httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindfulcart/internal/chatapi"
	"github.com/MrWong99/mindfulcart/internal/config"
	"github.com/MrWong99/mindfulcart/internal/health"
	"github.com/MrWong99/mindfulcart/internal/observe"
	"github.com/MrWong99/mindfulcart/internal/resilience"
)

// DefaultShutdownTimeout bounds the drain of in-flight requests when Run's
// context is cancelled.
const DefaultShutdownTimeout = 15 * time.Second

// App owns the HTTP server and everything it serves.
type App struct {
	cfg        *config.Config
	dispatcher *resilience.Dispatcher

	metrics        *observe.Metrics
	metricsHandler http.Handler
	responder      chatapi.Responder
	checkers       []health.Checker

	handler         http.Handler
	server          *http.Server
	shutdownTimeout time.Duration
	addr            atomic.Value

	// closers are called in order during Shutdown, after the server drained.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce    sync.Once
	shutdownErr error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records request, chat, and provider metrics into m. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithResponder replaces the local responder used when every provider fails.
func WithResponder(r chatapi.Responder) Option {
	return func(a *App) { a.responder = r }
}

// WithReadinessCheck adds a check to /readyz.
func WithReadinessCheck(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func(context.Context) error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// WithShutdownTimeout overrides [DefaultShutdownTimeout].
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App serving the chat endpoint backed by d, the health
// endpoints, and (if configured) the metrics endpoint.
func New(cfg *config.Config, d *resilience.Dispatcher, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if d == nil {
		return nil, errors.New("app: dispatcher must not be nil")
	}
	a := &App{
		cfg:             cfg,
		dispatcher:      d,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.handler = observe.Middleware(a.metrics)(a.routes())
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Worst case is every provider running to its timeout.
		WriteTimeout: a.worstCaseLatency() + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	return a, nil
}

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	chatOpts := []chatapi.Option{chatapi.WithMetrics(a.metrics)}
	if a.responder != nil {
		chatOpts = append(chatOpts, chatapi.WithResponder(a.responder))
	}
	chatapi.New(a.dispatcher, chatapi.Config{
		SystemPrompt: a.cfg.Chat.SystemPrompt,
		HistoryLimit: a.cfg.Chat.HistoryLimit,
		MaxTokens:    a.cfg.Chat.MaxTokens,
		Temperature:  a.cfg.Chat.Temperature,
	}, chatOpts...).Register(mux)

	checkers := append([]health.Checker{health.Providers(a.dispatcher)}, a.checkers...)
	health.New(checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return mux
}

// worstCaseLatency sums the per-provider timeouts.
func (a *App) worstCaseLatency() time.Duration {
	var total time.Duration
	for _, p := range a.cfg.Providers {
		t := p.Timeout
		if t <= 0 {
			t = resilience.DefaultTimeout
		}
		total += t
	}
	return total
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the server is listening on, or "" before Run has
// bound its listener.
func (a *App) Addr() string {
	s, _ := a.addr.Load().(string)
	return s
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled or
// the listener fails. On cancellation it drains in-flight requests within the
// shutdown timeout and returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addr.Store(ln.Addr().String())
	slog.Info("server listening", "addr", ln.Addr().String(), "providers", a.dispatcher.Names())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, waits for in-flight requests, then
// runs the closers. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned. Calling Shutdown more than once returns the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "err", err)
			a.shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				a.shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return a.shutdownErr
}
