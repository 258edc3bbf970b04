package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/ratelimit"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

// App coordinates the HTTP listener, session lifecycle and post fan-out.
type App struct {
	cfg         config.ServerConfig
	store       storage.Store
	registry    *Registry
	broadcaster *Broadcaster
	limiter     ratelimit.Limiter
	metrics     *Metrics
	gatherer    prometheus.Gatherer
	origins     originPolicy
	upgrader    websocket.Upgrader
	handler     http.Handler
	tracer      trace.Tracer
	sessions    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp constructs a server instance using the provided dependencies.
// A nil limiter falls back to an in-memory token bucket.
func NewApp(cfg config.ServerConfig, store storage.Store, limiter ratelimit.Limiter) *App {
	if limiter == nil {
		limiter = ratelimit.NewTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.Interval)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = storage.DefaultHistoryLimit
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, metrics),
		limiter:     limiter,
		metrics:     metrics,
		gatherer:    reg,
		origins:     newOriginPolicy(cfg.AllowedOrigins),
		tracer:      otel.Tracer(tracerName),
		ctx:         ctx,
		cancel:      cancel,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.origins.check,
	}
	a.handler = a.routes()
	return a
}

// Handler returns the HTTP handler serving the board.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Registry exposes the live session set.
func (a *App) Registry() *Registry {
	return a.registry
}

// Run migrates storage and serves until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Printf("listening addr=%s", listener.Addr())

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx, srv)
	})
	return g.Wait()
}

// Shutdown stops accepting requests, closes every live session and waits
// for their goroutines until ctx expires.
func (a *App) Shutdown(ctx context.Context, srv *http.Server) error {
	log.Printf("shutting down sessions=%d", a.registry.Count())
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	a.CloseSessions()
	if waitErr := a.waitSessions(ctx); waitErr != nil {
		log.Printf("shutdown incomplete sessions=%d err=%v", a.registry.Count(), waitErr)
		if err == nil {
			err = waitErr
		}
	}
	return err
}

func (a *App) waitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

// CloseSessions cancels in-flight session work and closes every registered session.
func (a *App) CloseSessions() {
	a.cancel()
	for _, s := range a.registry.Snapshot() {
		s.close()
	}
}
