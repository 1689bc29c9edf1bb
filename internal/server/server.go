// Package server provides the service lifecycle runner: signal handling,
// config loading, observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/nextchapter/internal/config"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/observability"
)

// Version is reported on every span and metric.
var Version = "0.1.0"

// SetupDeps is handed to a service's Setup hook.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger
	Router *mux.Router

	// Readiness registers a dependency check reported by /health.
	Readiness func(name string, check func(context.Context) error)
}

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "nextchapter").
	Name string

	// PortFromConfig extracts the HTTP port for this service from config.
	PortFromConfig func(cfg *config.Config) int

	// Setup wires the service's routes. The returned cleanup runs after the
	// HTTP server has drained. Setup may be nil.
	Setup func(ctx context.Context, deps SetupDeps) (func(context.Context) error, error)
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, HTTP server with health checks, and graceful
// shutdown. If ln is non-nil, it is used instead of creating a new listener
// from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logging with secret redaction
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> HTTP server ---
	service := observability.ServiceInfo{Name: p.Name, Version: Version, Environment: cfg.Environment}

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		Service:      service,
		OTLPEndpoint: cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Service:      service,
		OTLPEndpoint: cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool
	checks := &readiness{}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if shuttingDown.Load() {
			writeHealth(w, http.StatusServiceUnavailable, health{Status: "shutting_down", Service: p.Name})
			return
		}
		writeHealth(w, http.StatusOK, health{Status: "healthy", Service: p.Name})
	}).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			writeHealth(w, http.StatusServiceUnavailable, health{Status: "shutting_down", Service: p.Name})
			return
		}
		failed := checks.run(r.Context())
		if len(failed) > 0 {
			writeHealth(w, http.StatusServiceUnavailable, health{Status: "degraded", Service: p.Name, Failed: failed})
			return
		}
		writeHealth(w, http.StatusOK, health{Status: "healthy", Service: p.Name})
	}).Methods(http.MethodGet)

	// Streams hang off baseCtx so shutdown reaches hijacked connections,
	// which http.Server.Shutdown does not track.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	cleanup := func(context.Context) error { return nil }
	if p.Setup != nil {
		c, setupErr := p.Setup(baseCtx, SetupDeps{
			Config:    cfg,
			Logger:    logger,
			Router:    router,
			Readiness: checks.add,
		})
		if setupErr != nil {
			return fmt.Errorf("setup %s: %w", p.Name, setupErr)
		}
		if c != nil {
			cleanup = c
		}
	}

	// Bind listener (use injected listener or create from config).
	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", p.PortFromConfig(cfg)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:      observability.HTTPMiddleware(p.Name + "/http")(router),
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: Serve HTTP
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Goroutine 2: Shutdown trigger - waits for context cancellation, then drains.
	// Shutdown order is explicit reverse of startup: HTTP server -> service -> metrics -> tracer.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down - health checks return 503
		shuttingDown.Store(true)

		// 2. Drain delay - let load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Close open streams, then drain HTTP server
		cancelBase()
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Release service resources
		if cleanupErr := cleanup(httpCtx); cleanupErr != nil {
			logger.Error("service cleanup error", slog.String("error", cleanupErr.Error()))
		}

		// 5. Flush OTEL (reverse: metrics first, then tracer)
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := metricsProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown metrics", slog.String("error", shutdownErr.Error()))
		}
		if shutdownErr := tracerProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

type health struct {
	Status  string   `json:"status"`
	Service string   `json:"service"`
	Failed  []string `json:"failed,omitempty"`
}

func writeHealth(w http.ResponseWriter, status int, body health) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// readiness holds the dependency checks behind /health.
type readiness struct {
	mu     sync.Mutex
	checks []readinessCheck
}

func (r *readiness) add(name string, check func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, readinessCheck{name: name, check: check})
}

// run returns the names of failing checks.
func (r *readiness) run(ctx context.Context) []string {
	r.mu.Lock()
	checks := append([]readinessCheck(nil), r.checks...)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, domain.RedisTimeout)
	defer cancel()

	var failed []string
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			failed = append(failed, c.name)
		}
	}
	return failed
}
