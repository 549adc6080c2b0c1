package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/healthcheck"
	"github.com/nholik/connectivity-sentinel/internal/metrics"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Config describes the listeners the sentinel exposes.
type Config struct {
	// ListenAddr serves the connectivity API. Health and metrics routes are
	// mounted here too unless they have their own port.
	ListenAddr string
	API        http.Handler

	Tracker         *healthcheck.Tracker
	MonitorInterval time.Duration
	Metrics         *metrics.Metrics

	HealthPort  int
	MetricsPort int
}

// Group tracks the running HTTP servers.
type Group struct {
	wg   sync.WaitGroup
	errs chan error
}

// Errors delivers listener failures. A failed listener does not stop the others.
func (g *Group) Errors() <-chan error {
	return g.errs
}

// Wait blocks until every server has shut down.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Start launches the API, health and metrics servers. All of them shut down
// gracefully once ctx is canceled.
func Start(ctx context.Context, logger zerolog.Logger, cfg Config) *Group {
	group := &Group{errs: make(chan error, 3)}

	for _, listener := range listeners(cfg) {
		group.start(ctx, logger, listener)
	}

	return group
}

type listener struct {
	label   string
	addr    string
	handler http.Handler
}

func listeners(cfg Config) []listener {
	var out []listener

	if cfg.ListenAddr != "" {
		mux := http.NewServeMux()
		if cfg.API != nil {
			mux.Handle("/", cfg.API)
		}
		if cfg.HealthPort == 0 {
			registerHealthRoutes(mux, cfg.Tracker, cfg.MonitorInterval)
		}
		if cfg.MetricsPort == 0 {
			registerMetricsRoute(mux, cfg.Metrics)
		}
		out = append(out, listener{label: "api", addr: cfg.ListenAddr, handler: mux})
	}

	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, cfg.Tracker, cfg.MonitorInterval)
		out = append(out, listener{label: "health", addr: fmt.Sprintf(":%d", cfg.HealthPort), handler: mux})
	}

	if cfg.MetricsPort > 0 && cfg.Metrics != nil {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, cfg.Metrics)
		out = append(out, listener{label: "metrics", addr: fmt.Sprintf(":%d", cfg.MetricsPort), handler: mux})
	}

	return out
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, interval time.Duration) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, interval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func (g *Group) start(ctx context.Context, logger zerolog.Logger, l listener) {
	server := &http.Server{
		Addr:              l.addr,
		Handler:           l.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	log := logger.With().Str("server", l.label).Str("addr", l.addr).Logger()

	served := make(chan struct{})
	g.wg.Add(2)

	go func() {
		defer g.wg.Done()
		defer close(served)
		log.Info().Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			g.errs <- fmt.Errorf("%s server: %w", l.label, err)
		}
	}()

	go func() {
		defer g.wg.Done()
		select {
		case <-ctx.Done():
		case <-served:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()
}
