// SPDX-License-Identifier: MIT

// Package daemon manages the maskd process lifecycle: HTTP servers, the
// periodic sweeper, and ordered graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/maskd/internal/jobs"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/session"
)

// ShutdownHook is a cleanup function run during graceful shutdown. Hooks
// execute in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Options configures the daemon manager.
type Options struct {
	ListenAddr      string
	MetricsAddr     string // empty disables the metrics server
	SweepInterval   time.Duration
	JobRetention    time.Duration
	ShutdownTimeout time.Duration
}

// Manager runs the API and metrics servers plus the background sweeper,
// and tears everything down in order on shutdown.
type Manager struct {
	opts     Options
	handler  http.Handler
	sessions *session.Manager
	jobs     *jobs.Manager

	apiServer     *http.Server
	metricsServer *http.Server
	sweepStop     context.CancelFunc
	sweepDone     chan struct{}

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool

	logger zerolog.Logger
}

// NewManager wires a daemon manager.
func NewManager(opts Options, handler http.Handler, sessions *session.Manager, jobManager *jobs.Manager) *Manager {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Manager{
		opts:     opts,
		handler:  handler,
		sessions: sessions,
		jobs:     jobManager,
		logger:   log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook registers a cleanup function, run LIFO at
// shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Start launches the servers and the sweeper, then blocks until ctx is
// cancelled or a server fails; either way it runs a bounded graceful
// shutdown before returning.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("daemon manager already started")
	}
	m.started = true
	m.mu.Unlock()

	errChan := make(chan error, 2)

	if m.opts.MetricsAddr != "" {
		m.startMetricsServer(errChan)
	}
	m.startSweeper(ctx)
	m.startAPIServer(errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str(log.FieldEvent, "daemon.stopping").Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) startAPIServer(errChan chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.opts.ListenAddr,
		Handler:           m.handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // mask payloads on slow links
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		m.logger.Info().
			Str("addr", m.opts.ListenAddr).
			Str(log.FieldEvent, "api.server.listening").
			Msg("API server listening")
		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server: %w", err)
		}
	}()
}

func (m *Manager) startMetricsServer(errChan chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.metricsServer = &http.Server{
		Addr:              m.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		m.logger.Info().
			Str("addr", m.opts.MetricsAddr).
			Str(log.FieldEvent, "metrics.server.listening").
			Msg("metrics server listening")
		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// startSweeper periodically evicts idle sessions and reaps old terminal
// jobs until ctx is cancelled.
func (m *Manager) startSweeper(ctx context.Context) {
	m.sweepDone = make(chan struct{})
	if m.opts.SweepInterval <= 0 {
		m.sweepStop = func() {}
		close(m.sweepDone)
		return
	}
	ctx, m.sweepStop = context.WithCancel(ctx)
	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := m.sessions.SweepExpired(); evicted > 0 {
					m.logger.Info().
						Str(log.FieldEvent, "sweep.sessions").
						Int("evicted", evicted).
						Msg("idle sessions evicted")
				}
				m.jobs.Sweep(m.opts.JobRetention)
			}
		}
	}()
}

// Shutdown stops the servers, drains the job pool, closes all sessions,
// then runs registered hooks LIFO. Safe to call once; later calls are
// no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping || !m.started {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().Str(log.FieldEvent, "daemon.shutdown").Msg("shutting down")

	var errs []error

	// Stop admitting first: no new requests, no new jobs.
	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}

	// Drain in-flight propagation work before the sessions go away.
	if err := m.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("job pool shutdown: %w", err))
	}
	m.sessions.CloseAll(ctx)

	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if m.sweepStop != nil {
		m.sweepStop()
	}
	if m.sweepDone != nil {
		select {
		case <-m.sweepDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("sweeper shutdown: %w", ctx.Err()))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.hook(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("stopped cleanly")
	return nil
}
