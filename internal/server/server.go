// Package server exposes the metric registry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SourceStatus is one row of the health report.
type SourceStatus struct {
	Source       string  `json:"source"`
	State        string  `json:"state"`
	ErrorSeconds float64 `json:"error_seconds"`
	Published    bool    `json:"published"`
}

// StatusFunc reports the current state of every source.
type StatusFunc func() []SourceStatus

// Options configure the HTTP listener.
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves /metrics and /healthz.
type Server struct {
	opts   Options
	srv    *http.Server
	logger zerolog.Logger
}

// New builds the router around gatherer and status.
func New(opts Options, gatherer prometheus.Gatherer, status StatusFunc, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(Logger(logger))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{logger},
		ErrorHandling: promhttp.ContinueOnError,
	}))
	r.Get("/healthz", Health(status))

	return &Server{
		opts: opts,
		srv: &http.Server{
			Addr:         opts.ListenAddr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		logger: logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// Health reports each source's worker state and accumulated error time.
func Health(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var sources []SourceStatus
		if status != nil {
			sources = status()
		}
		overall := "ok"
		for _, s := range sources {
			if !s.Published {
				overall = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(struct {
			Status  string         `json:"status"`
			Sources []SourceStatus `json:"sources"`
		}{overall, sources})
	}
}

type promLogger struct{ logger zerolog.Logger }

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}
