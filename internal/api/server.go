package api

import (
	"casequeue/internal/config"
	"casequeue/internal/usecase"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Server struct {
	router      *chi.Mux
	manager     *usecase.Manager
	waitTimeout time.Duration
}

// NewServer builds the HTTP surface over a running manager. A zero
// waitTimeout selects usecase.DefaultWaitTimeout.
func NewServer(m *usecase.Manager, cfg config.HTTP, waitTimeout time.Duration) *Server {
	if waitTimeout <= 0 {
		waitTimeout = usecase.DefaultWaitTimeout
	}
	s := &Server{router: chi.NewRouter(), manager: m, waitTimeout: waitTimeout}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetrics(m))

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	r := s.router
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimitHandler(limiter))
			r.Post("/tasks/{serviceType}", s.submit)
			r.Post("/tasks/{serviceType}/wait", s.submitAndWait)
		})
		r.Get("/tasks/{id}", s.task)
		r.Get("/queue/status", s.status)
	})

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		}),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	// Synchronous waits may hold a request for the whole wait budget.
	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: s.waitTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("server serving on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
