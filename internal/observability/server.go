package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pygate/pygate/internal/errors"
)

// Both listeners serve tiny responses to local probes, so the timeouts
// are tight.
const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server exposes the metrics and health listeners on their own ports,
// separate from the gate API so probes keep working while the gate is
// saturated.
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *slog.Logger
	healthChecker *HealthChecker
}

// NewServer wires the Prometheus handler and the health/readiness
// endpoints onto two listeners
func NewServer(metricsPort, healthPort int, logger *slog.Logger, healthChecker *HealthChecker) *Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", healthChecker.HealthHandler())
	healthMux.HandleFunc("/ready", healthChecker.ReadyHandler())

	return &Server{
		metricsServer: newListener(metricsPort, metricsMux),
		healthServer:  newListener(healthPort, healthMux),
		logger:        logger,
		healthChecker: healthChecker,
	}
}

func newListener(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Start serves both listeners until ctx is cancelled, then drains them
func (s *Server) Start(ctx context.Context) error {
	s.serve("metrics", s.metricsServer)
	s.serve("health", s.healthServer)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.Shutdown(shutdownCtx)
}

func (s *Server) serve(name string, srv *http.Server) {
	go func() {
		s.logger.Info("observability listener up",
			"listener", name,
			"addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability listener failed",
				"listener", name,
				"error", err.Error())
		}
	}()
}

// Shutdown drains both listeners
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("draining observability listeners")

	if err := s.metricsServer.Shutdown(ctx); err != nil {
		return errors.NewTransientf("metrics listener shutdown: %w", err)
	}

	if err := s.healthServer.Shutdown(ctx); err != nil {
		return errors.NewTransientf("health listener shutdown: %w", err)
	}

	return nil
}
