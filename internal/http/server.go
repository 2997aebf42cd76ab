// README: API gateway; owns the HTTP server lifecycle and delegates to module services.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aeras/internal/http/handlers"
	"aeras/internal/modules/dispatch"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/ride"
)

type ServerDeps struct {
	Dispatch  *dispatch.Service
	Rides     *ride.Service
	Operators *operator.Store
	Location  handlers.Reporter
	// Signals serves the device signal-state websocket. Optional.
	Signals http.Handler
	// Registry is exposed on /metrics and receives HTTP metrics. Optional.
	Registry *prometheus.Registry
	Logger   *slog.Logger
	// AllowedOrigins for the browser dashboards. Empty allows any origin.
	AllowedOrigins []string
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
