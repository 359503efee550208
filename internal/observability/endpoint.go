package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/observability/metrics"
)

var log = logger.Global().Module("telemetry")

// Endpoint serves Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates an Endpoint. It fails when telemetry is disabled.
func NewEndpoint(settings *conf.TelemetrySettings, m *Metrics) (*Endpoint, error) {
	if settings == nil || !settings.Enabled {
		return nil, errors.Newf("telemetry not enabled in settings").
			Category(errors.CategoryConfiguration).
			Build()
	}

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       m,
		server: &http.Server{
			Addr:              settings.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.Newf("telemetry listen on %s: %w", e.listenAddress, err).Build()
	}
	return e.Serve(ctx, ln)
}

// Serve runs the server on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		return errors.Newf("telemetry server shutdown: %w", err).Build()
	}
	return <-errCh
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
