// Package observability provides metrics and monitoring for the audio resource manager.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/audiorm/internal/buildinfo"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Arbiter  *metrics.ArbiterMetrics
}

// NewMetrics creates the registry and all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Newf("failed to register go collector: %w", err).Build()
	}

	arbiterMetrics, err := metrics.NewArbiterMetrics(registry)
	if err != nil {
		return nil, errors.Newf("failed to create arbiter metrics: %w", err).Build()
	}

	return &Metrics{
		registry: registry,
		Arbiter:  arbiterMetrics,
	}, nil
}

// InstallErrorHook counts every built error by component and category.
func (m *Metrics) InstallErrorHook() {
	errors.AddErrorHook(func(ee *errors.EnhancedError) {
		m.Arbiter.RecordError(ee.GetComponent(), ee.GetCategory())
	})
}

// SetBuildInfo exports the binary version as a constant gauge.
func (m *Metrics) SetBuildInfo(info *buildinfo.Context) error {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiorm_build_info",
		Help: "Build metadata of the running binary, always 1",
		ConstLabels: prometheus.Labels{
			"version":    info.Version(),
			"build_date": info.BuildDate(),
		},
	})
	if err := m.registry.Register(g); err != nil {
		return errors.Newf("failed to register build info: %w", err).Build()
	}
	g.Set(1)
	return nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      handlerLog{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

// handlerLog routes promhttp errors to the telemetry logger.
type handlerLog struct{}

func (handlerLog) Println(v ...any) {
	log.Warn("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
