// Package metrics provides Prometheus collectors for the audio resource manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ArbiterMetrics contains Prometheus metrics for device switching, echo
// reference bookkeeping, capture arbitration and accessory migration.
type ArbiterMetrics struct {
	registry *prometheus.Registry

	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	transactionStreams  prometheus.Histogram
	connectErrorsTotal  *prometheus.CounterVec

	ecRefActive      *prometheus.GaugeVec
	ecRefErrorsTotal *prometheus.CounterVec

	captureProfileSwitches *prometheus.CounterVec
	powerModeRequests      *prometheus.CounterVec

	accessoryEventsTotal *prometheus.CounterVec
	accessoryLinkGauge   *prometheus.GaugeVec

	associationsGauge prometheus.Gauge
	orphanStreams     prometheus.Gauge

	errorsTotal *prometheus.CounterVec
}

// NewArbiterMetrics creates and registers the arbiter collectors.
func NewArbiterMetrics(registry *prometheus.Registry) (*ArbiterMetrics, error) {
	m := &ArbiterMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ArbiterMetrics) initMetrics() {
	m.transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_switch_transactions_total",
			Help: "Total number of device switch transactions by result",
		},
		[]string{"result"},
	)
	m.transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiorm_switch_transaction_duration_seconds",
			Help:    "Time spent executing device switch transactions",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"result"},
	)
	m.transactionStreams = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audiorm_switch_transaction_streams",
			Help:    "Number of streams touched per device switch transaction",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)
	m.connectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_connect_errors_total",
			Help: "Stream device connect failures by device and error category",
		},
		[]string{"device", "category"},
	)
	m.ecRefActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiorm_ec_reference_active",
			Help: "1 when the render device feeds echo reference to the capture device",
		},
		[]string{"render_device", "capture_device"},
	)
	m.ecRefErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_ec_reference_errors_total",
			Help: "Echo reference enable/disable failures",
		},
		[]string{"operation", "category"},
	)
	m.captureProfileSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_capture_profile_switches_total",
			Help: "Number of times the active trigger capture profile changed",
		},
		[]string{"profile"},
	)
	m.powerModeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_power_mode_requests_total",
			Help: "LPI/NLPI switch requests by target mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	m.accessoryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_accessory_events_total",
			Help: "Accessory suspend and resume events",
		},
		[]string{"device", "event"},
	)
	m.accessoryLinkGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiorm_accessory_link",
			Help: "Latest accessory link parameter reported by the codec plugin",
		},
		[]string{"device", "parameter"},
	)
	m.associationsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiorm_active_associations",
			Help: "Number of active device/stream associations",
		},
	)
	m.orphanStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiorm_orphan_streams",
			Help: "Streams waiting for a device after a failed switch",
		},
	)
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiorm_errors_total",
			Help: "Errors built by component and category",
		},
		[]string{"component", "category"},
	)
}

// RecordTransaction records the outcome of one device switch transaction.
func (m *ArbiterMetrics) RecordTransaction(result string, streams int, seconds float64) {
	m.transactionsTotal.WithLabelValues(result).Inc()
	m.transactionDuration.WithLabelValues(result).Observe(seconds)
	if streams > 0 {
		m.transactionStreams.Observe(float64(streams))
	}
}

// RecordConnectError records a failed stream connect.
func (m *ArbiterMetrics) RecordConnectError(device, category string) {
	m.connectErrorsTotal.WithLabelValues(device, category).Inc()
}

// SetECRefActive updates the echo reference state of a device pair.
func (m *ArbiterMetrics) SetECRefActive(renderDevice, captureDevice string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.ecRefActive.WithLabelValues(renderDevice, captureDevice).Set(v)
}

// RecordECRefError records an echo reference failure that was rolled back.
func (m *ArbiterMetrics) RecordECRefError(operation, category string) {
	m.ecRefErrorsTotal.WithLabelValues(operation, category).Inc()
}

// RecordCaptureProfileSwitch records a change of the active capture profile.
func (m *ArbiterMetrics) RecordCaptureProfileSwitch(profile string) {
	m.captureProfileSwitches.WithLabelValues(profile).Inc()
}

// RecordPowerModeRequest records what happened to an LPI/NLPI request.
func (m *ArbiterMetrics) RecordPowerModeRequest(lowPower bool, outcome string) {
	mode := "nlpi"
	if lowPower {
		mode = "lpi"
	}
	m.powerModeRequests.WithLabelValues(mode, outcome).Inc()
}

// RecordAccessoryEvent records an accessory suspend or resume.
func (m *ArbiterMetrics) RecordAccessoryEvent(device, event string) {
	m.accessoryEventsTotal.WithLabelValues(device, event).Inc()
}

// SetAccessoryLink stores the latest bitrate or MTU of an accessory link.
func (m *ArbiterMetrics) SetAccessoryLink(device, parameter string, value float64) {
	m.accessoryLinkGauge.WithLabelValues(device, parameter).Set(value)
}

// SetAssociations sets the size of the association table.
func (m *ArbiterMetrics) SetAssociations(n int) {
	m.associationsGauge.Set(float64(n))
}

// SetOrphanStreams sets the number of streams pending recovery.
func (m *ArbiterMetrics) SetOrphanStreams(n int) {
	m.orphanStreams.Set(float64(n))
}

// RecordError counts an error by component and category.
func (m *ArbiterMetrics) RecordError(component, category string) {
	m.errorsTotal.WithLabelValues(component, category).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ArbiterMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.transactionsTotal.Describe(ch)
	m.transactionDuration.Describe(ch)
	m.transactionStreams.Describe(ch)
	m.connectErrorsTotal.Describe(ch)
	m.ecRefActive.Describe(ch)
	m.ecRefErrorsTotal.Describe(ch)
	m.captureProfileSwitches.Describe(ch)
	m.powerModeRequests.Describe(ch)
	m.accessoryEventsTotal.Describe(ch)
	m.accessoryLinkGauge.Describe(ch)
	m.associationsGauge.Describe(ch)
	m.orphanStreams.Describe(ch)
	m.errorsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ArbiterMetrics) Collect(ch chan<- prometheus.Metric) {
	m.transactionsTotal.Collect(ch)
	m.transactionDuration.Collect(ch)
	m.transactionStreams.Collect(ch)
	m.connectErrorsTotal.Collect(ch)
	m.ecRefActive.Collect(ch)
	m.ecRefErrorsTotal.Collect(ch)
	m.captureProfileSwitches.Collect(ch)
	m.powerModeRequests.Collect(ch)
	m.accessoryEventsTotal.Collect(ch)
	m.accessoryLinkGauge.Collect(ch)
	m.associationsGauge.Collect(ch)
	m.orphanStreams.Collect(ch)
	m.errorsTotal.Collect(ch)
}
