package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *ArbiterMetrics {
	t.Helper()
	m, err := NewArbiterMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestRecordTransaction(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	m.RecordTransaction(ResultSuccess, 2, 0.01)
	m.RecordTransaction(ResultSuccess, 1, 0.02)
	m.RecordTransaction(ResultNotReady, 0, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.transactionsTotal.WithLabelValues(ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.transactionsTotal.WithLabelValues(ResultNotReady)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.transactionStreams))
}

func TestECRefGauge(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	m.SetECRefActive("speaker", "handset_mic", true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ecRefActive.WithLabelValues("speaker", "handset_mic")), 0)

	m.SetECRefActive("speaker", "handset_mic", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ecRefActive.WithLabelValues("speaker", "handset_mic")), 0)
}

func TestPowerModeRequests(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	m.RecordPowerModeRequest(true, PowerModeDeferred)
	m.RecordPowerModeRequest(false, PowerModeCollapsed)

	assert.InDelta(t, 1, testutil.ToFloat64(m.powerModeRequests.WithLabelValues("lpi", PowerModeDeferred)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.powerModeRequests.WithLabelValues("nlpi", PowerModeCollapsed)), 0)
}

func TestGaugesAndCounters(t *testing.T) {
	t.Parallel()
	m := newTestMetrics(t)

	m.SetAssociations(4)
	m.SetOrphanStreams(1)
	m.SetAccessoryLink("bluetooth_a2dp", "bitrate", 328000)
	m.RecordAccessoryEvent("bluetooth_a2dp", "suspend")
	m.RecordConnectError("speaker", "transient-unavailable")
	m.RecordECRefError("enable", "device")
	m.RecordCaptureProfileSwitch("hp-handset")
	m.RecordError("arbiter", "not-ready")

	assert.InDelta(t, 4, testutil.ToFloat64(m.associationsGauge), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.orphanStreams), 0)
	assert.InDelta(t, 328000, testutil.ToFloat64(m.accessoryLinkGauge.WithLabelValues("bluetooth_a2dp", "bitrate")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.accessoryEventsTotal.WithLabelValues("bluetooth_a2dp", "suspend")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.connectErrorsTotal.WithLabelValues("speaker", "transient-unavailable")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ecRefErrorsTotal.WithLabelValues("enable", "device")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.captureProfileSwitches.WithLabelValues("hp-handset")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues("arbiter", "not-ready")), 0)
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewArbiterMetrics(registry)
	require.NoError(t, err)
	_, err = NewArbiterMetrics(registry)
	assert.Error(t, err)
}
