package arbiter_test

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/observability/metrics"
	"github.com/tphakala/audiorm/internal/stream"
)

func TestNewRequiresDevices(t *testing.T) {
	t.Parallel()

	_, err := arbiter.New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = arbiter.New(&conf.Settings{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestGetInstanceIsShared(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	a, err := h.rm.GetInstance(device.Speaker)
	require.NoError(t, err)
	b, err := h.rm.GetInstance(device.Speaker)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = h.rm.GetInstance("nowhere")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	attrs := h.attrs(device.Speaker)
	attrs.Config.SampleRate = 96000
	require.NoError(t, h.rm.SetDeviceAttributes(device.Speaker, attrs))
	assert.Equal(t, 96000, a.Attributes().Config.SampleRate, "writes are visible through every reference")
}

func TestAssociationTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	music := h.open(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	mic := h.open(arbiter.KindCapture, none(), device.HandsetMic)

	assert.True(t, h.rm.IsAssociated(device.Speaker, music))
	assert.Equal(t, []arbiter.Stream{music}, h.rm.GetActiveStreams(device.Speaker))
	assert.Equal(t, []arbiter.Stream{music, mic}, h.rm.GetActiveStreams(""))

	spk, err := h.rm.GetInstance(device.Speaker)
	require.NoError(t, err)
	h.rm.RegisterDevice(spk, music)
	assert.Len(t, h.rm.Associations(), 2, "duplicate pair is not inserted")

	require.NoError(t, mic.Close(t.Context()))
	assert.Equal(t, []arbiter.Association{{Device: device.Speaker, Stream: music}}, h.rm.Associations())
}

func TestSwitchValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.open(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)

	err := s.SwitchDevice(t.Context(), "nowhere")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	err = s.SwitchDevice(t.Context(), device.HandsetMic)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "playback cannot route to a microphone")

	err = s.SwitchDevice(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	assert.Equal(t, []device.ID{device.Speaker}, s.Devices())
}

func TestSwitchMovesStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)

	require.NoError(t, s.SwitchDevice(t.Context(), device.Handset))
	assert.Equal(t, []device.ID{device.Handset}, s.Devices())
	assert.Empty(t, h.rm.GetActiveStreams(device.Speaker))

	spk, err := h.rm.GetInstance(device.Speaker)
	require.NoError(t, err)
	assert.False(t, spk.IsOpen())
	hs, err := h.rm.GetInstance(device.Handset)
	require.NoError(t, err)
	assert.True(t, hs.IsActive(), "running stream starts its new device")
	assert.False(t, h.rm.InTransaction())
}

func TestSwitchIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	h.start(arbiter.KindPlaybackLowLatency, none(), device.Speaker)

	before := h.rm.Stats()
	require.NoError(t, s.SwitchDevice(t.Context(), device.Speaker))
	require.NoError(t, s.SwitchDevice(t.Context(), device.Speaker))
	after := h.rm.Stats()

	assert.Equal(t, before.Connects, after.Connects)
	assert.Equal(t, before.Disconnects, after.Disconnects)
	assert.Equal(t, before.Transactions, after.Transactions)
	assert.Len(t, h.rm.Associations(), 2)
}

func TestHigherPriorityExplicitRateWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		highFirst bool
	}{
		{"high priority opened first", true},
		{"low priority opened first", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			if tt.highFirst {
				h.open(arbiter.KindPlaybackLowLatency, rate(48000), device.Speaker)
				h.open(arbiter.KindPlaybackDeepBuffer, rate(44100), device.Speaker)
			} else {
				h.open(arbiter.KindPlaybackDeepBuffer, rate(44100), device.Speaker)
				h.open(arbiter.KindPlaybackLowLatency, rate(48000), device.Speaker)
			}
			assert.Equal(t, 48000, h.attrs(device.Speaker).Config.SampleRate)
		})
	}
}

func TestWiderFieldsWinWithoutOverride(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.open(arbiter.KindPlaybackLowLatency, none(), device.Speaker)
	compress := h.open(arbiter.KindPlaybackCompress, none(), device.Speaker)
	assert.Equal(t, 24, h.attrs(device.Speaker).Config.BitWidth, "compress asks for 24 bit")

	require.NoError(t, compress.Close(t.Context()))
	assert.Equal(t, 16, h.attrs(device.Speaker).Config.BitWidth)
}

func TestSharedBackendConverges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	us := h.start(arbiter.KindUltrasound, none(), device.Ultrasound)

	spk, ult := h.attrs(device.Speaker), h.attrs(device.Ultrasound)
	assert.Equal(t, spk.Config, ult.Config, "devices on one backend share a config")
	assert.Equal(t, 96000, spk.Config.SampleRate)
	assert.Equal(t, 24, spk.Config.BitWidth)
	assert.Equal(t, "ultrasound-speaker", spk.CustomConfig)
	assert.Equal(t, "speaker-and-ultrasound", spk.SndName)

	require.NoError(t, us.Close(t.Context()))
	spk = h.attrs(device.Speaker)
	assert.Empty(t, spk.CustomConfig)
	assert.Equal(t, 48000, spk.Config.SampleRate)
	assert.Equal(t, "speaker", spk.SndName)
}

func TestECRefCounting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	tx := h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	rx := h.start(arbiter.KindVoIPRx, none(), device.Speaker)
	assert.Equal(t, 1, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, 1, h.rm.ECRefStreamCount(device.HandsetMic, device.Speaker, tx))

	music := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	assert.Equal(t, 2, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, []string{"enable:speaker"}, h.driver(device.HandsetMic).ecCalls(), "enabled once on first use")

	mic, err := h.rm.GetInstance(device.HandsetMic)
	require.NoError(t, err)
	n, err := mic.GetParameter(device.ParamECRefCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, rx.Stop(t.Context()))
	assert.Equal(t, 1, h.rm.ECRefCount(device.HandsetMic, device.Speaker))

	require.NoError(t, music.Stop(t.Context()))
	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, []string{"enable:speaker", "disable:speaker"}, h.driver(device.HandsetMic).ecCalls())
	n, err = mic.GetParameter(device.ParamECRefCount)
	require.NoError(t, err)
	assert.Zero(t, n, "no route while nothing requires it")
}

func TestECRefReleasedWhenCaptureLeaves(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.start(arbiter.KindVoIPRx, none(), device.Speaker)
	tx := h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	require.Equal(t, 1, h.rm.ECRefCount(device.HandsetMic, device.Speaker))

	require.NoError(t, tx.SwitchDevice(t.Context(), device.SpeakerMic))
	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, 1, h.rm.ECRefCount(device.SpeakerMic, device.Speaker))
	assert.Equal(t, []string{"enable:speaker", "disable:speaker"}, h.driver(device.HandsetMic).ecCalls())
}

func TestECPolicyDenies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.start(arbiter.KindCaptureLowLatency, none(), device.HandsetMic)
	h.start(arbiter.KindPlaybackLowLatency, none(), device.Speaker)
	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Empty(t, h.driver(device.HandsetMic).ecCalls())
}

func TestHardwareOfflineOrphansAndRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)

	h.rm.SetHardwareOnline(t.Context(), false)
	err := s.SwitchDevice(t.Context(), device.Handset)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Empty(t, s.Devices())
	assert.Equal(t, 1, h.rm.Stats().Orphans)
	assert.Equal(t, []device.ID{device.Handset}, h.rm.Orphans()[s])

	h.rm.SetHardwareOnline(t.Context(), true)
	assert.Equal(t, []device.ID{device.Handset}, s.Devices())
	assert.Zero(t, h.rm.Stats().Orphans)
}

func TestNotReadyAccessoryAbortsBeforeTouchingStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	h.bt.SetReady(false)

	before := h.rm.Stats()
	err := s.SwitchDevice(t.Context(), device.A2DP)
	require.Error(t, err)
	assert.True(t, errors.IsNotReady(err))
	assert.Equal(t, []device.ID{device.Speaker}, s.Devices())
	assert.Equal(t, before.Disconnects, h.rm.Stats().Disconnects)
}

func TestSwitchDevicesBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	a := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	b := h.start(arbiter.KindPlaybackLowLatency, none(), device.Speaker)

	errs := h.rm.SwitchDevices(t.Context(),
		[]arbiter.Stream{a, b},
		[][]device.ID{{device.WiredHeadset}, {"nowhere"}})
	require.Len(t, errs, 2)
	require.NoError(t, errs[0])
	assert.True(t, errors.IsNotFound(errs[1]))
	assert.Equal(t, []device.ID{device.WiredHeadset}, a.Devices())
	assert.Equal(t, []device.ID{device.Speaker}, b.Devices())
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()
	m, err := metrics.NewArbiterMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	h := newHarness(t, nil, arbiter.WithMetrics(m))

	h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	h.start(arbiter.KindVoIPRx, none(), device.Speaker)

	assert.Positive(t, testutil.CollectAndCount(m, "audiorm_switch_transactions_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "audiorm_ec_reference_active"))
}

func TestOpenUnknownKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	_, err := stream.Open(t.Context(), h.rm, "karaoke", []device.ID{device.Speaker}, none())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestConnectFailureOrphansSkippedStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	first := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	second := h.start(arbiter.KindPlaybackLowLatency, none(), device.Speaker)
	h.driverFor(device.Handset).failOpen(errors.NewStd("codec rejected config"))

	errs := h.rm.SwitchDevices(t.Context(),
		[]arbiter.Stream{first, second},
		[][]device.ID{{device.Handset}, {device.WiredHeadset}})
	require.Len(t, errs, 2)

	require.Error(t, errs[0])
	assert.False(t, errors.IsTransient(errs[0]), "the failing connect keeps its own error")
	assert.Empty(t, first.Devices())

	require.Error(t, errs[1], "a skipped connect is not reported as success")
	assert.True(t, errors.IsTransient(errs[1]))
	assert.Empty(t, second.Devices())
	assert.Equal(t, []device.ID{device.WiredHeadset}, h.rm.Orphans()[second])
	_, orphaned := h.rm.Orphans()[first]
	assert.False(t, orphaned)

	h.rm.RetryOrphans(t.Context())
	assert.Equal(t, []device.ID{device.WiredHeadset}, second.Devices())
	assert.Zero(t, h.rm.Stats().Orphans)
}

func TestECRefFailureRollsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	mic := h.driverFor(device.HandsetMic)

	mic.failECRef(errors.NewStd("dsp busy"))
	rx := h.start(arbiter.KindVoIPRx, none(), device.Speaker)
	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker), "failed enable leaves no count")
	assert.Empty(t, mic.ecCalls())

	mic.failECRef(nil)
	music := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	assert.Equal(t, 2, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, []string{"enable:speaker"}, mic.ecCalls())

	mic.failECRef(errors.NewStd("dsp busy"))
	require.NoError(t, rx.Stop(t.Context()))
	require.NoError(t, music.Stop(t.Context()))
	assert.Equal(t, 1, h.rm.ECRefCount(device.HandsetMic, device.Speaker), "failed disable keeps the reference counted")
	assert.Equal(t, []string{"enable:speaker"}, mic.ecCalls())

	mic.failECRef(nil)
	again := h.start(arbiter.KindVoIPRx, none(), device.Speaker)
	require.NoError(t, again.Stop(t.Context()))
	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	assert.Equal(t, []string{"enable:speaker", "disable:speaker"}, mic.ecCalls())
}

func TestECRefConsistentUnderConcurrentStarts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	mic := h.driverFor(device.HandsetMic)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			rx, err := stream.Open(ctx, h.rm, arbiter.KindVoIPRx, []device.ID{device.Speaker}, none())
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, rx.Start(ctx))
			assert.NoError(t, rx.Stop(ctx))
			assert.NoError(t, rx.Close(ctx))
		}()
	}
	wg.Wait()

	assert.Zero(t, h.rm.ECRefCount(device.HandsetMic, device.Speaker))
	calls := mic.ecCalls()
	require.NotEmpty(t, calls)
	require.Zero(t, len(calls)%2, "every enable is matched by a disable: %v", calls)
	for i, c := range calls {
		if i%2 == 0 {
			assert.Equal(t, "enable:speaker", c)
		} else {
			assert.Equal(t, "disable:speaker", c)
		}
	}
}

func TestCloseReleasesAccessoryPlugins(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	s := h.start(arbiter.KindPlaybackDeepBuffer, none(), device.A2DP)
	require.NoError(t, s.Close(t.Context()))
	assert.False(t, h.bt.Opened(), "last stream closed the codec session")
	assert.False(t, h.bt.Released())

	require.NoError(t, h.rm.Close())
	assert.True(t, h.bt.Released())
}
