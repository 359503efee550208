package arbiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/stream"
)

func input(mode string) stream.Options {
	return stream.Options{Input: mode}
}

func TestTriggerStartsInLowPowerProfile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	s := h.start(arbiter.KindVoiceUI, none())
	require.NotNil(t, s.CaptureProfile())
	assert.Equal(t, "lpi-handset", s.CaptureProfile().Name)
	assert.Equal(t, []device.ID{device.HandsetVAMic}, s.Devices())
	assert.Equal(t, "lpi-handset", h.rm.Stats().ActiveProfile)
	assert.Equal(t, 16000, h.attrs(device.HandsetVAMic).Config.SampleRate)
}

func TestDeferredPowerModeCollapses(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	s := h.start(arbiter.KindVoiceUI, none())
	require.NoError(t, s.StartBuffering())
	before := h.rm.Stats()

	h.rm.RequestPowerMode(t.Context(), false)
	lowPower, pending := h.rm.PendingPowerMode()
	assert.True(t, pending)
	assert.False(t, lowPower)
	assert.True(t, h.rm.LowPower(), "switch waits for buffering to finish")

	h.rm.RequestPowerMode(t.Context(), true)
	_, pending = h.rm.PendingPowerMode()
	assert.False(t, pending, "request back to the current mode cancels the pending one")

	require.NoError(t, s.BufferingDone(t.Context()))
	after := h.rm.Stats()
	assert.Equal(t, before.ProfileSwitches, after.ProfileSwitches)
	assert.Equal(t, before.PowerModeSwitches, after.PowerModeSwitches)
	assert.True(t, after.LowPower)
}

func TestDeferredPowerModeReplays(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	s := h.start(arbiter.KindVoiceUI, none())
	require.NoError(t, s.StartBuffering())
	require.NoError(t, s.SetPowerMode(t.Context(), false))
	require.True(t, h.rm.LowPower())

	require.NoError(t, s.BufferingDone(t.Context()))
	assert.False(t, h.rm.LowPower())
	_, pending := h.rm.PendingPowerMode()
	assert.False(t, pending)
	assert.Equal(t, uint64(1), h.rm.Stats().PowerModeSwitches)
	assert.Equal(t, "hp-handset", s.CaptureProfile().Name)
	assert.Equal(t, "hp-handset", h.rm.Stats().ActiveProfile)
	assert.Equal(t, 48000, h.attrs(device.HandsetVAMic).Config.SampleRate)
}

func TestLowPowerIgnoredWhenUnsupported(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *conf.Settings) { s.Platform.LPISupported = false })

	require.False(t, h.rm.LowPower())
	h.rm.RequestPowerMode(t.Context(), true)
	assert.False(t, h.rm.LowPower())
	assert.Zero(t, h.rm.Stats().PowerModeSwitches)

	s := h.start(arbiter.KindVoiceUI, none())
	assert.Equal(t, "hp-handset", s.CaptureProfile().Name)
}

func TestNLPIUsersVoteOutLowPower(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.True(t, h.rm.LowPower())

	call := h.start(arbiter.KindVoIPTx, none(), device.HandsetMic)
	assert.False(t, h.rm.LowPower())
	rec := h.start(arbiter.KindCapture, none(), device.HandsetMic)

	require.NoError(t, call.Stop(t.Context()))
	assert.False(t, h.rm.LowPower(), "another NLPI user is still running")
	require.NoError(t, rec.Stop(t.Context()))
	assert.True(t, h.rm.LowPower())
	assert.Equal(t, uint64(2), h.rm.Stats().PowerModeSwitches)
}

func TestLowPowerSessionLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *conf.Settings) { s.Platform.MaxLPISessions = 1 })

	h.start(arbiter.KindVoiceUI, none())
	acd := h.open(arbiter.KindACD, none())

	err := acd.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryExhausted))
	assert.False(t, acd.IsActive())

	h.start(arbiter.KindCapture, none(), device.HandsetMic)
	require.False(t, h.rm.LowPower())
	require.NoError(t, acd.Start(t.Context()), "limit only applies in LPI")
}

func headsetPreferred(s *conf.Settings) {
	s.Platform.LPISupported = false
	for i := range s.Platform.CaptureProfiles {
		if s.Platform.CaptureProfiles[i].Name == "hp-headset" {
			s.Platform.CaptureProfiles[i].Priority = 5
		}
	}
}

func TestCaptureProfilePriority(t *testing.T) {
	t.Parallel()
	for _, headsetFirst := range []bool{true, false} {
		t.Run(map[bool]string{true: "headset_first", false: "handset_first"}[headsetFirst], func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, headsetPreferred)

			var headset *stream.Stream
			if headsetFirst {
				headset = h.start(arbiter.KindACD, input(conf.InputHeadset))
				h.start(arbiter.KindVoiceUI, input(conf.InputHandset))
			} else {
				h.start(arbiter.KindVoiceUI, input(conf.InputHandset))
				headset = h.start(arbiter.KindACD, input(conf.InputHeadset))
			}
			require.Equal(t, []device.ID{device.HeadsetVAMic}, headset.Devices())
			assert.Equal(t, "hp-headset", h.rm.ActiveCaptureProfile().Name)

			require.NoError(t, headset.Close(t.Context()))
			assert.Equal(t, "hp-handset", h.rm.ActiveCaptureProfile().Name)
		})
	}
}

func TestBufferingTriggerLeavesArbitration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, headsetPreferred)

	handset := h.start(arbiter.KindVoiceUI, input(conf.InputHandset))
	headset := h.start(arbiter.KindACD, input(conf.InputHeadset))
	require.NoError(t, headset.StartBuffering())

	p := h.rm.GetCaptureProfileByPriority(nil)
	require.NotNil(t, p)
	assert.Equal(t, "hp-handset", p.Name)
	assert.Nil(t, h.rm.GetCaptureProfileByPriority(handset))
}

func TestChargingSelectsChargingProfile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *conf.Settings) { s.Platform.LPISupported = false })

	s := h.start(arbiter.KindVoiceUI, none())
	require.Equal(t, "hp-handset", s.CaptureProfile().Name)

	h.rm.SetCharging(t.Context(), true)
	assert.Equal(t, "hp-charging-handset", s.CaptureProfile().Name)
	assert.Equal(t, "hp-charging-handset", h.rm.ActiveCaptureProfile().Name)
	assert.Equal(t, 2, h.attrs(device.HandsetVAMic).Config.Channels)
}

func TestTriggerECFollowsPowerMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.start(arbiter.KindPlaybackDeepBuffer, none(), device.Speaker)
	h.start(arbiter.KindVoiceUI, none())
	assert.Zero(t, h.rm.ECRefCount(device.HandsetVAMic, device.Speaker), "no echo reference in LPI")

	h.rm.RequestPowerMode(t.Context(), false)
	require.False(t, h.rm.LowPower())
	assert.Equal(t, 1, h.rm.ECRefCount(device.HandsetVAMic, device.Speaker))

	h.rm.RequestPowerMode(t.Context(), true)
	assert.Zero(t, h.rm.ECRefCount(device.HandsetVAMic, device.Speaker))
}
