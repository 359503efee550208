// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Canonical device identifiers used by the built-in platform.
const (
	DeviceSpeaker        = "speaker"
	DeviceHandset        = "handset"
	DeviceWiredHeadset   = "wired_headset"
	DeviceWiredHeadphone = "wired_headphone"
	DeviceA2DP           = "bluetooth_a2dp"
	DeviceSCO            = "bluetooth_sco"
	DeviceUltrasound     = "ultrasound"
	DeviceProxy          = "proxy"
	DeviceHandsetMic     = "handset_mic"
	DeviceSpeakerMic     = "speaker_mic"
	DeviceHeadsetMic     = "headset_mic"
	DeviceSCOMic         = "bluetooth_sco_mic"
	DeviceBLEMic         = "bluetooth_ble_mic"
	DeviceHandsetVAMic   = "handset_va_mic"
	DeviceHeadsetVAMic   = "headset_va_mic"
)

// Capture profile selectors.
const (
	ModeLowPower          = "low_power"
	ModeHighPerf          = "high_perf"
	ModeHighPerfCharging  = "high_perf_and_charging"
	InputHandset          = "handset"
	InputHeadset          = "headset"
	DirectionOutput       = "output"
	DirectionInput        = "input"
	DefaultReferenceRate  = 48000
	DefaultTelemetryPort  = "127.0.0.1:9091"
	DefaultEventQueueSize = 64
)

// setDefaultConfig sets default values on v.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/audiorm.log")
	v.SetDefault("logging.file_output.level", "debug")
	v.SetDefault("logging.file_output.max_size", 50)
	v.SetDefault("logging.file_output.max_age", 14)
	v.SetDefault("logging.file_output.max_rotated_files", 5)

	v.SetDefault("arbiter.suspend_drain_factor", 2.0)
	v.SetDefault("arbiter.suspend_drain_min", 20*time.Millisecond)
	v.SetDefault("arbiter.suspend_drain_max", 500*time.Millisecond)
	v.SetDefault("arbiter.event_queue_size", DefaultEventQueueSize)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", DefaultTelemetryPort)

	v.SetDefault("platform.reference_rate", DefaultReferenceRate)
	v.SetDefault("platform.lpi_supported", true)
	v.SetDefault("platform.default_output", DeviceSpeaker)
	v.SetDefault("platform.default_input", DeviceHandsetMic)
}

// DefaultPlatform returns the built-in routing tables of a handset-class
// target with a smart-amp speaker, wired headset jack and Bluetooth.
func DefaultPlatform() PlatformSettings {
	return PlatformSettings{
		ReferenceRate:    DefaultReferenceRate,
		LPISupported:     true,
		MaxLPISessions:   3,
		DefaultOutput:    DeviceSpeaker,
		DefaultInput:     DeviceHandsetMic,
		FallbackPriority: []string{DeviceWiredHeadset, DeviceWiredHeadphone, DeviceHandset, DeviceSpeaker, DeviceHeadsetMic, DeviceHandsetMic},
		Devices: []DeviceSettings{
			{ID: DeviceSpeaker, Direction: DirectionOutput, Backend: "wsa-rx-0", SndName: "speaker", SampleRate: 48000, BitWidth: 16, Channels: 2, LatencyMs: 20},
			{ID: DeviceUltrasound, Direction: DirectionOutput, Backend: "wsa-rx-0", SndName: "ultrasound-speaker", SampleRate: 48000, BitWidth: 16, Channels: 1, LatencyMs: 20},
			{ID: DeviceHandset, Direction: DirectionOutput, Backend: "rx-macro-0", SndName: "handset", SampleRate: 48000, BitWidth: 16, Channels: 1, LatencyMs: 20},
			{ID: DeviceWiredHeadset, Direction: DirectionOutput, Backend: "rx-macro-1", SndName: "headset", SampleRate: 48000, BitWidth: 16, Channels: 2, LatencyMs: 25},
			{ID: DeviceWiredHeadphone, Direction: DirectionOutput, Backend: "rx-macro-1", SndName: "headphones", SampleRate: 48000, BitWidth: 16, Channels: 2, LatencyMs: 25},
			{ID: DeviceA2DP, Direction: DirectionOutput, Backend: "btfm-a2dp-rx", SndName: "bt-a2dp", SampleRate: 48000, BitWidth: 16, Channels: 2, Accessory: true, LatencyMs: 150},
			{ID: DeviceSCO, Direction: DirectionOutput, Backend: "btfm-sco-rx", SndName: "bt-sco", SampleRate: 16000, BitWidth: 16, Channels: 1, Accessory: true, LatencyMs: 60},
			{ID: DeviceProxy, Direction: DirectionOutput, Backend: "proxy-rx", SndName: "proxy", SampleRate: 48000, BitWidth: 16, Channels: 2, LatencyMs: 10},
			{ID: DeviceHandsetMic, Direction: DirectionInput, Backend: "tx-macro-0", SndName: "handset-mic", SampleRate: 48000, BitWidth: 16, Channels: 1, LatencyMs: 20, ECRefs: []string{DeviceSpeaker, DeviceHandset}},
			{ID: DeviceSpeakerMic, Direction: DirectionInput, Backend: "tx-macro-0", SndName: "speaker-mic", SampleRate: 48000, BitWidth: 16, Channels: 2, LatencyMs: 20, ECRefs: []string{DeviceSpeaker}},
			{ID: DeviceHeadsetMic, Direction: DirectionInput, Backend: "tx-macro-1", SndName: "headset-mic", SampleRate: 48000, BitWidth: 16, Channels: 1, LatencyMs: 25, ECRefs: []string{DeviceWiredHeadset, DeviceWiredHeadphone}},
			{ID: DeviceSCOMic, Direction: DirectionInput, Backend: "btfm-sco-tx", SndName: "bt-sco-mic", SampleRate: 16000, BitWidth: 16, Channels: 1, Accessory: true, LatencyMs: 60},
			{ID: DeviceBLEMic, Direction: DirectionInput, Backend: "btfm-le-tx", SndName: "bt-le-mic", SampleRate: 32000, BitWidth: 16, Channels: 1, Accessory: true, LatencyMs: 80},
			{ID: DeviceHandsetVAMic, Direction: DirectionInput, Backend: "va-tx-0", SndName: "va-handset-mic", SampleRate: 16000, BitWidth: 16, Channels: 1, LatencyMs: 10, ECRefs: []string{DeviceSpeaker}},
			{ID: DeviceHeadsetVAMic, Direction: DirectionInput, Backend: "va-tx-1", SndName: "va-headset-mic", SampleRate: 16000, BitWidth: 16, Channels: 1, LatencyMs: 10, ECRefs: []string{DeviceWiredHeadset}},
		},
		Usecases: []UsecaseSettings{
			{Kind: "voice_call", Device: DeviceSpeaker, Priority: 100, SampleRate: 48000, Channels: 1},
			{Kind: "voip_rx", Device: DeviceSpeaker, Priority: 90, SampleRate: 48000},
			{Kind: "playback_low_latency", Device: DeviceSpeaker, Priority: 60},
			{Kind: "playback_deep_buffer", Device: DeviceSpeaker, Priority: 40},
			{Kind: "playback_compress", Device: DeviceSpeaker, Priority: 30, BitWidth: 24},
			{Kind: "ultrasound", Device: DeviceUltrasound, Priority: 20, Channels: 1, SndName: "ultrasound-speaker"},
			{Kind: "voip_tx", Device: DeviceHandsetMic, Priority: 90, SampleRate: 48000},
			{Kind: "capture", Device: DeviceHandsetMic, Priority: 30},
			{Kind: "capture_low_latency", Device: DeviceHandsetMic, Priority: 50},
		},
		ECPolicy: []ECPolicySettings{
			{Capture: "voip_tx", Render: "voip_rx", Enabled: true},
			{Capture: "voip_tx", Render: "playback_low_latency", Enabled: true},
			{Capture: "voip_tx", Render: "playback_deep_buffer", Enabled: true},
			{Capture: "capture_low_latency", Render: "playback_low_latency", Enabled: false},
			{Capture: "voice_ui", Render: "playback_low_latency", Enabled: true},
			{Capture: "voice_ui", Render: "playback_deep_buffer", Enabled: true},
			{Capture: "voice_ui", Render: "playback_compress", Enabled: true},
			{Capture: "acd", Render: "playback_deep_buffer", Enabled: true},
		},
		Groups: []GroupSettings{
			{Name: "ultrasound-speaker", Devices: []string{DeviceSpeaker, DeviceUltrasound}, SampleRate: 96000, BitWidth: 24, Channels: 2, SndName: "speaker-and-ultrasound"},
		},
		CaptureProfiles: []CaptureProfileSettings{
			{Name: "lpi-handset", Device: DeviceHandsetVAMic, Mode: ModeLowPower, Input: InputHandset, SampleRate: 16000, BitWidth: 16, Channels: 1, SndName: "va-handset-mic", Priority: 1},
			{Name: "hp-handset", Device: DeviceHandsetVAMic, Mode: ModeHighPerf, Input: InputHandset, SampleRate: 48000, BitWidth: 16, Channels: 1, SndName: "handset-mic", Priority: 2, ECRequired: true},
			{Name: "hp-charging-handset", Device: DeviceHandsetVAMic, Mode: ModeHighPerfCharging, Input: InputHandset, SampleRate: 48000, BitWidth: 16, Channels: 2, SndName: "handset-dmic", Priority: 3, ECRequired: true},
			{Name: "lpi-headset", Device: DeviceHeadsetVAMic, Mode: ModeLowPower, Input: InputHeadset, SampleRate: 16000, BitWidth: 16, Channels: 1, SndName: "va-headset-mic", Priority: 1},
			{Name: "hp-headset", Device: DeviceHeadsetVAMic, Mode: ModeHighPerf, Input: InputHeadset, SampleRate: 48000, BitWidth: 16, Channels: 1, SndName: "headset-mic", Priority: 2, ECRequired: true},
			{Name: "hp-charging-headset", Device: DeviceHeadsetVAMic, Mode: ModeHighPerfCharging, Input: InputHeadset, SampleRate: 48000, BitWidth: 16, Channels: 1, SndName: "headset-mic", Priority: 3, ECRequired: true},
		},
	}
}
