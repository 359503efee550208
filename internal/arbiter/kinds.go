package arbiter

import "github.com/tphakala/audiorm/internal/device"

// Kind is a stream usecase.
type Kind string

const (
	KindPlaybackLowLatency Kind = "playback_low_latency"
	KindPlaybackDeepBuffer Kind = "playback_deep_buffer"
	KindPlaybackCompress   Kind = "playback_compress"
	KindUltrasound         Kind = "ultrasound"
	KindVoIPRx             Kind = "voip_rx"
	KindVoIPTx             Kind = "voip_tx"
	KindVoiceCall          Kind = "voice_call"
	KindCapture            Kind = "capture"
	KindCaptureLowLatency  Kind = "capture_low_latency"
	KindVoiceUI            Kind = "voice_ui"
	KindACD                Kind = "acd"
	KindSensorPCM          Kind = "sensor_pcm"
)

// TriggerClass groups the low-power detection kinds that share the capture
// profile arbiter.
type TriggerClass int

const (
	TriggerNone TriggerClass = iota
	TriggerKeyword
	TriggerEventClassifier
	TriggerSensor
)

var triggerClasses = [...]TriggerClass{TriggerKeyword, TriggerEventClassifier, TriggerSensor}

// KindTraits is the table row describing how the manager treats a kind.
type KindTraits struct {
	Direction        device.Direction
	Duplex           bool // routed to an output and an input device together
	Trigger          TriggerClass
	StrictSequencing bool // must be paused, not only muted, before rerouting
	ForcesNLPI       bool // capture path cannot share the low power island
}

// IsCapture reports whether streams of this kind consume echo reference.
func (t KindTraits) IsCapture() bool {
	return t.Direction == device.Input && !t.Duplex
}

// IsRender reports whether streams of this kind produce echo reference.
func (t KindTraits) IsRender() bool {
	return t.Direction == device.Output && !t.Duplex
}

func defaultKinds() map[Kind]KindTraits {
	return map[Kind]KindTraits{
		KindPlaybackLowLatency: {Direction: device.Output},
		KindPlaybackDeepBuffer: {Direction: device.Output},
		KindPlaybackCompress:   {Direction: device.Output, StrictSequencing: true},
		KindUltrasound:         {Direction: device.Output},
		KindVoIPRx:             {Direction: device.Output},
		KindVoIPTx:             {Direction: device.Input, ForcesNLPI: true},
		KindVoiceCall:          {Direction: device.Output, Duplex: true, ForcesNLPI: true},
		KindCapture:            {Direction: device.Input, ForcesNLPI: true},
		KindCaptureLowLatency:  {Direction: device.Input, ForcesNLPI: true},
		KindVoiceUI:            {Direction: device.Input, Trigger: TriggerKeyword},
		KindACD:                {Direction: device.Input, Trigger: TriggerEventClassifier},
		KindSensorPCM:          {Direction: device.Input, Trigger: TriggerSensor},
	}
}
