// Package device models the shared audio endpoints that streams are routed
// through. A Device is a singleton per id; every stream holding it sees the
// same negotiated attributes.
package device

import (
	"fmt"
	"time"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/logger"
)

// ID identifies a physical or virtual endpoint.
type ID string

// Well-known ids of the built-in platform table.
const (
	Speaker        ID = conf.DeviceSpeaker
	Handset        ID = conf.DeviceHandset
	WiredHeadset   ID = conf.DeviceWiredHeadset
	WiredHeadphone ID = conf.DeviceWiredHeadphone
	A2DP           ID = conf.DeviceA2DP
	SCO            ID = conf.DeviceSCO
	Ultrasound     ID = conf.DeviceUltrasound
	Proxy          ID = conf.DeviceProxy
	HandsetMic     ID = conf.DeviceHandsetMic
	SpeakerMic     ID = conf.DeviceSpeakerMic
	HeadsetMic     ID = conf.DeviceHeadsetMic
	SCOMic         ID = conf.DeviceSCOMic
	BLEMic         ID = conf.DeviceBLEMic
	HandsetVAMic   ID = conf.DeviceHandsetVAMic
	HeadsetVAMic   ID = conf.DeviceHeadsetVAMic
)

// Direction is the signal flow of a device or stream.
type Direction int

const (
	Output Direction = iota
	Input
)

func (d Direction) String() string {
	if d == Input {
		return conf.DirectionInput
	}
	return conf.DirectionOutput
}

// Config is the PCM configuration a backend runs with.
type Config struct {
	SampleRate int
	BitWidth   int
	Channels   int
	Format     string
}

func (c Config) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", c.SampleRate, c.BitWidth, c.Channels)
}

// Attributes is the negotiated state of a device.
type Attributes struct {
	ID           ID
	Config       Config
	SndName      string
	CustomConfig string // active group config name, empty if none
}

// Info is the static description of a device from the platform table.
type Info struct {
	ID        ID
	Backend   string
	Direction Direction
	Accessory bool
	Defaults  Attributes
	Latency   time.Duration
	ECRefs    []ID // render devices able to feed echo reference here
}

// InfoFromSettings converts a platform table row.
func InfoFromSettings(s *conf.DeviceSettings) Info {
	dir := Output
	if s.Direction == conf.DirectionInput {
		dir = Input
	}
	refs := make([]ID, 0, len(s.ECRefs))
	for _, r := range s.ECRefs {
		refs = append(refs, ID(r))
	}
	return Info{
		ID:        ID(s.ID),
		Backend:   s.Backend,
		Direction: dir,
		Accessory: s.Accessory,
		Defaults: Attributes{
			ID: ID(s.ID),
			Config: Config{
				SampleRate: s.SampleRate,
				BitWidth:   s.BitWidth,
				Channels:   s.Channels,
				Format:     s.Format,
			},
			SndName: s.SndName,
		},
		Latency: time.Duration(s.LatencyMs) * time.Millisecond,
		ECRefs:  refs,
	}
}

// GetLogger returns the device module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("device")
}
