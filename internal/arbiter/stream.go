package arbiter

import (
	"context"

	"github.com/tphakala/audiorm/internal/device"
)

// Stream is the capability set the manager needs from a logical audio
// session. New kinds implement it and add a KindTraits row; the manager
// never switches on concrete types.
//
// Methods suffixed Locked, ConnectDevice and DisconnectDevice must be
// called with the stream lock held. The remaining accessors are safe
// without it.
type Stream interface {
	Handle() string
	Kind() Kind
	// Requested returns caller supplied overrides; zero fields are unset.
	Requested() device.Attributes

	Lock()
	Unlock()

	AssociatedDevices() []*device.Device
	ConnectDevice(ctx context.Context, attrs device.Attributes) error
	DisconnectDevice(ctx context.Context, id device.ID) error
	// SetECRef routes render's echo reference into the stream's active
	// capture device. It returns a not-found error if none is active.
	SetECRef(render *device.Device, enable bool) error

	IsActive() bool
	IsBuffering() bool

	Muted() bool
	Paused() bool
	Volume() float64
	MuteLocked(mute bool) error
	PauseLocked() error
	ResumeLocked() error
	SetVolumeLocked(volume float64) error

	CaptureProfile() *CaptureProfile
	SetCaptureProfile(p *CaptureProfile)
	CaptureInput() string

	SuspendedDeviceIDs() []device.ID
	SetSuspendedDeviceIDs(ids []device.ID)
}

func deviceIDs(devs []*device.Device) []device.ID {
	ids := make([]device.ID, 0, len(devs))
	for _, d := range devs {
		ids = append(ids, d.ID())
	}
	return ids
}
