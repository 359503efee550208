// Package stream implements the client-facing audio streams routed by the
// resource manager.
package stream

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// GetLogger returns the stream module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}

// Manager is the part of the resource manager a stream drives.
// *arbiter.ResourceManager satisfies it.
type Manager interface {
	Traits(k arbiter.Kind) (arbiter.KindTraits, bool)
	AddStream(s arbiter.Stream) error
	RemoveStream(s arbiter.Stream)
	GetInstance(id device.ID) (*device.Device, error)
	RegisterDevice(d *device.Device, s arbiter.Stream)
	DeregisterDevice(d *device.Device, s arbiter.Stream)
	Associate(ctx context.Context, s arbiter.Stream, targets []device.ID) error
	Deassociate(ctx context.Context, s arbiter.Stream) error
	AdmitStart(s arbiter.Stream) error
	OnStreamStart(ctx context.Context, s arbiter.Stream)
	OnStreamStop(ctx context.Context, s arbiter.Stream)
	NoteUserMute(s arbiter.Stream)
	NoteUserPause(s arbiter.Stream)
	SelectCaptureProfile(input string) *arbiter.CaptureProfile
	RequestPowerMode(ctx context.Context, lowPower bool)
	OnBufferingDone(ctx context.Context)
}

// Options tune a stream at open.
type Options struct {
	// Attributes are the caller's own preferences; zero fields mean none.
	Attributes device.Attributes
	// Volume in [0, 1]; nil means full scale.
	Volume *float64
	// Input selects the trigger capture profile family (handset, headset).
	Input string
}

// Stream is one open client stream.
//
// mu is the transaction lock the resource manager takes around connects
// and disconnects. opMu serializes client calls. stateMu guards the fields
// below it and is never held while calling the manager.
type Stream struct {
	handle    string
	kind      arbiter.Kind
	traits    arbiter.KindTraits
	requested device.Attributes
	rm        Manager
	logger    logger.Logger

	opMu   sync.Mutex
	mu     sync.Mutex
	closed bool

	stateMu   sync.Mutex
	devices   []*device.Device
	detaching *device.Device
	active    bool
	muted     bool
	paused    bool
	volume    float64
	buffering bool
	profile   *arbiter.CaptureProfile
	input     string
	suspended []device.ID
}

// Open creates a stream of kind routed to devices. Trigger streams may
// pass no devices and get the device of their capture profile.
func Open(ctx context.Context, rm Manager, kind arbiter.Kind, devices []device.ID, opts Options) (*Stream, error) {
	traits, ok := rm.Traits(kind)
	if !ok {
		return nil, errors.Newf("unknown stream kind %q", kind).
			Category(errors.CategoryValidation).
			Build()
	}
	volume := 1.0
	if opts.Volume != nil {
		if err := checkVolume(*opts.Volume); err != nil {
			return nil, err
		}
		volume = *opts.Volume
	}

	s := &Stream{
		handle:    uuid.NewString(),
		kind:      kind,
		traits:    traits,
		requested: opts.Attributes,
		rm:        rm,
		volume:    volume,
		input:     opts.Input,
	}
	s.requested.ID = ""
	s.logger = GetLogger().With(
		logger.String("stream", s.handle),
		logger.String("kind", string(kind)))

	if traits.Trigger != arbiter.TriggerNone {
		s.profile = rm.SelectCaptureProfile(opts.Input)
		if len(devices) == 0 && s.profile != nil {
			devices = []device.ID{s.profile.Device}
		}
	}
	if len(devices) == 0 {
		return nil, errors.Newf("no devices for %s stream", kind).
			Category(errors.CategoryValidation).
			Build()
	}

	if err := rm.AddStream(s); err != nil {
		return nil, err
	}
	if err := rm.Associate(ctx, s, devices); err != nil {
		if derr := rm.Deassociate(ctx, s); derr != nil {
			s.logger.Warn("cleanup after failed open", logger.Error(derr))
		}
		rm.RemoveStream(s)
		return nil, err
	}
	s.logger.Info("stream opened", logger.Strings("devices", idStrings(s.deviceIDs())))
	return s, nil
}

func checkVolume(v float64) error {
	if v < 0 || v > 1 {
		return errors.Newf("volume %v out of range [0, 1]", v).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func idStrings(ids []device.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (s *Stream) closedErr() error {
	return errors.Newf("stream %s is closed", s.handle).
		Category(errors.CategoryState).
		Build()
}

// Handle is the unique id of the stream.
func (s *Stream) Handle() string { return s.handle }

// Kind returns the usecase of the stream.
func (s *Stream) Kind() arbiter.Kind { return s.kind }

// Requested returns the caller's attribute preferences.
func (s *Stream) Requested() device.Attributes { return s.requested }

// Lock takes the transaction lock.
func (s *Stream) Lock() { s.mu.Lock() }

// Unlock releases the transaction lock.
func (s *Stream) Unlock() { s.mu.Unlock() }

// AssociatedDevices returns the devices the stream is routed through.
func (s *Stream) AssociatedDevices() []*device.Device {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return slices.Clone(s.devices)
}

func (s *Stream) deviceIDs() []device.ID {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	ids := make([]device.ID, len(s.devices))
	for i, d := range s.devices {
		ids[i] = d.ID()
	}
	return ids
}

// Devices returns the ids of the routed devices.
func (s *Stream) Devices() []device.ID { return s.deviceIDs() }

// ConnectDevice opens the device named by attrs and starts it when the
// stream is running. The caller holds the transaction lock.
func (s *Stream) ConnectDevice(ctx context.Context, attrs device.Attributes) error {
	dev, err := s.rm.GetInstance(attrs.ID)
	if err != nil {
		return err
	}
	if slices.Contains(s.AssociatedDevices(), dev) {
		return nil
	}
	if err := dev.Open(ctx); err != nil {
		return err
	}
	if s.IsActive() {
		if err := dev.Start(ctx); err != nil {
			if cerr := dev.Close(); cerr != nil {
				s.logger.Warn("close after failed start", logger.Error(cerr))
			}
			return err
		}
	}
	s.stateMu.Lock()
	s.devices = append(s.devices, dev)
	s.stateMu.Unlock()

	s.rm.RegisterDevice(dev, s)
	s.logger.WithContext(ctx).Debug("device connected",
		logger.String("device", string(dev.ID())),
		logger.String("config", attrs.Config.String()))
	return nil
}

// DisconnectDevice releases the device id. The caller holds the
// transaction lock.
func (s *Stream) DisconnectDevice(ctx context.Context, id device.ID) error {
	s.stateMu.Lock()
	idx := slices.IndexFunc(s.devices, func(d *device.Device) bool { return d.ID() == id })
	if idx < 0 {
		s.stateMu.Unlock()
		return errors.Newf("stream %s is not routed to %s", s.handle, id).
			Category(errors.CategoryNotFound).
			Build()
	}
	dev := s.devices[idx]
	s.devices = slices.Delete(s.devices, idx, idx+1)
	s.detaching = dev
	active := s.active
	s.stateMu.Unlock()

	// deregister while the device still runs so echo references unwind
	s.rm.DeregisterDevice(dev, s)

	s.stateMu.Lock()
	s.detaching = nil
	s.stateMu.Unlock()

	if active {
		if err := dev.Stop(); err != nil {
			s.logger.WithContext(ctx).Warn("device stop failed", logger.String("device", string(id)), logger.Error(err))
		}
	}
	if err := dev.Close(); err != nil {
		return err
	}
	s.logger.WithContext(ctx).Debug("device disconnected", logger.String("device", string(id)))
	return nil
}

// SetECRef routes the echo reference of render into the capture device of
// the stream.
func (s *Stream) SetECRef(render *device.Device, enable bool) error {
	s.stateMu.Lock()
	var tx *device.Device
	if !enable && s.detaching != nil && s.detaching.Direction() == device.Input {
		tx = s.detaching
	}
	candidates := slices.Clone(s.devices)
	s.stateMu.Unlock()

	if tx == nil {
		for _, d := range candidates {
			if d.Direction() == device.Input && d.IsActive() {
				tx = d
				break
			}
		}
	}
	if tx == nil {
		return errors.Newf("stream %s has no active capture device", s.handle).
			Category(errors.CategoryNotFound).
			Context("render", string(render.ID())).
			Build()
	}
	return tx.SetECRef(render.ID(), enable)
}

// IsActive reports whether the stream is started.
func (s *Stream) IsActive() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.active
}

// IsBuffering reports whether a trigger stream is handing over buffered
// audio after a detection.
func (s *Stream) IsBuffering() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.buffering
}

// Muted reports the mute state.
func (s *Stream) Muted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.muted
}

// Paused reports the pause state.
func (s *Stream) Paused() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.paused
}

// Volume returns the current volume.
func (s *Stream) Volume() float64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.volume
}

// MuteLocked sets the mute state. The caller holds the transaction lock.
func (s *Stream) MuteLocked(mute bool) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.muted = mute
	return nil
}

// PauseLocked pauses a running stream. The caller holds the transaction
// lock.
func (s *Stream) PauseLocked() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.active {
		return errors.Newf("stream %s is not started", s.handle).
			Category(errors.CategoryState).
			Build()
	}
	s.paused = true
	return nil
}

// ResumeLocked resumes a paused stream. The caller holds the transaction
// lock.
func (s *Stream) ResumeLocked() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.paused = false
	return nil
}

// SetVolumeLocked sets the volume. The caller holds the transaction lock.
func (s *Stream) SetVolumeLocked(volume float64) error {
	if err := checkVolume(volume); err != nil {
		return err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.volume = volume
	return nil
}

// CaptureProfile returns the profile a trigger stream selected.
func (s *Stream) CaptureProfile() *arbiter.CaptureProfile {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.profile
}

// SetCaptureProfile replaces the selected profile.
func (s *Stream) SetCaptureProfile(p *arbiter.CaptureProfile) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.profile = p
}

// CaptureInput returns the trigger input mode.
func (s *Stream) CaptureInput() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.input
}

// SuspendedDeviceIDs returns the suspend history: the accessory the stream
// was moved off, or for a combo stream the built-in devices it kept.
func (s *Stream) SuspendedDeviceIDs() []device.ID {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return slices.Clone(s.suspended)
}

// SetSuspendedDeviceIDs replaces the suspend history.
func (s *Stream) SetSuspendedDeviceIDs(ids []device.ID) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.suspended = slices.Clone(ids)
}

// Start runs the stream on its devices.
func (s *Stream) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	if s.IsActive() {
		return nil
	}
	if err := s.rm.AdmitStart(s); err != nil {
		return err
	}

	s.mu.Lock()
	devs := s.AssociatedDevices()
	for i, d := range devs {
		if err := d.Start(ctx); err != nil {
			for _, started := range devs[:i] {
				if serr := started.Stop(); serr != nil {
					s.logger.Warn("stop after failed start", logger.Error(serr))
				}
			}
			s.mu.Unlock()
			return err
		}
	}
	s.stateMu.Lock()
	s.active = true
	s.stateMu.Unlock()
	s.mu.Unlock()

	s.rm.OnStreamStart(ctx, s)
	s.logger.Debug("stream started")
	return nil
}

// Stop halts the stream; its routing is kept.
func (s *Stream) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	return s.stop(ctx)
}

func (s *Stream) stop(ctx context.Context) error {
	if !s.IsActive() {
		return nil
	}
	s.mu.Lock()
	var errs []error
	for _, d := range s.AssociatedDevices() {
		if err := d.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stateMu.Lock()
	s.active = false
	s.paused = false
	buffering := s.buffering
	s.buffering = false
	s.stateMu.Unlock()
	s.mu.Unlock()

	s.rm.OnStreamStop(ctx, s)
	if buffering {
		s.rm.OnBufferingDone(ctx)
	}
	s.logger.Debug("stream stopped")
	return errors.Join(errs...)
}

// Close stops the stream and releases every device.
func (s *Stream) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil
	}
	var errs []error
	if err := s.stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.rm.Deassociate(ctx, s); err != nil {
		errs = append(errs, err)
	}
	s.rm.RemoveStream(s)
	s.closed = true
	s.logger.Info("stream closed")
	return errors.Join(errs...)
}

// SwitchDevice reroutes the stream to targets.
func (s *Stream) SwitchDevice(ctx context.Context, targets ...device.ID) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	return s.rm.Associate(ctx, s, targets)
}

// SetVolume changes the volume.
func (s *Stream) SetVolume(volume float64) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SetVolumeLocked(volume)
}

// Mute changes the mute state on behalf of the client.
func (s *Stream) Mute(mute bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.mu.Lock()
	err := s.MuteLocked(mute)
	s.mu.Unlock()
	if err == nil {
		s.rm.NoteUserMute(s)
	}
	return err
}

// Pause pauses a running stream on behalf of the client.
func (s *Stream) Pause() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.mu.Lock()
	err := s.PauseLocked()
	s.mu.Unlock()
	if err == nil {
		s.rm.NoteUserPause(s)
	}
	return err
}

// Resume resumes a paused stream on behalf of the client.
func (s *Stream) Resume() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.mu.Lock()
	err := s.ResumeLocked()
	s.mu.Unlock()
	if err == nil {
		s.rm.NoteUserPause(s)
	}
	return err
}

var _ arbiter.Stream = (*Stream)(nil)
