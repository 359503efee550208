package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/events"
	"github.com/tphakala/audiorm/internal/logger"
)

// Publisher receives device notifications. events.Bus satisfies it.
type Publisher interface {
	TryPublish(event events.Event) bool
}

// Device is the shared instance for one endpoint. Open and Start are
// reference counted across the streams routed through it.
type Device struct {
	info   Info
	driver Driver
	hw     *Hardware
	pub    Publisher
	logger logger.Logger

	mu               sync.Mutex
	attrs            Attributes
	priority         int
	openCount        int
	startCount       int
	suspended        bool
	captureSuspended bool
	ecRefs           map[ID]int

	bitrate atomic.Uint32
	mtu     atomic.Uint32
}

// New creates a device. hw and pub may be nil.
func New(info Info, drv Driver, hw *Hardware, pub Publisher) *Device {
	if drv == nil {
		drv = NewNop()
	}
	if hw == nil {
		hw = &Hardware{}
	}
	d := &Device{
		info:   info,
		driver: drv,
		hw:     hw,
		pub:    pub,
		logger: GetLogger().With(logger.String("device", string(info.ID))),
		attrs:  info.Defaults,
		ecRefs: make(map[ID]int),
	}
	if lr, ok := drv.(LinkReporter); ok {
		lr.SetLinkHandler(d.onLink)
	}
	return d
}

func (d *Device) ID() ID               { return d.info.ID }
func (d *Device) Info() Info           { return d.info }
func (d *Device) Backend() string      { return d.info.Backend }
func (d *Device) Direction() Direction { return d.info.Direction }
func (d *Device) IsAccessory() bool    { return d.info.Accessory }
func (d *Device) Driver() Driver       { return d.driver }

// Attributes returns the negotiated attributes.
func (d *Device) Attributes() Attributes {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs
}

// Priority returns the priority of the source the attributes came from.
func (d *Device) Priority() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priority
}

// SetAttributes stores a negotiated configuration. It takes effect on the
// next open of the hardware.
func (d *Device) SetAttributes(attrs Attributes, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	attrs.ID = d.info.ID
	d.attrs = attrs
	d.priority = priority
}

func (d *Device) transientErr(op string) error {
	return errors.Newf("audio subsystem offline").
		Category(errors.CategoryTransient).
		Context("device", string(d.info.ID)).
		Context("operation", op).
		Build()
}

func (d *Device) notReadyErr(op string) error {
	return errors.Newf("accessory %s not ready", d.info.ID).
		Category(errors.CategoryNotReady).
		Context("device", string(d.info.ID)).
		Context("operation", op).
		Build()
}

// Open takes an open reference, programming the hardware on the first.
func (d *Device) Open(ctx context.Context) error {
	if !d.hw.Online() {
		return d.transientErr("open")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openCount == 0 {
		start := time.Now()
		if err := d.driver.Open(ctx, d.attrs); err != nil {
			return errors.New(err).
				Category(errors.CategoryDevice).
				Context("device", string(d.info.ID)).
				Timing("device-open", time.Since(start)).
				Build()
		}
		d.logger.Debug("device opened",
			logger.String("config", d.attrs.Config.String()),
			logger.String("snd_name", d.attrs.SndName))
	}
	d.openCount++
	return nil
}

// Start takes a start reference. Accessories must be ready; their running
// configuration is then read back from the link.
func (d *Device) Start(ctx context.Context) error {
	if !d.hw.Online() {
		return d.transientErr("start")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openCount == 0 {
		return errors.Newf("device %s started before open", d.info.ID).
			Category(errors.CategoryState).
			Build()
	}
	if d.startCount > 0 {
		d.startCount++
		return nil
	}
	if d.info.Accessory && (d.suspendedLocked() || !d.driver.IsReady()) {
		return d.notReadyErr("start")
	}
	if err := d.driver.Start(ctx); err != nil {
		return errors.New(err).
			Category(errors.CategoryDevice).
			Context("device", string(d.info.ID)).
			Build()
	}
	if lc, ok := d.driver.(LinkConfigurer); ok {
		cfg, err := lc.LinkConfig()
		if err != nil {
			d.logger.Warn("failed to read link config", logger.Error(err))
		} else {
			d.applyLinkConfigLocked(cfg)
		}
	}
	d.startCount++
	return nil
}

func (d *Device) applyLinkConfigLocked(cfg Config) {
	c := &d.attrs.Config
	if cfg.SampleRate > 0 {
		c.SampleRate = cfg.SampleRate
	}
	if cfg.BitWidth > 0 {
		c.BitWidth = cfg.BitWidth
	}
	if cfg.Channels > 0 {
		c.Channels = cfg.Channels
	}
	if cfg.Format != "" {
		c.Format = cfg.Format
	}
	d.logger.Info("link config applied", logger.String("config", c.String()))
}

// Stop drops a start reference.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startCount == 0 {
		return nil
	}
	d.startCount--
	if d.startCount > 0 {
		return nil
	}
	d.dropECRefsLocked()
	return d.driver.Stop()
}

// dropECRefsLocked releases every echo reference route; they do not
// survive the hardware stopping.
func (d *Device) dropECRefsLocked() {
	if s, ok := d.driver.(ECRefSetter); ok {
		for render := range d.ecRefs {
			if err := s.SetECRef(render, false); err != nil {
				d.logger.Warn("echo reference release failed",
					logger.String("render", string(render)),
					logger.Error(err))
			}
		}
	}
	clear(d.ecRefs)
}

// Close drops an open reference, releasing the hardware on the last.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openCount == 0 {
		return nil
	}
	d.openCount--
	if d.openCount > 0 {
		return nil
	}
	if d.startCount > 0 {
		d.startCount = 0
		d.dropECRefsLocked()
		if err := d.driver.Stop(); err != nil {
			d.logger.Warn("stop on close failed", logger.Error(err))
		}
	}
	clear(d.ecRefs)
	d.priority = 0
	d.attrs.CustomConfig = ""
	return d.driver.Close()
}

// IsOpen reports whether any stream holds an open reference.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount > 0
}

// IsActive reports whether the hardware is running.
func (d *Device) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startCount > 0
}

// IsReady reports whether the device can carry audio now.
func (d *Device) IsReady() bool {
	if !d.hw.Online() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspendedLocked() {
		return false
	}
	return d.driver.IsReady()
}

func (d *Device) suspendedLocked() bool {
	if d.info.Direction == Input {
		return d.captureSuspended
	}
	return d.suspended
}

// Suspended reports whether the accessory link is suspended.
func (d *Device) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspendedLocked()
}

// MarkSuspended records a suspend transition and drives the link. It
// reports whether the state changed. No event is published.
func (d *Device) MarkSuspended(suspend bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markSuspendedLocked(suspend)
}

func (d *Device) markSuspendedLocked(suspend bool) bool {
	flag := &d.suspended
	if d.info.Direction == Input {
		flag = &d.captureSuspended
	}
	if *flag == suspend {
		return false
	}
	*flag = suspend
	if s, ok := d.driver.(Suspender); ok {
		if err := s.Suspend(suspend); err != nil {
			d.logger.Warn("link suspend failed",
				logger.Bool("suspend", suspend),
				logger.Error(err))
		}
	}
	return true
}

// SetParameter writes a side channel. Suspend parameters raise the
// matching event so the resource manager migrates streams. When the event
// cannot be queued the suspend state is reverted and an error returned, so
// the flag never disagrees with what the resource manager was told.
func (d *Device) SetParameter(p Param, value int64) error {
	switch p {
	case ParamAccessorySuspended, ParamCaptureSuspended:
		want := Output
		if p == ParamCaptureSuspended {
			want = Input
		}
		if !d.info.Accessory || d.info.Direction != want {
			return errors.Newf("parameter %s not supported on %s", p, d.info.ID).
				Category(errors.CategoryValidation).
				Build()
		}
		suspend := value != 0
		d.mu.Lock()
		changed := d.markSuspendedLocked(suspend)
		d.mu.Unlock()
		if changed && !d.publish(suspendEvent(p, suspend), 0) {
			d.mu.Lock()
			if d.suspendedLocked() == suspend {
				d.markSuspendedLocked(!suspend)
			}
			d.mu.Unlock()
			return errors.Newf("event queue full, %s=%d on %s not applied", p, value, d.info.ID).
				Category(errors.CategoryExhausted).
				Context("device", string(d.info.ID)).
				Build()
		}
		return nil
	default:
		return errors.Newf("parameter %s is read only", p).
			Category(errors.CategoryValidation).
			Build()
	}
}

func suspendEvent(p Param, suspend bool) events.Kind {
	switch {
	case p == ParamCaptureSuspended && suspend:
		return events.CaptureSuspend
	case p == ParamCaptureSuspended:
		return events.CaptureResume
	case suspend:
		return events.AccessorySuspend
	default:
		return events.AccessoryResume
	}
}

// GetParameter reads a side channel.
func (d *Device) GetParameter(p Param) (int64, error) {
	switch p {
	case ParamAccessorySuspended:
		d.mu.Lock()
		defer d.mu.Unlock()
		return boolValue(d.suspended), nil
	case ParamCaptureSuspended:
		d.mu.Lock()
		defer d.mu.Unlock()
		return boolValue(d.captureSuspended), nil
	case ParamBitrate:
		return int64(d.bitrate.Load()), nil
	case ParamMTU:
		return int64(d.mtu.Load()), nil
	case ParamECRefCount:
		d.mu.Lock()
		defer d.mu.Unlock()
		return int64(len(d.ecRefs)), nil
	default:
		return 0, errors.Newf("unknown parameter %d", int(p)).
			Category(errors.CategoryValidation).
			Build()
	}
}

// SetECRef routes (or stops routing) the echo reference of render into
// this capture device. The device must be running.
func (d *Device) SetECRef(render ID, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startCount == 0 {
		return errors.Newf("device %s not active", d.info.ID).
			Category(errors.CategoryNotFound).
			Context("render", string(render)).
			Build()
	}
	n := d.ecRefs[render]
	switch {
	case enable:
		n++
	case n == 0:
		return nil
	default:
		n--
	}
	if (enable && n == 1) || (!enable && n == 0) {
		if s, ok := d.driver.(ECRefSetter); ok {
			if err := s.SetECRef(render, enable); err != nil {
				return errors.New(err).
					Category(errors.CategoryDevice).
					Context("render", string(render)).
					Build()
			}
		}
	}
	if n == 0 {
		delete(d.ecRefs, render)
	} else {
		d.ecRefs[render] = n
	}
	return nil
}

func (d *Device) onLink(p Param, value uint32) {
	var kind events.Kind
	switch p {
	case ParamBitrate:
		d.bitrate.Store(value)
		kind = events.BitrateChanged
	case ParamMTU:
		d.mtu.Store(value)
		kind = events.MTUChanged
	default:
		return
	}
	d.publish(kind, int64(value))
}

func (d *Device) publish(kind events.Kind, value int64) bool {
	if d.pub == nil {
		return true
	}
	ev := events.Event{Kind: kind, Device: string(d.info.ID), Value: value, Timestamp: time.Now()}
	if !d.pub.TryPublish(ev) {
		d.logger.Warn("event queue full, dropped device event", logger.String("event", kind.String()))
		return false
	}
	return true
}
