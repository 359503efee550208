package accessory

import (
	"context"
	"sync"

	"github.com/tphakala/audiorm/internal/errors"
)

// Fake is an in-memory Plugin. Notifications emitted through it travel the
// same dispatcher path as native ones when a dispatcher is attached.
type Fake struct {
	mu         sync.Mutex
	config     CodecConfig
	ready      bool
	opened     bool
	started    bool
	suspended  bool
	released   bool
	failStart  error
	callbacks  Callbacks
	dispatcher *Dispatcher
	cookie     uint64
	calls      []string
}

// NewFake returns a ready fake plugin reporting cfg.
func NewFake(cfg CodecConfig) *Fake {
	return &Fake{config: cfg, ready: true}
}

// WithDispatcher routes emitted notifications through d.
func (f *Fake) WithDispatcher(d *Dispatcher) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatcher = d
	return f
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *Fake) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open")
	if f.released {
		return errReleased()
	}
	f.opened = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close")
	f.opened = false
	f.started = false
	if f.dispatcher != nil && f.cookie != 0 {
		f.dispatcher.Unregister(f.cookie)
		f.cookie = 0
	}
	return nil
}

// Release unloads the fake; later sessions fail to open.
func (f *Fake) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("release")
	f.released = true
	f.opened = false
	f.started = false
	return nil
}

func (f *Fake) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.failStart != nil {
		return f.failStart
	}
	if !f.opened {
		return errors.Newf("plugin not open").Category(errors.CategoryState).Build()
	}
	f.started = true
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.started = false
	return nil
}

func (f *Fake) Suspend(suspend bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if suspend {
		f.record("suspend")
	} else {
		f.record("resume")
	}
	f.suspended = suspend
	return nil
}

func (f *Fake) CodecConfig() (CodecConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config, nil
}

func (f *Fake) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *Fake) SetCallbacks(cb Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = cb
	if f.dispatcher == nil {
		return nil
	}
	if f.cookie == 0 || !f.dispatcher.Update(f.cookie, cb) {
		f.cookie = f.dispatcher.Register(cb)
	}
	return nil
}

// SetReady flips link readiness.
func (f *Fake) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

// SetCodecConfig changes what CodecConfig reports.
func (f *Fake) SetCodecConfig(cfg CodecConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = cfg
}

// FailStart makes the next Start calls return err; nil clears it.
func (f *Fake) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStart = err
}

// Started reports whether Start succeeded and Stop was not called since.
func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Opened reports whether a session is open.
func (f *Fake) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Released reports whether Release was called.
func (f *Fake) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// Suspended reports the last Suspend argument.
func (f *Fake) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

// Calls returns the entry points invoked so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// EmitBitrate simulates a bitrate notification from the plugin thread.
func (f *Fake) EmitBitrate(bitrate uint32) { f.emit(notifyBitrate, bitrate) }

// EmitMTU simulates a link MTU notification.
func (f *Fake) EmitMTU(mtu uint32) { f.emit(notifyMTU, mtu) }

func (f *Fake) emit(kind notifyKind, value uint32) {
	f.mu.Lock()
	cb, cookie, d := f.callbacks, f.cookie, f.dispatcher
	f.mu.Unlock()
	if d != nil && cookie != 0 {
		route(kind, cookie, value)
		return
	}
	switch kind {
	case notifyBitrate:
		if cb.OnBitrate != nil {
			cb.OnBitrate(value)
		}
	case notifyMTU:
		if cb.OnMTU != nil {
			cb.OnMTU(value)
		}
	}
}
