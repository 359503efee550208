package accessory

import (
	"context"
	"sync"

	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// Exported entry points every plugin library must provide.
const (
	symOpen              = "plugin_open"
	symClose             = "plugin_close"
	symStart             = "plugin_start"
	symStop              = "plugin_stop"
	symSuspend           = "plugin_suspend"
	symGetCodecConfig    = "plugin_get_codec_config"
	symIsReady           = "plugin_is_ready"
	symRegisterCallbacks = "plugin_register_callbacks"
)

// codecConfigC mirrors struct plugin_codec_config.
type codecConfigC struct {
	Codec      int32
	Path       int32
	SampleRate int32
	BitWidth   int32
	Channels   int32
	Bitrate    uint32
}

var codecIDs = [...]Codec{CodecSBC, CodecAAC, CodecAptX, CodecAptXHD, CodecAptXAD, CodecAptXADVoice, CodecLDAC, CodecLC3}

func (c codecConfigC) toConfig() CodecConfig {
	codec := Codec("unknown")
	if c.Codec >= 0 && int(c.Codec) < len(codecIDs) {
		codec = codecIDs[c.Codec]
	}
	return CodecConfig{
		Codec:      codec,
		Path:       Path(c.Path),
		SampleRate: int(c.SampleRate),
		BitWidth:   int(c.BitWidth),
		Channels:   int(c.Channels),
		Bitrate:    c.Bitrate,
	}
}

// NativePlugin drives a codec plugin shared library.
type NativePlugin struct {
	lib        *Library
	device     string
	dispatcher *Dispatcher
	logger     logger.Logger

	open              func(device string) int32
	close             func() int32
	start             func() int32
	stop              func() int32
	suspend           func(suspend int32) int32
	getCodecConfig    func(cfg *codecConfigC) int32
	isReady           func() int32
	registerCallbacks func(bitrateCb, mtuCb uintptr, cookie uint64)

	mu       sync.Mutex
	cookie   uint64
	session  bool
	released bool
}

// OpenNative loads the plugin at path for device and binds its entry
// points. The library is released if any entry point is missing.
func OpenNative(path, device string, d *Dispatcher) (p *NativePlugin, err error) {
	lib, err := Load(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if cerr := lib.Close(); cerr != nil {
				GetLogger().Warn("failed to unload plugin after bind error",
					logger.String("path", path),
					logger.Error(cerr))
			}
		}
	}()

	p = &NativePlugin{
		lib:        lib,
		device:     device,
		dispatcher: d,
		logger:     GetLogger().With(logger.String("device", device)),
	}
	if err := bind(lib, p); err != nil {
		return nil, err
	}
	return p, nil
}

func status(op string, rc int32) error {
	if rc == 0 {
		return nil
	}
	return errors.Newf("plugin %s failed with status %d", op, rc).
		Category(errors.CategoryPlugin).
		Context("operation", op).
		Build()
}

// Open initialises the codec session.
func (p *NativePlugin) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.New(err).Category(errors.CategoryCancellation).Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return errReleased()
	}
	if err := status(symOpen, p.open(p.device)); err != nil {
		return err
	}
	p.session = true
	return nil
}

// Close ends the codec session. The library stays loaded so the session
// can be opened again.
func (p *NativePlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeSessionLocked()
}

func (p *NativePlugin) closeSessionLocked() error {
	if !p.session {
		return nil
	}
	p.session = false
	if p.cookie != 0 && p.dispatcher != nil {
		p.dispatcher.Unregister(p.cookie)
		p.cookie = 0
	}
	return status(symClose, p.close())
}

// Release ends any open session and unloads the library. Entry points
// must not be called afterwards.
func (p *NativePlugin) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	p.released = true
	return errors.Join(p.closeSessionLocked(), p.lib.Close())
}

func errReleased() error {
	return errors.Newf("plugin already released").
		Category(errors.CategoryState).
		Build()
}

func (p *NativePlugin) Start() error { return status(symStart, p.start()) }
func (p *NativePlugin) Stop() error  { return status(symStop, p.stop()) }

// Suspend pauses or resumes the link without tearing down the session.
func (p *NativePlugin) Suspend(suspend bool) error {
	var v int32
	if suspend {
		v = 1
	}
	return status(symSuspend, p.suspend(v))
}

// CodecConfig queries the negotiated link configuration.
func (p *NativePlugin) CodecConfig() (CodecConfig, error) {
	var c codecConfigC
	if err := status(symGetCodecConfig, p.getCodecConfig(&c)); err != nil {
		return CodecConfig{}, err
	}
	return c.toConfig(), nil
}

// IsReady reports whether the link can carry audio.
func (p *NativePlugin) IsReady() bool { return p.isReady() != 0 }

// SetCallbacks registers cb with the dispatcher and hands the shared
// trampolines to the plugin on first use.
func (p *NativePlugin) SetCallbacks(cb Callbacks) error {
	if p.dispatcher == nil {
		return errors.Newf("plugin has no callback dispatcher").
			Category(errors.CategoryState).
			Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cookie != 0 && p.dispatcher.Update(p.cookie, cb) {
		return nil
	}
	bitrateCb, mtuCb := trampolines()
	p.cookie = p.dispatcher.Register(cb)
	p.registerCallbacks(bitrateCb, mtuCb, p.cookie)
	p.logger.Debug("registered plugin callbacks", logger.Int64("cookie", int64(p.cookie))) //nolint:gosec // cookies are small counters
	return nil
}
