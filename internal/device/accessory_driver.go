package device

import (
	"context"
	"sync"

	"github.com/tphakala/audiorm/internal/accessory"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// AccessoryDriver adapts a codec plugin to the Driver contract.
type AccessoryDriver struct {
	plugin accessory.Plugin
	logger logger.Logger

	mu      sync.Mutex
	handler func(p Param, value uint32)
	opened  bool
}

// NewAccessoryDriver wraps plugin.
func NewAccessoryDriver(id ID, plugin accessory.Plugin) *AccessoryDriver {
	return &AccessoryDriver{
		plugin: plugin,
		logger: GetLogger().With(logger.String("accessory", string(id))),
	}
}

// SetLinkHandler is called once by the owning Device.
func (a *AccessoryDriver) SetLinkHandler(h func(p Param, value uint32)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *AccessoryDriver) notify(p Param) func(uint32) {
	return func(v uint32) {
		a.mu.Lock()
		h := a.handler
		a.mu.Unlock()
		if h != nil {
			h(p, v)
		}
	}
}

func (a *AccessoryDriver) Open(ctx context.Context, _ Attributes) error {
	if err := a.plugin.Open(ctx); err != nil {
		return err
	}
	err := a.plugin.SetCallbacks(accessory.Callbacks{
		OnBitrate: a.notify(ParamBitrate),
		OnMTU:     a.notify(ParamMTU),
	})
	if err != nil {
		a.logger.Warn("link callbacks unavailable", logger.Error(err))
	}
	a.mu.Lock()
	a.opened = true
	a.mu.Unlock()
	return nil
}

func (a *AccessoryDriver) Start(_ context.Context) error {
	if !a.plugin.IsReady() {
		return errors.Newf("accessory link not ready").
			Category(errors.CategoryNotReady).
			Build()
	}
	return a.plugin.Start()
}

func (a *AccessoryDriver) Stop() error { return a.plugin.Stop() }

// Close ends the codec session. The plugin stays loaded and the session
// is reopened on next use.
func (a *AccessoryDriver) Close() error {
	a.mu.Lock()
	opened := a.opened
	a.opened = false
	a.mu.Unlock()
	if !opened {
		return nil
	}
	return a.plugin.Close()
}

func (a *AccessoryDriver) IsReady() bool { return a.plugin.IsReady() }

func (a *AccessoryDriver) Suspend(suspend bool) error { return a.plugin.Suspend(suspend) }

// LinkConfig derives the backend configuration from the codec config.
func (a *AccessoryDriver) LinkConfig() (Config, error) {
	cc, err := a.plugin.CodecConfig()
	if err != nil {
		return Config{}, err
	}
	return Config{
		SampleRate: cc.DeviceRate(),
		BitWidth:   cc.BitWidth,
		Channels:   cc.Channels,
	}, nil
}

// Release ends an open session and unloads the plugin at teardown.
func (a *AccessoryDriver) Release() error {
	return errors.Join(a.Close(), a.plugin.Release())
}

// PluginFactory returns a Factory that backs the listed accessory devices
// with plugins and everything else with Nop drivers.
func PluginFactory(plugins map[ID]accessory.Plugin) Factory {
	return func(info Info) Driver {
		if p, ok := plugins[info.ID]; ok && info.Accessory {
			return NewAccessoryDriver(info.ID, p)
		}
		return NewNop()
	}
}
