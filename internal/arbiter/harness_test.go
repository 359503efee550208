package arbiter_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiorm/internal/accessory"
	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/stream"
)

// ecDriver is a Nop driver that records echo reference routing. Open and
// SetECRef can be made to fail.
type ecDriver struct {
	*device.Nop

	mu      sync.Mutex
	calls   []string
	openErr error
	ecErr   error
}

func (d *ecDriver) Open(ctx context.Context, attrs device.Attributes) error {
	d.mu.Lock()
	err := d.openErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.Nop.Open(ctx, attrs)
}

func (d *ecDriver) failOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

func (d *ecDriver) failECRef(err error) {
	d.mu.Lock()
	d.ecErr = err
	d.mu.Unlock()
}

func (d *ecDriver) SetECRef(render device.ID, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ecErr != nil {
		return d.ecErr
	}
	op := "disable:"
	if enable {
		op = "enable:"
	}
	d.calls = append(d.calls, op+string(render))
	return nil
}

func (d *ecDriver) ecCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

type harness struct {
	t   *testing.T
	rm  *arbiter.ResourceManager
	bt  *accessory.Fake
	mu  sync.Mutex
	drv map[device.ID]*ecDriver

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Arbiter: conf.ArbiterSettings{
			SuspendDrainFactor: 2,
			SuspendDrainMin:    20 * time.Millisecond,
			SuspendDrainMax:    500 * time.Millisecond,
		},
		Platform: conf.DefaultPlatform(),
	}
}

func newHarness(t *testing.T, mutate func(*conf.Settings), opts ...arbiter.Option) *harness {
	t.Helper()
	settings := testSettings()
	if mutate != nil {
		mutate(settings)
	}
	h := &harness{
		t:   t,
		bt:  accessory.NewFake(accessory.CodecConfig{Codec: accessory.CodecSBC, Path: accessory.PathEncoder, SampleRate: 44100, BitWidth: 16, Channels: 2}),
		drv: make(map[device.ID]*ecDriver),
	}
	plugins := device.PluginFactory(map[device.ID]accessory.Plugin{device.A2DP: h.bt})
	factory := func(info device.Info) device.Driver {
		if info.Accessory {
			return plugins(info)
		}
		d := &ecDriver{Nop: device.NewNop()}
		h.mu.Lock()
		h.drv[info.ID] = d
		h.mu.Unlock()
		return d
	}
	sleeper := func(_ context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.sleepMu.Unlock()
		return nil
	}
	all := append([]arbiter.Option{arbiter.WithDriverFactory(factory), arbiter.WithSleeper(sleeper)}, opts...)
	rm, err := arbiter.New(settings, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rm.Close() })
	h.rm = rm
	return h
}

func (h *harness) driver(id device.ID) *ecDriver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv[id]
}

// driverFor instantiates id and returns its test driver.
func (h *harness) driverFor(id device.ID) *ecDriver {
	h.t.Helper()
	_, err := h.rm.GetInstance(id)
	require.NoError(h.t, err)
	d := h.driver(id)
	require.NotNil(h.t, d)
	return d
}

func (h *harness) drains() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return slices.Clone(h.sleeps)
}

func (h *harness) open(kind arbiter.Kind, opts stream.Options, ids ...device.ID) *stream.Stream {
	h.t.Helper()
	s, err := stream.Open(h.t.Context(), h.rm, kind, ids, opts)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func (h *harness) start(kind arbiter.Kind, opts stream.Options, ids ...device.ID) *stream.Stream {
	h.t.Helper()
	s := h.open(kind, opts, ids...)
	require.NoError(h.t, s.Start(h.t.Context()))
	return s
}

func (h *harness) attrs(id device.ID) device.Attributes {
	h.t.Helper()
	a, err := h.rm.GetDeviceAttributes(id)
	require.NoError(h.t, err)
	return a
}

func rate(r int) stream.Options {
	return stream.Options{Attributes: device.Attributes{Config: device.Config{SampleRate: r}}}
}

func none() stream.Options { return stream.Options{} }
