package accessory

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiorm/internal/errors"
)

func TestCodecConfigDeviceRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  CodecConfig
		want int
	}{
		{"sbc encoder keeps rate", CodecConfig{Codec: CodecSBC, Path: PathEncoder, SampleRate: 48000}, 48000},
		{"sbc decoder doubles", CodecConfig{Codec: CodecSBC, Path: PathDecoder, SampleRate: 44100}, 88200},
		{"ldac encoder doubles", CodecConfig{Codec: CodecLDAC, Path: PathEncoder, SampleRate: 48000}, 96000},
		{"ldac encoder at 96k untouched", CodecConfig{Codec: CodecLDAC, Path: PathEncoder, SampleRate: 96000}, 96000},
		{"aptx adaptive decoder keeps rate", CodecConfig{Codec: CodecAptXAD, Path: PathDecoder, SampleRate: 48000}, 48000},
		{"lc3 pinned", CodecConfig{Codec: CodecLC3, SampleRate: 32000}, 96000},
		{"speech pinned", CodecConfig{Codec: CodecAptXADVoice, SampleRate: 16000}, 96000},
		{"aptx untouched", CodecConfig{Codec: CodecAptX, SampleRate: 44100}, 44100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.DeviceRate())
		})
	}
}

func TestLoadMissingLibrary(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "libmissing.so"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryPlugin))

	_, err = Load("")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestOpenNativeMissingLibrary(t *testing.T) {
	t.Parallel()

	_, err := OpenNative(filepath.Join(t.TempDir(), "libcodec.so"), "bluetooth_a2dp", NewDispatcher(0))
	require.Error(t, err)
}

func TestLibraryCloseIdempotent(t *testing.T) {
	t.Parallel()

	lib := &Library{path: "test"}
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())
	_, err := lib.Symbol("plugin_open")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(8)
	got := make(chan uint32, 4)
	cookie := d.Register(Callbacks{
		OnBitrate: func(v uint32) { got <- v },
		OnMTU:     func(v uint32) { got <- v + 1000 },
	})
	t.Cleanup(func() { d.Unregister(cookie) })

	route(notifyBitrate, cookie, 328)
	route(notifyMTU, cookie, 5)
	route(notifyBitrate, cookie, 512)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for _, want := range []uint32{328, 1005, 512} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1)
	cookie := d.Register(Callbacks{})
	t.Cleanup(func() { d.Unregister(cookie) })

	route(notifyBitrate, cookie, 1)
	route(notifyBitrate, cookie, 2)
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherUnregisteredCookieIgnored(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(4)
	var calls atomic.Int32
	cookie := d.Register(Callbacks{OnMTU: func(uint32) { calls.Add(1) }})
	d.Unregister(cookie)
	route(notifyMTU, cookie, 9)
	assert.Equal(t, uint64(0), d.Dropped())
	assert.Empty(t, d.queue)
	assert.False(t, d.Update(cookie, Callbacks{}))
	assert.Zero(t, calls.Load())
}

func TestFakeLifecycle(t *testing.T) {
	t.Parallel()

	f := NewFake(CodecConfig{Codec: CodecAAC, SampleRate: 48000, BitWidth: 16, Channels: 2})
	require.Error(t, f.Start(), "start before open")
	require.NoError(t, f.Open(t.Context()))
	require.NoError(t, f.Start())
	assert.True(t, f.Started())
	require.NoError(t, f.Suspend(true))
	assert.True(t, f.Suspended())
	require.NoError(t, f.Suspend(false))
	require.NoError(t, f.Stop())
	require.NoError(t, f.Close())
	assert.False(t, f.Released(), "close only ends the session")

	require.NoError(t, f.Open(t.Context()))
	require.NoError(t, f.Release())
	assert.True(t, f.Released())
	assert.False(t, f.Opened())
	require.Error(t, f.Open(t.Context()), "released plugin cannot open a session")
	assert.Equal(t, []string{"start", "open", "start", "suspend", "resume", "stop", "close", "open", "release", "open"}, f.Calls())
}

func TestFakeEmitThroughDispatcher(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(4)
	f := NewFake(CodecConfig{}).WithDispatcher(d)
	got := make(chan uint32, 1)
	require.NoError(t, f.SetCallbacks(Callbacks{OnBitrate: func(v uint32) { got <- v }}))

	f.EmitBitrate(256000)
	select {
	case <-got:
		t.Fatal("delivered before dispatcher ran")
	default:
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	select {
	case v := <-got:
		assert.Equal(t, uint32(256000), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	require.NoError(t, f.Close())
}
