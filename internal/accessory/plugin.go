// Package accessory is the boundary to external codec plugins driving
// wireless accessories. Plugins are shared libraries resolved at runtime
// through purego; an in-memory Fake is provided for tests and simulation.
package accessory

import (
	"context"

	"github.com/tphakala/audiorm/internal/logger"
)

// Codec names a link codec reported by a plugin.
type Codec string

const (
	CodecSBC         Codec = "sbc"
	CodecAAC         Codec = "aac"
	CodecAptX        Codec = "aptx"
	CodecAptXHD      Codec = "aptx_hd"
	CodecAptXAD      Codec = "aptx_adaptive"
	CodecAptXADVoice Codec = "aptx_adaptive_speech"
	CodecLDAC        Codec = "ldac"
	CodecLC3         Codec = "lc3"
)

// Path tells whether the plugin encodes (render) or decodes (capture).
type Path int

const (
	PathEncoder Path = iota
	PathDecoder
)

// CodecConfig is the link configuration negotiated by the plugin.
type CodecConfig struct {
	Codec      Codec
	Path       Path
	SampleRate int
	BitWidth   int
	Channels   int
	Bitrate    uint32
}

const rate96k = 96000

// DeviceRate is the rate the local backend must run at for this codec
// config. Some codecs run the backend at twice the link rate, others pin it.
func (c CodecConfig) DeviceRate() int {
	doubled := c.SampleRate == 44100 || c.SampleRate == 48000
	switch c.Codec {
	case CodecAAC, CodecSBC:
		if c.Path == PathDecoder && doubled {
			return c.SampleRate * 2
		}
	case CodecLDAC, CodecAptXAD:
		if c.Path == PathEncoder && doubled {
			return c.SampleRate * 2
		}
	case CodecAptXADVoice, CodecLC3:
		return rate96k
	}
	return c.SampleRate
}

// Callbacks receive asynchronous link notifications. Either may be nil.
type Callbacks struct {
	OnBitrate func(bitrate uint32)
	OnMTU     func(mtu uint32)
}

// Plugin is the entry point set every accessory codec plugin exposes.
// Open and Close bound a codec session and may repeat; Release unloads the
// plugin and is final.
type Plugin interface {
	Open(ctx context.Context) error
	Close() error
	Release() error
	Start() error
	Stop() error
	Suspend(suspend bool) error
	CodecConfig() (CodecConfig, error)
	IsReady() bool
	SetCallbacks(cb Callbacks) error
}

// GetLogger returns the accessory module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("accessory")
}
