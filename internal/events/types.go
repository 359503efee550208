// Package events provides the ordered hardware event queue that decouples
// asynchronous device notifications from the resource manager.
package events

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a hardware or accessory transition.
type Kind int

const (
	// HardwareOffline marks the audio subsystem unavailable; connects fail
	// with a transient error until HardwareOnline.
	HardwareOffline Kind = iota
	HardwareOnline
	// AccessorySuspend and AccessoryResume carry the render accessory device.
	AccessorySuspend
	AccessoryResume
	// CaptureSuspend and CaptureResume carry the capture accessory device.
	CaptureSuspend
	CaptureResume
	// PowerModeRequest asks for an LPI (LowPower) or NLPI capture switch.
	PowerModeRequest
	// BufferingDone is raised when a trigger stream stops buffering.
	BufferingDone
	// BitrateChanged and MTUChanged are accessory link notifications.
	BitrateChanged
	MTUChanged
)

var kindNames = [...]string{
	HardwareOffline:  "hardware_offline",
	HardwareOnline:   "hardware_online",
	AccessorySuspend: "accessory_suspend",
	AccessoryResume:  "accessory_resume",
	CaptureSuspend:   "capture_suspend",
	CaptureResume:    "capture_resume",
	PowerModeRequest: "power_mode_request",
	BufferingDone:    "buffering_done",
	BitrateChanged:   "bitrate_changed",
	MTUChanged:       "mtu_changed",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one queued transition.
type Event struct {
	Kind      Kind
	Device    string // device id, empty for system wide events
	Value     int64  // bitrate or MTU
	LowPower  bool   // PowerModeRequest target
	Timestamp time.Time
}

// Consumer processes events in queue order.
type Consumer interface {
	Name() string
	ProcessEvent(ctx context.Context, event Event) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(ctx context.Context, event Event) error
}

func (f ConsumerFunc) Name() string { return f.ConsumerName }

func (f ConsumerFunc) ProcessEvent(ctx context.Context, event Event) error {
	return f.Fn(ctx, event)
}

// BusStats contains runtime statistics for monitoring
type BusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
