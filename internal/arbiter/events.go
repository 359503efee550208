package arbiter

import (
	"context"

	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/events"
	"github.com/tphakala/audiorm/internal/logger"
)

// Name implements events.Consumer.
func (rm *ResourceManager) Name() string { return "arbiter" }

// ProcessEvent applies one queued hardware or accessory transition.
// Migration errors are returned so the bus counts them; they never reach
// a stream client.
func (rm *ResourceManager) ProcessEvent(ctx context.Context, ev events.Event) error {
	id := device.ID(ev.Device)
	rm.logger.Debug("processing event",
		logger.String("kind", ev.Kind.String()),
		logger.String("device", ev.Device))

	switch ev.Kind {
	case events.HardwareOffline:
		rm.SetHardwareOnline(ctx, false)
	case events.HardwareOnline:
		rm.SetHardwareOnline(ctx, true)
	case events.AccessorySuspend, events.CaptureSuspend:
		rm.metrics.RecordAccessoryEvent(ev.Device, ev.Kind.String())
		return rm.SuspendAccessory(ctx, id)
	case events.AccessoryResume, events.CaptureResume:
		rm.metrics.RecordAccessoryEvent(ev.Device, ev.Kind.String())
		return rm.ResumeAccessory(ctx, id)
	case events.PowerModeRequest:
		rm.RequestPowerMode(ctx, ev.LowPower)
	case events.BufferingDone:
		rm.OnBufferingDone(ctx)
	case events.BitrateChanged:
		rm.metrics.RecordAccessoryEvent(ev.Device, ev.Kind.String())
		rm.metrics.SetAccessoryLink(ev.Device, "bitrate", float64(ev.Value))
	case events.MTUChanged:
		rm.metrics.RecordAccessoryEvent(ev.Device, ev.Kind.String())
		rm.metrics.SetAccessoryLink(ev.Device, "mtu", float64(ev.Value))
	default:
		rm.logger.Warn("unhandled event", logger.String("kind", ev.Kind.String()))
	}
	return nil
}

var _ events.Consumer = (*ResourceManager)(nil)
