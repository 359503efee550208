package arbiter

import (
	"context"

	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/observability/metrics"
)

// powerLatch remembers a mode switch deferred while a trigger stream is
// buffering.
type powerLatch int

const (
	latchNone powerLatch = iota
	latchPendingLPI
	latchPendingNLPI
)

func (l powerLatch) String() string {
	switch l {
	case latchPendingLPI:
		return "pending_lpi"
	case latchPendingNLPI:
		return "pending_nlpi"
	}
	return "none"
}

func latchFor(lowPower bool) powerLatch {
	if lowPower {
		return latchPendingLPI
	}
	return latchPendingNLPI
}

func (rm *ResourceManager) anyBufferingLocked() bool {
	for _, class := range triggerClasses {
		for _, s := range rm.triggers[class] {
			if s.IsBuffering() {
				return true
			}
		}
	}
	return false
}

// RequestPowerMode asks for LPI (lowPower) or NLPI capture. While any
// trigger stream is buffering the request is latched; a request back to
// the current mode before replay cancels the pending one.
func (rm *ResourceManager) RequestPowerMode(ctx context.Context, lowPower bool) {
	outcome := rm.requestPowerMode(lowPower)
	rm.metrics.RecordPowerModeRequest(lowPower, outcome)
	rm.logger.Debug("power mode request",
		logger.Bool("low_power", lowPower),
		logger.String("outcome", outcome))
	if outcome == metrics.PowerModeApplied {
		rm.reselectCaptureProfiles(ctx)
	}
}

func (rm *ResourceManager) requestPowerMode(lowPower bool) string {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()

	if lowPower && !rm.platform.LPISupported {
		return metrics.ResultNoop
	}
	if rm.anyBufferingLocked() {
		switch {
		case rm.latch != latchNone && lowPower == rm.lowPower:
			rm.latch = latchNone
			return metrics.PowerModeCollapsed
		case lowPower != rm.lowPower:
			rm.latch = latchFor(lowPower)
			return metrics.PowerModeDeferred
		}
		return metrics.ResultNoop
	}
	if lowPower == rm.lowPower {
		return metrics.ResultNoop
	}
	rm.lowPower = lowPower
	rm.powerSwitches.Add(1)
	return metrics.PowerModeApplied
}

// OnBufferingDone replays a latched power mode switch once no trigger
// stream is buffering.
func (rm *ResourceManager) OnBufferingDone(ctx context.Context) {
	rm.activeMu.Lock()
	if rm.anyBufferingLocked() || rm.latch == latchNone {
		rm.activeMu.Unlock()
		return
	}
	target := rm.latch == latchPendingLPI
	rm.latch = latchNone
	rm.activeMu.Unlock()

	rm.metrics.RecordPowerModeRequest(target, metrics.PowerModeReplayed)
	rm.RequestPowerMode(ctx, target)
}

// PendingPowerMode reports the latched request, if any.
func (rm *ResourceManager) PendingPowerMode() (lowPower, pending bool) {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.latch == latchPendingLPI, rm.latch != latchNone
}

// LowPower reports whether trigger capture runs in LPI.
func (rm *ResourceManager) LowPower() bool {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.lowPower
}

// SetCharging switches between the two NLPI profile modes.
func (rm *ResourceManager) SetCharging(ctx context.Context, charging bool) {
	rm.activeMu.Lock()
	changed := rm.charging != charging
	rm.charging = charging
	lowPower := rm.lowPower
	rm.activeMu.Unlock()
	if changed && !lowPower {
		rm.reselectCaptureProfiles(ctx)
	}
}

// reselectCaptureProfiles gives every trigger stream the profile of the
// current operating mode, then applies the new winner.
func (rm *ResourceManager) reselectCaptureProfiles(ctx context.Context) {
	rm.activeMu.Lock()
	mode := rm.operatingModeLocked()
	for _, class := range triggerClasses {
		for _, s := range rm.triggers[class] {
			if p := rm.profileFor(mode, s.CaptureInput()); p != nil {
				s.SetCaptureProfile(p)
			}
		}
	}
	next := rm.captureProfileByPriorityLocked(nil)
	changed := next != nil && next != rm.activeProfile
	if next != nil {
		rm.activeProfile = next
	}
	rm.activeMu.Unlock()

	rm.syncECRefs()
	if changed {
		rm.applyCaptureProfile(ctx, next)
	}
}
