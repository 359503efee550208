package arbiter

import (
	"context"

	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

func (rm *ResourceManager) activeTriggersLocked(exclude Stream) int {
	n := 0
	for _, class := range triggerClasses {
		for _, s := range rm.triggers[class] {
			if s != exclude && s.IsActive() {
				n++
			}
		}
	}
	return n
}

// AdmitStart checks that s may start. Trigger streams are limited to the
// configured number of concurrent LPI sessions.
func (rm *ResourceManager) AdmitStart(s Stream) error {
	if rm.traits(s).Trigger == TriggerNone {
		return nil
	}
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	limit := rm.platform.MaxLPISessions
	if limit > 0 && rm.lowPower && rm.activeTriggersLocked(s) >= limit {
		return errors.Newf("no free low power capture session for %s", s.Handle()).
			Category(errors.CategoryExhausted).
			Context("stream", s.Handle()).
			Context("limit", limit).
			Build()
	}
	return nil
}

// OnStreamStart updates shared state after s started its devices: the
// capture profile winner, the NLPI vote and echo reference.
func (rm *ResourceManager) OnStreamStart(ctx context.Context, s Stream) {
	t := rm.traits(s)
	if t.Trigger != TriggerNone {
		p, update := rm.UpdateCaptureProfile(s, true)
		if update {
			rm.applyCaptureProfile(ctx, p)
		}
	}
	if t.ForcesNLPI {
		rm.activeMu.Lock()
		rm.nlpiUsers++
		first := rm.nlpiUsers == 1
		rm.activeMu.Unlock()
		if first {
			rm.logger.Debug("first NLPI user started", logger.String("stream", s.Handle()))
			rm.RequestPowerMode(ctx, false)
		}
	}
	rm.syncECRefs()
}

// OnStreamStop is the counterpart of OnStreamStart, called after s stopped.
func (rm *ResourceManager) OnStreamStop(ctx context.Context, s Stream) {
	t := rm.traits(s)
	if t.Trigger != TriggerNone {
		p, update := rm.UpdateCaptureProfile(s, false)
		if update {
			rm.applyCaptureProfile(ctx, p)
		}
	}
	if t.ForcesNLPI {
		rm.activeMu.Lock()
		last := false
		if rm.nlpiUsers > 0 {
			rm.nlpiUsers--
			last = rm.nlpiUsers == 0
		}
		rm.activeMu.Unlock()
		if last && rm.platform.LPISupported {
			rm.logger.Debug("last NLPI user stopped", logger.String("stream", s.Handle()))
			rm.RequestPowerMode(ctx, true)
		}
	}
	rm.syncECRefs()
}
