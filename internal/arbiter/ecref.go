package arbiter

import (
	"slices"

	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

type ecKey struct {
	capture device.ID
	render  device.ID
}

// ecEntry counts the active render streams that require the reference for
// one capture stream.
type ecEntry struct {
	stream Stream
	count  int
}

type ecDemand struct {
	key    ecKey
	stream Stream
	count  int
}

// ecAllowed applies the kind-pair policy. Trigger streams additionally need
// a profile that asks for echo reference and are skipped while in LPI.
func (rm *ResourceManager) ecAllowed(c, r Stream, lowPower bool) bool {
	if rm.traits(c).Trigger != TriggerNone {
		if lowPower {
			return false
		}
		p := c.CaptureProfile()
		if p == nil || !p.ECRequired {
			return false
		}
	}
	return rm.ecPolicy[ecPolicyKey{capture: c.Kind(), render: r.Kind()}]
}

func activeDevices(s Stream, dir device.Direction) []*device.Device {
	var out []*device.Device
	for _, d := range s.AssociatedDevices() {
		if d.Direction() == dir && d.IsActive() {
			out = append(out, d)
		}
	}
	return out
}

// ecDemands computes, for every active capture stream, how many active
// render streams pair with each of its capture devices.
func (rm *ResourceManager) ecDemands(streams []Stream, lowPower bool) []ecDemand {
	var captures, renders []Stream
	for _, s := range streams {
		if !s.IsActive() {
			continue
		}
		t := rm.traits(s)
		switch {
		case t.IsCapture():
			captures = append(captures, s)
		case t.IsRender():
			renders = append(renders, s)
		}
	}

	var out []ecDemand
	for _, c := range captures {
		for _, tx := range activeDevices(c, device.Input) {
			refs := tx.Info().ECRefs
			counts := make(map[device.ID]int)
			var order []device.ID
			for _, r := range renders {
				if !rm.ecAllowed(c, r, lowPower) {
					continue
				}
				for _, rx := range activeDevices(r, device.Output) {
					if !slices.Contains(refs, rx.ID()) {
						continue
					}
					if counts[rx.ID()] == 0 {
						order = append(order, rx.ID())
					}
					counts[rx.ID()]++
				}
			}
			for _, rx := range order {
				out = append(out, ecDemand{key: ecKey{capture: tx.ID(), render: rx}, stream: c, count: counts[rx]})
			}
		}
	}
	return out
}

// syncECRefs reconciles the echo reference map with the active streams.
// Enablement is requested on a 0 to positive transition and released on
// the transition back to 0. Failures roll the count back and stay local.
// Demands are computed under ecMu, so the last caller to apply also saw
// the newest stream state.
func (rm *ResourceManager) syncECRefs() {
	rm.activeMu.Lock()
	streams := slices.Clone(rm.streams)
	lowPower := rm.lowPower
	rm.ecMu.Lock()
	rm.activeMu.Unlock()
	defer rm.ecMu.Unlock()

	demands := rm.ecDemands(streams, lowPower)

	want := func(key ecKey, s Stream) int {
		for _, d := range demands {
			if d.key == key && d.stream == s {
				return d.count
			}
		}
		return 0
	}

	keys := make([]ecKey, 0, len(rm.ec))
	for k := range rm.ec {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ecKey) int {
		if a.capture != b.capture {
			return compareIDs(a.capture, b.capture)
		}
		return compareIDs(a.render, b.render)
	})
	for _, key := range keys {
		entries := rm.ec[key]
		kept := entries[:0]
		for _, e := range entries {
			if n := rm.transitionEC(key, e.stream, e.count, want(key, e.stream)); n > 0 {
				kept = append(kept, ecEntry{stream: e.stream, count: n})
			}
		}
		rm.storeECLocked(key, kept)
	}

	for _, d := range demands {
		if slices.ContainsFunc(rm.ec[d.key], func(e ecEntry) bool { return e.stream == d.stream }) {
			continue
		}
		if n := rm.transitionEC(d.key, d.stream, 0, d.count); n > 0 {
			rm.storeECLocked(d.key, append(rm.ec[d.key], ecEntry{stream: d.stream, count: n}))
		}
	}
}

func compareIDs(a, b device.ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (rm *ResourceManager) storeECLocked(key ecKey, entries []ecEntry) {
	if len(entries) == 0 {
		if _, ok := rm.ec[key]; ok {
			delete(rm.ec, key)
			rm.metrics.SetECRefActive(string(key.render), string(key.capture), false)
		}
		return
	}
	if _, ok := rm.ec[key]; !ok {
		rm.metrics.SetECRefActive(string(key.render), string(key.capture), true)
	}
	rm.ec[key] = entries
}

// transitionEC moves one entry from old to want and returns the count that
// actually holds afterwards.
func (rm *ResourceManager) transitionEC(key ecKey, s Stream, old, want int) int {
	switch {
	case old == want:
		return old
	case old > 0 && want > 0:
		return want
	}

	enable := want > 0
	render := rm.lookup(key.render)
	if render == nil {
		return 0
	}
	err := s.SetECRef(render, enable)
	if err == nil {
		rm.logger.Debug("echo reference updated",
			logger.String("capture", string(key.capture)),
			logger.String("render", string(key.render)),
			logger.String("stream", s.Handle()),
			logger.Bool("enable", enable))
		return want
	}

	op := "disable"
	if enable {
		op = "enable"
	}
	if errors.IsNotFound(err) {
		// no active capture device: nothing is routed either way
		rm.logger.Debug("echo reference target not active",
			logger.String("operation", op),
			logger.String("stream", s.Handle()),
			logger.Error(err))
		return 0
	}
	rm.logger.Error("echo reference update failed",
		logger.String("operation", op),
		logger.String("capture", string(key.capture)),
		logger.String("render", string(key.render)),
		logger.String("stream", s.Handle()),
		logger.Error(err))
	rm.metrics.RecordECRefError(op, string(errors.CategoryOf(err)))
	return old
}

// ECRefCount returns the summed reference count for a device pair.
func (rm *ResourceManager) ECRefCount(capture, render device.ID) int {
	rm.ecMu.Lock()
	defer rm.ecMu.Unlock()
	n := 0
	for _, e := range rm.ec[ecKey{capture: capture, render: render}] {
		n += e.count
	}
	return n
}

// ECRefStreamCount returns the count held by one capture stream.
func (rm *ResourceManager) ECRefStreamCount(capture, render device.ID, s Stream) int {
	rm.ecMu.Lock()
	defer rm.ecMu.Unlock()
	for _, e := range rm.ec[ecKey{capture: capture, render: render}] {
		if e.stream == s {
			return e.count
		}
	}
	return 0
}
