package arbiter

import (
	"slices"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
)

type fieldMask uint8

const (
	fieldRate fieldMask = 1 << iota
	fieldWidth
	fieldChannels
	fieldSndName
)

// request is what one stream asks of one device.
type request struct {
	priority int
	seq      uint64
	attrs    device.Attributes
	explicit fieldMask
}

type negotiated struct {
	attrs    device.Attributes
	priority int
}

func (r *request) overlay(cfg device.Config, sndName string) {
	if cfg.SampleRate > 0 {
		r.attrs.Config.SampleRate = cfg.SampleRate
		r.explicit |= fieldRate
	}
	if cfg.BitWidth > 0 {
		r.attrs.Config.BitWidth = cfg.BitWidth
		r.explicit |= fieldWidth
	}
	if cfg.Channels > 0 {
		r.attrs.Config.Channels = cfg.Channels
		r.explicit |= fieldChannels
	}
	if cfg.Format != "" {
		r.attrs.Config.Format = cfg.Format
	}
	if sndName != "" {
		r.attrs.SndName = sndName
		r.explicit |= fieldSndName
	}
}

// buildRequest layers device defaults, the usecase table row and the
// caller's own overrides. Trigger streams ask for the active capture
// profile.
func (rm *ResourceManager) buildRequest(s Stream, id device.ID, profile *CaptureProfile) request {
	r := request{
		priority: rm.kindPriority[s.Kind()],
		seq:      rm.seq(s),
		attrs:    rm.infos[id].Defaults,
	}
	if u, ok := rm.usecases[usecaseKey{kind: s.Kind(), device: id}]; ok {
		r.priority = u.Priority
		r.overlay(device.Config{SampleRate: u.SampleRate, BitWidth: u.BitWidth, Channels: u.Channels}, u.SndName)
	}
	if profile != nil && rm.traits(s).Trigger != TriggerNone && profile.Device == id {
		r.overlay(profile.Attrs.Config, profile.Attrs.SndName)
	}
	req := s.Requested()
	r.overlay(req.Config, req.SndName)
	return r
}

func inRateFamily(rate, ref int) bool {
	return rate > 0 && (rate%ref == 0 || ref%rate == 0)
}

// pickRate prefers rates in the reference family, then the larger.
func pickRate(a, b, ref int) int {
	fa, fb := inRateFamily(a, ref), inRateFamily(b, ref)
	switch {
	case fa && !fb:
		return a
	case fb && !fa:
		return b
	}
	return max(a, b)
}

// mergeRequests folds lo into hi; hi has the higher priority. An explicit
// field of hi wins outright, otherwise the wider value wins.
func mergeRequests(hi, lo request, ref int) request {
	out := hi
	out.explicit = hi.explicit | lo.explicit
	c := &out.attrs.Config
	if hi.explicit&fieldRate == 0 {
		c.SampleRate = pickRate(hi.attrs.Config.SampleRate, lo.attrs.Config.SampleRate, ref)
	}
	if hi.explicit&fieldWidth == 0 {
		c.BitWidth = max(hi.attrs.Config.BitWidth, lo.attrs.Config.BitWidth)
	}
	if hi.explicit&fieldChannels == 0 {
		c.Channels = max(hi.attrs.Config.Channels, lo.attrs.Config.Channels)
	}
	if hi.explicit&fieldSndName == 0 && lo.explicit&fieldSndName != 0 {
		out.attrs.SndName = lo.attrs.SndName
	}
	return out
}

// foldRequests merges in priority order; ties go to the earlier stream.
func foldRequests(reqs []request, ref int) request {
	sorted := slices.Clone(reqs)
	slices.SortStableFunc(sorted, func(a, b request) int {
		if a.priority != b.priority {
			return b.priority - a.priority
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	acc := sorted[0]
	for _, r := range sorted[1:] {
		acc = mergeRequests(acc, r, ref)
	}
	return acc
}

// activeGroup returns the group config that applies to backend: one of
// its devices is on the backend and every member has streams.
func (rm *ResourceManager) activeGroup(backend string, routed map[device.ID][]Stream) *conf.GroupSettings {
	for i := range rm.groups {
		g := &rm.groups[i]
		onBackend, complete := false, true
		for _, id := range g.Devices {
			if rm.infos[device.ID(id)].Backend == backend {
				onBackend = true
			}
			if len(routed[device.ID(id)]) == 0 {
				complete = false
			}
		}
		if onBackend && complete {
			return g
		}
	}
	return nil
}

// negotiateBackend computes the attributes every device on backend must
// carry given the routing in routed. All devices converge to one Config;
// SndName stays per device. Accessories keep their link-driven attributes
// and are left out. It returns nil when no stream uses the backend.
func (rm *ResourceManager) negotiateBackend(backend string, routed map[device.ID][]Stream, profile *CaptureProfile) map[device.ID]negotiated {
	ref := rm.platform.ReferenceRate
	var all []request
	perDevice := make(map[device.ID][]request)
	for _, id := range rm.backendDevices[backend] {
		if rm.infos[id].Accessory {
			continue
		}
		for _, s := range routed[id] {
			r := rm.buildRequest(s, id, profile)
			all = append(all, r)
			perDevice[id] = append(perDevice[id], r)
		}
	}
	if len(all) == 0 {
		return nil
	}

	merged := foldRequests(all, ref)
	cfg := merged.attrs.Config
	group := rm.activeGroup(backend, routed)
	custom := ""
	if group != nil {
		custom = group.Name
		if group.SampleRate > 0 {
			cfg.SampleRate = group.SampleRate
		}
		if group.BitWidth > 0 {
			cfg.BitWidth = group.BitWidth
		}
		if group.Channels > 0 {
			cfg.Channels = group.Channels
		}
	}

	out := make(map[device.ID]negotiated)
	for _, id := range rm.backendDevices[backend] {
		info := rm.infos[id]
		if info.Accessory {
			continue
		}
		snd := info.Defaults.SndName
		if reqs := perDevice[id]; len(reqs) > 0 {
			snd = foldRequests(reqs, ref).attrs.SndName
		}
		if group != nil && group.SndName != "" && slices.Contains(group.Devices, string(id)) {
			snd = group.SndName
		}
		out[id] = negotiated{
			attrs:    device.Attributes{ID: id, Config: cfg, SndName: snd, CustomConfig: custom},
			priority: merged.priority,
		}
	}
	return out
}
