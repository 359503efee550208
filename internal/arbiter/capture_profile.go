package arbiter

import (
	"context"
	"slices"
	"strings"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/logger"
)

// CaptureProfile is a microphone configuration for trigger detection.
type CaptureProfile struct {
	Name       string
	Device     device.ID
	Mode       string
	Input      string
	Attrs      device.Attributes
	Priority   int
	ECRequired bool
}

func profileFromSettings(s *conf.CaptureProfileSettings) *CaptureProfile {
	return &CaptureProfile{
		Name:   s.Name,
		Device: device.ID(s.Device),
		Mode:   s.Mode,
		Input:  s.Input,
		Attrs: device.Attributes{
			ID:      device.ID(s.Device),
			Config:  device.Config{SampleRate: s.SampleRate, BitWidth: s.BitWidth, Channels: s.Channels},
			SndName: s.SndName,
		},
		Priority:   s.Priority,
		ECRequired: s.ECRequired,
	}
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// ComparePriority orders profiles: rank, then channels, sample rate, bit
// width and name. A nil profile ranks lowest. The result is positive when
// a wins.
func ComparePriority(a, b *CaptureProfile) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c := cmpInt(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := cmpInt(a.Attrs.Config.Channels, b.Attrs.Config.Channels); c != 0 {
		return c
	}
	if c := cmpInt(a.Attrs.Config.SampleRate, b.Attrs.Config.SampleRate); c != 0 {
		return c
	}
	if c := cmpInt(a.Attrs.Config.BitWidth, b.Attrs.Config.BitWidth); c != 0 {
		return c
	}
	return -strings.Compare(a.Name, b.Name)
}

// operatingModeLocked maps the power state to a profile mode.
func (rm *ResourceManager) operatingModeLocked() string {
	switch {
	case rm.lowPower:
		return conf.ModeLowPower
	case rm.charging:
		return conf.ModeHighPerfCharging
	}
	return conf.ModeHighPerf
}

func (rm *ResourceManager) profileFor(mode, input string) *CaptureProfile {
	if input == "" {
		input = conf.InputHandset
	}
	for _, p := range rm.captureProfiles {
		if p.Mode == mode && p.Input == input {
			return p
		}
	}
	// fall back to any profile for the input mode
	for _, p := range rm.captureProfiles {
		if p.Input == input {
			return p
		}
	}
	return nil
}

// SelectCaptureProfile returns the profile a trigger stream with the given
// input mode should use in the current operating mode.
func (rm *ResourceManager) SelectCaptureProfile(input string) *CaptureProfile {
	rm.activeMu.Lock()
	mode := rm.operatingModeLocked()
	rm.activeMu.Unlock()
	return rm.profileFor(mode, input)
}

// GetCaptureProfileByPriority returns the winning profile among active,
// non-buffering trigger streams other than exclude.
func (rm *ResourceManager) GetCaptureProfileByPriority(exclude Stream) *CaptureProfile {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.captureProfileByPriorityLocked(exclude)
}

func (rm *ResourceManager) captureProfileByPriorityLocked(exclude Stream) *CaptureProfile {
	var best *CaptureProfile
	for _, class := range triggerClasses {
		for _, s := range rm.triggers[class] {
			if s == exclude || !s.IsActive() || s.IsBuffering() {
				continue
			}
			if p := s.CaptureProfile(); ComparePriority(p, best) > 0 {
				best = p
			}
		}
	}
	return best
}

// ActiveCaptureProfile returns the profile the shared trigger backend runs.
func (rm *ResourceManager) ActiveCaptureProfile() *CaptureProfile {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.activeProfile
}

// UpdateCaptureProfile recomputes the active profile after s starts
// (activating) or stops. It reports whether the backend must be
// reconfigured.
func (rm *ResourceManager) UpdateCaptureProfile(s Stream, activating bool) (*CaptureProfile, bool) {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.updateCaptureProfileLocked(s, activating)
}

func (rm *ResourceManager) updateCaptureProfileLocked(s Stream, activating bool) (*CaptureProfile, bool) {
	if activating {
		p := s.CaptureProfile()
		if p == nil {
			return rm.activeProfile, false
		}
		if rm.activeProfile == nil {
			rm.activeProfile = p
			return p, true
		}
		if ComparePriority(p, rm.activeProfile) > 0 {
			rm.activeProfile = p
			return p, true
		}
		return rm.activeProfile, false
	}

	next := rm.captureProfileByPriorityLocked(s)
	if next == nil {
		rm.activeProfile = nil
		return nil, false
	}
	if next != rm.activeProfile {
		rm.activeProfile = next
		return next, true
	}
	return next, false
}

// applyCaptureProfile reconfigures the shared trigger backend for p and
// moves trigger streams whose selected profile lives on another device.
func (rm *ResourceManager) applyCaptureProfile(ctx context.Context, p *CaptureProfile) {
	if p == nil {
		return
	}
	rm.profileSwitches.Add(1)
	rm.metrics.RecordCaptureProfileSwitch(p.Name)
	rm.logger.Info("capture profile switch",
		logger.String("profile", p.Name),
		logger.String("device", string(p.Device)),
		logger.String("config", p.Attrs.Config.String()))

	rm.activeMu.Lock()
	var moves []move
	for _, class := range triggerClasses {
		for _, s := range rm.triggers[class] {
			sp := s.CaptureProfile()
			if sp == nil {
				continue
			}
			if !slices.Contains(deviceIDs(s.AssociatedDevices()), sp.Device) {
				moves = append(moves, move{stream: s, targets: []device.ID{sp.Device}})
			}
		}
	}
	rm.activeMu.Unlock()

	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()
	backends := []string{rm.infos[p.Device].Backend}
	pl, err := rm.planMovesLocked(moves, backends)
	if err != nil {
		rm.logger.Warn("capture profile plan failed", logger.Error(err))
		return
	}
	res := rm.switchLocked(ctx, pl)
	if err := res.firstError(); err != nil {
		rm.logger.Warn("capture profile switch incomplete", logger.Error(err))
	}
}
