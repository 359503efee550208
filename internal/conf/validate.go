// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

func (ve *ValidationError) add(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validateArbiterSettings(&settings.Arbiter, &ve)
	validateTelemetrySettings(&settings.Telemetry, &ve)
	validatePlatformSettings(&settings.Platform, &ve)
	validateAccessorySettings(&settings.Accessory, &settings.Platform, &ve)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateArbiterSettings(a *ArbiterSettings, ve *ValidationError) {
	if a.SuspendDrainFactor < 0 {
		ve.add("arbiter.suspend_drain_factor must not be negative, got %g", a.SuspendDrainFactor)
	}
	if a.SuspendDrainMin < 0 || a.SuspendDrainMax < 0 {
		ve.add("arbiter suspend drain bounds must not be negative")
	}
	if a.SuspendDrainMax > 0 && a.SuspendDrainMin > a.SuspendDrainMax {
		ve.add("arbiter.suspend_drain_min (%s) exceeds suspend_drain_max (%s)", a.SuspendDrainMin, a.SuspendDrainMax)
	}
	if a.EventQueueSize < 0 {
		ve.add("arbiter.event_queue_size must not be negative, got %d", a.EventQueueSize)
	}
}

func validateTelemetrySettings(t *TelemetrySettings, ve *ValidationError) {
	if !t.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(t.Listen); err != nil {
		ve.add("telemetry.listen %q is not host:port: %v", t.Listen, err)
	}
}

func validateAccessorySettings(a *AccessorySettings, p *PlatformSettings, ve *ValidationError) {
	for i, plugin := range a.Plugins {
		dev, ok := p.Device(plugin.Device)
		switch {
		case !ok:
			ve.add("accessory.plugins[%d]: unknown device %q", i, plugin.Device)
		case !dev.Accessory:
			ve.add("accessory.plugins[%d]: device %q is not an accessory", i, plugin.Device)
		}
		if plugin.Path == "" {
			ve.add("accessory.plugins[%d]: path is required", i)
		}
	}
}

func validatePlatformSettings(p *PlatformSettings, ve *ValidationError) {
	if p.ReferenceRate <= 0 {
		ve.add("platform.reference_rate must be positive, got %d", p.ReferenceRate)
	}
	if p.MaxLPISessions < 0 {
		ve.add("platform.max_lpi_sessions must not be negative, got %d", p.MaxLPISessions)
	}
	if len(p.Devices) == 0 {
		ve.add("platform.devices must not be empty")
		return
	}

	seen := make(map[string]bool, len(p.Devices))
	for i := range p.Devices {
		d := &p.Devices[i]
		switch {
		case d.ID == "":
			ve.add("platform.devices[%d]: id is required", i)
			continue
		case seen[d.ID]:
			ve.add("platform.devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Backend == "" {
			ve.add("device %q: backend is required", d.ID)
		}
		if d.Direction != DirectionOutput && d.Direction != DirectionInput {
			ve.add("device %q: direction must be %q or %q", d.ID, DirectionOutput, DirectionInput)
		}
		if d.SampleRate <= 0 || d.BitWidth <= 0 || d.Channels <= 0 {
			ve.add("device %q: sample_rate, bit_width and channels must be positive", d.ID)
		}
		if d.LatencyMs < 0 {
			ve.add("device %q: latency_ms must not be negative", d.ID)
		}
	}

	known := func(field, id string) {
		if !seen[id] {
			ve.add("%s references unknown device %q", field, id)
		}
	}

	for i := range p.Devices {
		for _, ref := range p.Devices[i].ECRefs {
			known(fmt.Sprintf("device %q ec_refs", p.Devices[i].ID), ref)
		}
	}
	known("platform.default_output", p.DefaultOutput)
	known("platform.default_input", p.DefaultInput)
	for _, id := range p.FallbackPriority {
		known("platform.fallback_priority", id)
	}

	for i, u := range p.Usecases {
		if u.Kind == "" {
			ve.add("platform.usecases[%d]: kind is required", i)
		}
		known(fmt.Sprintf("platform.usecases[%d]", i), u.Device)
		if u.SampleRate < 0 || u.BitWidth < 0 || u.Channels < 0 {
			ve.add("platform.usecases[%d]: overrides must not be negative", i)
		}
	}

	for i, ec := range p.ECPolicy {
		if ec.Capture == "" || ec.Render == "" {
			ve.add("platform.ec_policy[%d]: capture and render kinds are required", i)
		}
	}

	for i, g := range p.Groups {
		if g.Name == "" {
			ve.add("platform.groups[%d]: name is required", i)
		}
		if len(g.Devices) < 2 {
			ve.add("group %q: needs at least two devices", g.Name)
		}
		for _, id := range g.Devices {
			known(fmt.Sprintf("group %q", g.Name), id)
		}
	}

	validModes := []string{ModeLowPower, ModeHighPerf, ModeHighPerfCharging}
	validInputs := []string{InputHandset, InputHeadset}
	names := make(map[string]bool, len(p.CaptureProfiles))
	for i, cp := range p.CaptureProfiles {
		if cp.Name == "" {
			ve.add("platform.capture_profiles[%d]: name is required", i)
		} else if names[cp.Name] {
			ve.add("platform.capture_profiles[%d]: duplicate name %q", i, cp.Name)
		}
		names[cp.Name] = true
		known(fmt.Sprintf("capture profile %q", cp.Name), cp.Device)
		if !slices.Contains(validModes, cp.Mode) {
			ve.add("capture profile %q: invalid mode %q", cp.Name, cp.Mode)
		}
		if !slices.Contains(validInputs, cp.Input) {
			ve.add("capture profile %q: invalid input %q", cp.Name, cp.Input)
		}
		if cp.SampleRate <= 0 || cp.BitWidth <= 0 || cp.Channels <= 0 {
			ve.add("capture profile %q: sample_rate, bit_width and channels must be positive", cp.Name)
		}
	}
}

// Device looks up a device entry by id.
func (p *PlatformSettings) Device(id string) (DeviceSettings, bool) {
	for i := range p.Devices {
		if p.Devices[i].ID == id {
			return p.Devices[i], true
		}
	}
	return DeviceSettings{}, false
}
