package simulate

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiorm/internal/accessory"
	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/stream"
)

// Scenario is a scripted sequence of client calls and hardware events.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scenario operation. Which fields apply depends on Op.
type Step struct {
	Op       string   `yaml:"op"`
	Stream   string   `yaml:"stream,omitempty"`
	Kind     string   `yaml:"kind,omitempty"`
	Devices  []string `yaml:"devices,omitempty"`
	Device   string   `yaml:"device,omitempty"`
	Volume   *float64 `yaml:"volume,omitempty"`
	Input    string   `yaml:"input,omitempty"`
	LowPower bool     `yaml:"low_power,omitempty"`
	Enable   *bool    `yaml:"enable,omitempty"` // mute, pause, ready, charging
	// Expect is the error category the step must fail with, or empty for
	// success.
	Expect string `yaml:"expect,omitempty"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int    `yaml:"index"`
	Op       string `yaml:"op"`
	Target   string `yaml:"target,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Category string `yaml:"category,omitempty"`
	Matched  bool   `yaml:"matched"`
}

// Route is one stream's placement at the end of the run.
type Route struct {
	Stream  string   `yaml:"stream"`
	Kind    string   `yaml:"kind"`
	Devices []string `yaml:"devices"`
	Active  bool     `yaml:"active"`
	Muted   bool     `yaml:"muted,omitempty"`
	Paused  bool     `yaml:"paused,omitempty"`
}

// Report is what a run prints.
type Report struct {
	Scenario      string       `yaml:"scenario"`
	Steps         []StepResult `yaml:"steps"`
	Routes        []Route      `yaml:"routes"`
	LowPower      bool         `yaml:"low_power"`
	ActiveProfile string       `yaml:"active_profile,omitempty"`
	Transactions  uint64       `yaml:"transactions"`
	Orphans       int          `yaml:"orphans"`
}

// Failed reports whether any step missed its expectation.
func (r *Report) Failed() bool {
	return slices.ContainsFunc(r.Steps, func(s StepResult) bool { return !s.Matched })
}

// Decode reads a scenario document.
func Decode(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Newf("decode scenario: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(sc.Steps) == 0 {
		return nil, errors.Newf("scenario %q has no steps", sc.Name).
			Category(errors.CategoryValidation).
			Build()
	}
	return &sc, nil
}

// Runner replays scenarios against a resource manager whose accessories
// are in-memory plugins.
type Runner struct {
	rm      *arbiter.ResourceManager
	fakes   map[device.ID]*accessory.Fake
	streams map[string]*stream.Stream
	order   []string
	logger  logger.Logger
}

// NewRunner builds a manager from settings. With realTime unset the
// suspend drain wait is skipped.
func NewRunner(settings *conf.Settings, realTime bool) (*Runner, error) {
	r := &Runner{
		fakes:   make(map[device.ID]*accessory.Fake),
		streams: make(map[string]*stream.Stream),
		logger:  logger.Global().Module("simulate"),
	}
	codecs := make(map[string]accessory.Codec)
	for _, p := range settings.Accessory.Plugins {
		if p.Codec != "" {
			codecs[p.Device] = accessory.Codec(p.Codec)
		}
	}
	plugins := make(map[device.ID]accessory.Plugin)
	for _, d := range settings.Platform.Devices {
		if !d.Accessory {
			continue
		}
		cfg := accessory.CodecConfig{
			Codec:      accessory.CodecSBC,
			Path:       accessory.PathEncoder,
			SampleRate: d.SampleRate,
			BitWidth:   d.BitWidth,
			Channels:   d.Channels,
		}
		if c, ok := codecs[d.ID]; ok {
			cfg.Codec = c
		}
		if d.Direction == conf.DirectionInput {
			cfg.Path = accessory.PathDecoder
		}
		f := accessory.NewFake(cfg)
		r.fakes[device.ID(d.ID)] = f
		plugins[device.ID(d.ID)] = f
	}

	opts := []arbiter.Option{arbiter.WithDriverFactory(device.PluginFactory(plugins))}
	if !realTime {
		opts = append(opts, arbiter.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	}
	rm, err := arbiter.New(settings, opts...)
	if err != nil {
		return nil, err
	}
	r.rm = rm
	return r, nil
}

// Run executes every step. A step error is recorded, not returned; the
// returned error is reserved for malformed steps.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	rep := &Report{Scenario: sc.Name}
	for i, st := range sc.Steps {
		target, err := r.step(ctx, st)
		if errors.IsCategory(err, errors.CategoryConfiguration) {
			return nil, errors.Newf("step %d (%s): %w", i, st.Op, err).
				Category(errors.CategoryConfiguration).
				Build()
		}
		res := StepResult{Index: i, Op: st.Op, Target: target}
		if err != nil {
			res.Error = err.Error()
			res.Category = string(errors.CategoryOf(err))
		}
		res.Matched = res.Category == st.Expect
		if !res.Matched {
			r.logger.Warn("step did not match expectation",
				logger.Int("step", i),
				logger.String("op", st.Op),
				logger.String("expect", st.Expect),
				logger.String("category", res.Category))
		}
		rep.Steps = append(rep.Steps, res)
	}

	for _, name := range r.order {
		s := r.streams[name]
		rep.Routes = append(rep.Routes, Route{
			Stream:  name,
			Kind:    string(s.Kind()),
			Devices: idStrings(s.Devices()),
			Active:  s.IsActive(),
			Muted:   s.Muted(),
			Paused:  s.Paused(),
		})
	}
	stats := r.rm.Stats()
	rep.LowPower = stats.LowPower
	rep.ActiveProfile = stats.ActiveProfile
	rep.Transactions = stats.Transactions
	rep.Orphans = stats.Orphans
	return rep, nil
}

func badStep(format string, args ...any) error {
	return errors.Newf(format, args...).
		Category(errors.CategoryConfiguration).
		Build()
}

func (r *Runner) lookup(st Step) (*stream.Stream, error) {
	s, ok := r.streams[st.Stream]
	if !ok {
		return nil, badStep("%s: no stream named %q", st.Op, st.Stream)
	}
	return s, nil
}

func (r *Runner) fake(id string) (*accessory.Fake, error) {
	f, ok := r.fakes[device.ID(id)]
	if !ok {
		return nil, badStep("device %q is not a simulated accessory", id)
	}
	return f, nil
}

func enabled(st Step) bool {
	return st.Enable == nil || *st.Enable
}

func (r *Runner) step(ctx context.Context, st Step) (string, error) {
	switch strings.ToLower(st.Op) {
	case "open":
		if _, dup := r.streams[st.Stream]; dup || st.Stream == "" {
			return st.Stream, badStep("open: stream name %q missing or in use", st.Stream)
		}
		ids := make([]device.ID, len(st.Devices))
		for i, d := range st.Devices {
			ids[i] = device.ID(d)
		}
		s, err := stream.Open(ctx, r.rm, arbiter.Kind(st.Kind), ids, stream.Options{Volume: st.Volume, Input: st.Input})
		if err != nil {
			return st.Stream, err
		}
		r.streams[st.Stream] = s
		r.order = append(r.order, st.Stream)
		return st.Stream, nil

	case "start", "stop", "close", "switch", "mute", "pause", "volume", "buffering", "buffering_done":
		s, err := r.lookup(st)
		if err != nil {
			return st.Stream, err
		}
		return st.Stream, r.streamStep(ctx, s, st)

	case "suspend":
		return st.Device, r.rm.SuspendAccessory(ctx, device.ID(st.Device))
	case "resume":
		return st.Device, r.rm.ResumeAccessory(ctx, device.ID(st.Device))
	case "ready":
		f, err := r.fake(st.Device)
		if err != nil {
			return st.Device, err
		}
		f.SetReady(enabled(st))
		return st.Device, nil
	case "offline":
		r.rm.SetHardwareOnline(ctx, false)
		return "", nil
	case "online":
		r.rm.SetHardwareOnline(ctx, true)
		return "", nil
	case "power":
		r.rm.RequestPowerMode(ctx, st.LowPower)
		return "", nil
	case "charging":
		r.rm.SetCharging(ctx, enabled(st))
		return "", nil
	}
	return "", badStep("unknown op %q", st.Op)
}

func (r *Runner) streamStep(ctx context.Context, s *stream.Stream, st Step) error {
	switch strings.ToLower(st.Op) {
	case "start":
		return s.Start(ctx)
	case "stop":
		return s.Stop(ctx)
	case "close":
		return s.Close(ctx)
	case "switch":
		ids := make([]device.ID, len(st.Devices))
		for i, d := range st.Devices {
			ids[i] = device.ID(d)
		}
		return s.SwitchDevice(ctx, ids...)
	case "mute":
		return s.Mute(enabled(st))
	case "pause":
		if enabled(st) {
			return s.Pause()
		}
		return s.Resume()
	case "volume":
		if st.Volume == nil {
			return badStep("volume: no volume given for %q", st.Stream)
		}
		return s.SetVolume(*st.Volume)
	case "buffering":
		return s.StartBuffering()
	default: // buffering_done
		return s.BufferingDone(ctx)
	}
}

// Close closes every open stream and releases the manager.
func (r *Runner) Close() error {
	var errs []error
	for _, name := range r.order {
		if err := r.streams[name].Close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.rm.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func idStrings(ids []device.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
