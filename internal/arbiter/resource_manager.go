package arbiter

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// GetLogger returns the arbiter module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("arbiter")
}

// MetricsRecorder receives arbiter telemetry. metrics.ArbiterMetrics
// satisfies it.
type MetricsRecorder interface {
	RecordTransaction(result string, streams int, seconds float64)
	RecordConnectError(device, category string)
	SetECRefActive(renderDevice, captureDevice string, active bool)
	RecordECRefError(operation, category string)
	RecordCaptureProfileSwitch(profile string)
	RecordPowerModeRequest(lowPower bool, outcome string)
	RecordAccessoryEvent(device, event string)
	SetAccessoryLink(device, parameter string, value float64)
	SetAssociations(n int)
	SetOrphanStreams(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransaction(string, int, float64)   {}
func (nopMetrics) RecordConnectError(string, string)        {}
func (nopMetrics) SetECRefActive(string, string, bool)      {}
func (nopMetrics) RecordECRefError(string, string)          {}
func (nopMetrics) RecordCaptureProfileSwitch(string)        {}
func (nopMetrics) RecordPowerModeRequest(bool, string)      {}
func (nopMetrics) RecordAccessoryEvent(string, string)      {}
func (nopMetrics) SetAccessoryLink(string, string, float64) {}
func (nopMetrics) SetAssociations(int)                      {}
func (nopMetrics) SetOrphanStreams(int)                     {}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a ResourceManager.
type Option func(*ResourceManager)

// WithDriverFactory sets how device drivers are created.
func WithDriverFactory(f device.Factory) Option {
	return func(rm *ResourceManager) { rm.driverFactory = f }
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m MetricsRecorder) Option {
	return func(rm *ResourceManager) {
		if m != nil {
			rm.metrics = m
		}
	}
}

// WithSleeper replaces the suspend drain wait.
func WithSleeper(s Sleeper) Option {
	return func(rm *ResourceManager) { rm.sleep = s }
}

// WithPublisher sets where devices publish asynchronous notifications.
func WithPublisher(p device.Publisher) Option {
	return func(rm *ResourceManager) { rm.publisher = p }
}

// WithKind adds or replaces a stream kind row.
func WithKind(k Kind, traits KindTraits) Option {
	return func(rm *ResourceManager) { rm.kinds[k] = traits }
}

// Stats is a point-in-time summary for diagnostics and tests.
type Stats struct {
	Transactions      uint64
	Disconnects       uint64
	Connects          uint64
	ProfileSwitches   uint64
	PowerModeSwitches uint64
	Associations      int
	Orphans           int
	LowPower          bool
	ActiveProfile     string
}

type usecaseKey struct {
	kind   Kind
	device device.ID
}

type ecPolicyKey struct {
	capture Kind
	render  Kind
}

// ResourceManager owns all routing state for one process.
type ResourceManager struct {
	logger        logger.Logger
	metrics       MetricsRecorder
	publisher     device.Publisher
	hw            *device.Hardware
	driverFactory device.Factory
	sleep         Sleeper

	// immutable after New
	platform        conf.PlatformSettings
	arbiter         conf.ArbiterSettings
	kinds           map[Kind]KindTraits
	infos           map[device.ID]device.Info
	backendDevices  map[string][]device.ID
	usecases        map[usecaseKey]conf.UsecaseSettings
	kindPriority    map[Kind]int
	ecPolicy        map[ecPolicyKey]bool
	groups          []conf.GroupSettings
	captureProfiles []*CaptureProfile

	switchMu      sync.Mutex
	inTransaction atomic.Bool

	activeMu      sync.Mutex
	streams       []Stream
	streamSeq     map[Stream]uint64
	nextSeq       uint64
	triggers      map[TriggerClass][]Stream
	activeProfile *CaptureProfile
	lowPower      bool
	charging      bool
	latch         powerLatch
	nlpiUsers     int

	ecMu sync.Mutex
	ec   map[ecKey][]ecEntry

	mu      sync.Mutex
	devices map[device.ID]*device.Device
	table   *associationTable

	recMu   sync.Mutex
	records map[Stream]*suspendRecord
	orphans map[Stream][]device.ID

	transactions    atomic.Uint64
	disconnects     atomic.Uint64
	connects        atomic.Uint64
	profileSwitches atomic.Uint64
	powerSwitches   atomic.Uint64
}

// New builds a manager from validated settings.
func New(settings *conf.Settings, opts ...Option) (*ResourceManager, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(settings.Platform.Devices) == 0 {
		return nil, errors.Newf("platform has no devices").
			Category(errors.CategoryConfiguration).
			Build()
	}

	rm := &ResourceManager{
		logger:         GetLogger(),
		metrics:        nopMetrics{},
		hw:             &device.Hardware{},
		driverFactory:  device.NopFactory,
		sleep:          sleepContext,
		platform:       settings.Platform,
		arbiter:        settings.Arbiter,
		kinds:          defaultKinds(),
		infos:          make(map[device.ID]device.Info, len(settings.Platform.Devices)),
		backendDevices: make(map[string][]device.ID),
		usecases:       make(map[usecaseKey]conf.UsecaseSettings),
		kindPriority:   make(map[Kind]int),
		ecPolicy:       make(map[ecPolicyKey]bool),
		groups:         settings.Platform.Groups,
		streamSeq:      make(map[Stream]uint64),
		triggers:       make(map[TriggerClass][]Stream),
		ec:             make(map[ecKey][]ecEntry),
		devices:        make(map[device.ID]*device.Device),
		table:          newAssociationTable(),
		records:        make(map[Stream]*suspendRecord),
		orphans:        make(map[Stream][]device.ID),
	}
	for _, opt := range opts {
		opt(rm)
	}
	if rm.platform.ReferenceRate <= 0 {
		rm.platform.ReferenceRate = conf.DefaultReferenceRate
	}
	rm.lowPower = rm.platform.LPISupported

	for i := range settings.Platform.Devices {
		info := device.InfoFromSettings(&settings.Platform.Devices[i])
		rm.infos[info.ID] = info
		rm.backendDevices[info.Backend] = append(rm.backendDevices[info.Backend], info.ID)
	}
	for _, ids := range rm.backendDevices {
		slices.Sort(ids)
	}
	for _, u := range settings.Platform.Usecases {
		rm.usecases[usecaseKey{Kind(u.Kind), device.ID(u.Device)}] = u
		if u.Priority > rm.kindPriority[Kind(u.Kind)] {
			rm.kindPriority[Kind(u.Kind)] = u.Priority
		}
	}
	for _, p := range settings.Platform.ECPolicy {
		rm.ecPolicy[ecPolicyKey{Kind(p.Capture), Kind(p.Render)}] = p.Enabled
	}
	for i := range settings.Platform.CaptureProfiles {
		rm.captureProfiles = append(rm.captureProfiles, profileFromSettings(&settings.Platform.CaptureProfiles[i]))
	}

	rm.logger.Info("resource manager initialised",
		logger.Int("devices", len(rm.infos)),
		logger.Int("usecases", len(settings.Platform.Usecases)),
		logger.Int("capture_profiles", len(rm.captureProfiles)),
		logger.Bool("lpi_supported", rm.platform.LPISupported))
	return rm, nil
}

// Traits returns the table row of k.
func (rm *ResourceManager) Traits(k Kind) (KindTraits, bool) {
	t, ok := rm.kinds[k]
	return t, ok
}

func (rm *ResourceManager) traits(s Stream) KindTraits {
	return rm.kinds[s.Kind()]
}

// DeviceInfo returns the static description of id.
func (rm *ResourceManager) DeviceInfo(id device.ID) (device.Info, bool) {
	info, ok := rm.infos[id]
	return info, ok
}

// Hardware returns the shared subsystem availability.
func (rm *ResourceManager) Hardware() *device.Hardware {
	return rm.hw
}

// DefaultDevice returns the platform default for a direction.
func (rm *ResourceManager) DefaultDevice(dir device.Direction) device.ID {
	if dir == device.Input {
		return device.ID(rm.platform.DefaultInput)
	}
	return device.ID(rm.platform.DefaultOutput)
}

// AddStream records a newly opened stream.
func (rm *ResourceManager) AddStream(s Stream) error {
	traits, ok := rm.kinds[s.Kind()]
	if !ok {
		return errors.Newf("unknown stream kind %q", s.Kind()).
			Category(errors.CategoryValidation).
			Build()
	}
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	if _, exists := rm.streamSeq[s]; exists {
		return errors.Newf("stream %s already added", s.Handle()).
			Category(errors.CategoryState).
			Build()
	}
	rm.nextSeq++
	rm.streamSeq[s] = rm.nextSeq
	rm.streams = append(rm.streams, s)
	if traits.Trigger != TriggerNone {
		rm.triggers[traits.Trigger] = append(rm.triggers[traits.Trigger], s)
	}
	return nil
}

// RemoveStream forgets a closed stream, including any suspend history.
func (rm *ResourceManager) RemoveStream(s Stream) {
	rm.activeMu.Lock()
	rm.streams = slices.DeleteFunc(rm.streams, func(x Stream) bool { return x == s })
	delete(rm.streamSeq, s)
	if c := rm.traits(s).Trigger; c != TriggerNone {
		rm.triggers[c] = slices.DeleteFunc(rm.triggers[c], func(x Stream) bool { return x == s })
	}
	rm.activeMu.Unlock()

	rm.recMu.Lock()
	delete(rm.records, s)
	delete(rm.orphans, s)
	n := len(rm.orphans)
	rm.recMu.Unlock()
	rm.metrics.SetOrphanStreams(n)
}

func (rm *ResourceManager) isOpen(s Stream) bool {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	_, ok := rm.streamSeq[s]
	return ok
}

func (rm *ResourceManager) seq(s Stream) uint64 {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return rm.streamSeq[s]
}

func (rm *ResourceManager) openStreams() []Stream {
	rm.activeMu.Lock()
	defer rm.activeMu.Unlock()
	return slices.Clone(rm.streams)
}

// Stats returns counters and current mode.
func (rm *ResourceManager) Stats() Stats {
	rm.mu.Lock()
	assoc := rm.table.len()
	rm.mu.Unlock()
	rm.recMu.Lock()
	orphans := len(rm.orphans)
	rm.recMu.Unlock()
	rm.activeMu.Lock()
	lowPower := rm.lowPower
	profile := ""
	if rm.activeProfile != nil {
		profile = rm.activeProfile.Name
	}
	rm.activeMu.Unlock()
	return Stats{
		Transactions:      rm.transactions.Load(),
		Disconnects:       rm.disconnects.Load(),
		Connects:          rm.connects.Load(),
		ProfileSwitches:   rm.profileSwitches.Load(),
		PowerModeSwitches: rm.powerSwitches.Load(),
		Associations:      assoc,
		Orphans:           orphans,
		LowPower:          lowPower,
		ActiveProfile:     profile,
	}
}

// InTransaction reports whether a device switch is executing.
func (rm *ResourceManager) InTransaction() bool {
	return rm.inTransaction.Load()
}

// Releaser is implemented by drivers holding external resources.
type Releaser interface {
	Release() error
}

// Close releases driver resources at process teardown.
func (rm *ResourceManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var errs []error
	for id, d := range rm.devices {
		if r, ok := d.Driver().(Releaser); ok {
			if err := r.Release(); err != nil {
				errs = append(errs, errors.New(err).
					Category(errors.CategoryPlugin).
					Context("device", string(id)).
					Build())
			}
		}
	}
	return errors.Join(errs...)
}
