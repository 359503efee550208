// conf/config.go settings for the audio resource manager
package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// Settings is the root of the configuration tree.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Arbiter   ArbiterSettings      `yaml:"arbiter" mapstructure:"arbiter"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Accessory AccessorySettings    `yaml:"accessory" mapstructure:"accessory"`
	Platform  PlatformSettings     `yaml:"platform" mapstructure:"platform"`
}

// ArbiterSettings tunes the resource manager.
type ArbiterSettings struct {
	SuspendDrainFactor float64       `yaml:"suspend_drain_factor" mapstructure:"suspend_drain_factor"` // multiple of pipeline latency to wait before rerouting
	SuspendDrainMin    time.Duration `yaml:"suspend_drain_min" mapstructure:"suspend_drain_min"`
	SuspendDrainMax    time.Duration `yaml:"suspend_drain_max" mapstructure:"suspend_drain_max"`
	EventQueueSize     int           `yaml:"event_queue_size" mapstructure:"event_queue_size"`
}

// TelemetrySettings controls the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // host:port
}

// AccessorySettings lists the codec plugins to load at start.
type AccessorySettings struct {
	Plugins []PluginSettings `yaml:"plugins" mapstructure:"plugins"`
}

// PluginSettings binds a shared library to an accessory device.
type PluginSettings struct {
	Device string `yaml:"device" mapstructure:"device"`
	Path   string `yaml:"path" mapstructure:"path"`
	Codec  string `yaml:"codec" mapstructure:"codec"`
}

// PlatformSettings holds the static routing tables.
type PlatformSettings struct {
	ReferenceRate    int                      `yaml:"reference_rate" mapstructure:"reference_rate"`
	LPISupported     bool                     `yaml:"lpi_supported" mapstructure:"lpi_supported"`
	MaxLPISessions   int                      `yaml:"max_lpi_sessions" mapstructure:"max_lpi_sessions"` // concurrent trigger streams in LPI, 0 for no limit
	DefaultOutput    string                   `yaml:"default_output" mapstructure:"default_output"`
	DefaultInput     string                   `yaml:"default_input" mapstructure:"default_input"`
	FallbackPriority []string                 `yaml:"fallback_priority" mapstructure:"fallback_priority"`
	Devices          []DeviceSettings         `yaml:"devices" mapstructure:"devices"`
	Usecases         []UsecaseSettings        `yaml:"usecases" mapstructure:"usecases"`
	ECPolicy         []ECPolicySettings       `yaml:"ec_policy" mapstructure:"ec_policy"`
	Groups           []GroupSettings          `yaml:"groups" mapstructure:"groups"`
	CaptureProfiles  []CaptureProfileSettings `yaml:"capture_profiles" mapstructure:"capture_profiles"`
}

// DeviceSettings describes one routable device.
type DeviceSettings struct {
	ID         string   `yaml:"id" mapstructure:"id"`
	Backend    string   `yaml:"backend" mapstructure:"backend"`
	Direction  string   `yaml:"direction" mapstructure:"direction"` // output or input
	SndName    string   `yaml:"snd_name" mapstructure:"snd_name"`
	SampleRate int      `yaml:"sample_rate" mapstructure:"sample_rate"`
	BitWidth   int      `yaml:"bit_width" mapstructure:"bit_width"`
	Channels   int      `yaml:"channels" mapstructure:"channels"`
	Format     string   `yaml:"format" mapstructure:"format"`
	Accessory  bool     `yaml:"accessory" mapstructure:"accessory"`
	LatencyMs  int      `yaml:"latency_ms" mapstructure:"latency_ms"`
	ECRefs     []string `yaml:"ec_refs" mapstructure:"ec_refs"` // render devices that can feed echo reference to this capture device
}

// UsecaseSettings overrides device attributes for one stream kind. Zero
// values mean "not overridden".
type UsecaseSettings struct {
	Kind       string `yaml:"kind" mapstructure:"kind"`
	Device     string `yaml:"device" mapstructure:"device"`
	Priority   int    `yaml:"priority" mapstructure:"priority"`
	SampleRate int    `yaml:"sample_rate" mapstructure:"sample_rate"`
	BitWidth   int    `yaml:"bit_width" mapstructure:"bit_width"`
	Channels   int    `yaml:"channels" mapstructure:"channels"`
	SndName    string `yaml:"snd_name" mapstructure:"snd_name"`
}

// ECPolicySettings allows or denies echo reference for a stream kind pair.
type ECPolicySettings struct {
	Capture string `yaml:"capture" mapstructure:"capture"`
	Render  string `yaml:"render" mapstructure:"render"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// GroupSettings is a virtual-port configuration applied when all listed
// devices are active together.
type GroupSettings struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Devices    []string `yaml:"devices" mapstructure:"devices"`
	SampleRate int      `yaml:"sample_rate" mapstructure:"sample_rate"`
	BitWidth   int      `yaml:"bit_width" mapstructure:"bit_width"`
	Channels   int      `yaml:"channels" mapstructure:"channels"`
	SndName    string   `yaml:"snd_name" mapstructure:"snd_name"`
}

// CaptureProfileSettings is a microphone configuration for trigger
// detection, selected by operating mode and input mode.
type CaptureProfileSettings struct {
	Name       string `yaml:"name" mapstructure:"name"`
	Device     string `yaml:"device" mapstructure:"device"`
	Mode       string `yaml:"mode" mapstructure:"mode"`   // low_power, high_perf, high_perf_and_charging
	Input      string `yaml:"input" mapstructure:"input"` // handset, headset
	SampleRate int    `yaml:"sample_rate" mapstructure:"sample_rate"`
	BitWidth   int    `yaml:"bit_width" mapstructure:"bit_width"`
	Channels   int    `yaml:"channels" mapstructure:"channels"`
	SndName    string `yaml:"snd_name" mapstructure:"snd_name"`
	Priority   int    `yaml:"priority" mapstructure:"priority"`
	ECRequired bool   `yaml:"ec_required" mapstructure:"ec_required"`
}

const configName = "audiorm"

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables using the
// global viper instance, which carries any bound command line flags.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	settingsInstance = settings
	return settings, nil
}

// LoadFile reads settings from an explicit file, ignoring search paths.
func LoadFile(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Settings, error) {
	if err := initViper(v); err != nil {
		return nil, errors.Newf("error initializing viper: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Newf("error unmarshaling config into struct: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if len(settings.Platform.Devices) == 0 {
		settings.Platform = mergePlatformDefaults(settings.Platform)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.Newf("error validating settings: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return settings, nil
}

// initViper sets defaults and reads the configuration file if one exists.
// A missing file is not an error; the built-in platform tables apply.
func initViper(v *viper.Viper) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if v.ConfigFileUsed() == "" {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		for _, path := range defaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Newf("fatal error reading config file: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// defaultConfigPaths returns the directories searched for audiorm.yaml.
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", configName))
	}
	return append(paths, filepath.Join("/etc", configName))
}

// GetSettings returns the last loaded settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// mergePlatformDefaults fills an empty device table with the built-in
// platform while keeping scalar overrides from the file.
func mergePlatformDefaults(p PlatformSettings) PlatformSettings {
	def := DefaultPlatform()
	def.LPISupported = p.LPISupported
	if p.MaxLPISessions > 0 {
		def.MaxLPISessions = p.MaxLPISessions
	}
	if p.ReferenceRate > 0 {
		def.ReferenceRate = p.ReferenceRate
	}
	if p.DefaultOutput != "" {
		def.DefaultOutput = p.DefaultOutput
	}
	if p.DefaultInput != "" {
		def.DefaultInput = p.DefaultInput
	}
	if len(p.FallbackPriority) > 0 {
		def.FallbackPriority = p.FallbackPriority
	}
	return def
}
