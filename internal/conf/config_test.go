package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audiorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "debug: true\n")

	settings, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.InDelta(t, 2.0, settings.Arbiter.SuspendDrainFactor, 0.0001)
	assert.Equal(t, 500*time.Millisecond, settings.Arbiter.SuspendDrainMax)
	assert.Equal(t, DefaultReferenceRate, settings.Platform.ReferenceRate)
	assert.NotEmpty(t, settings.Platform.Devices, "built-in platform is used when no devices are configured")
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadFileScalarOverridesOnBuiltinPlatform(t *testing.T) {
	path := writeConfig(t, `
platform:
  lpi_supported: false
  default_output: handset
arbiter:
  suspend_drain_factor: 3.5
  suspend_drain_max: 1s
`)

	settings, err := LoadFile(path)
	require.NoError(t, err)

	assert.False(t, settings.Platform.LPISupported)
	assert.Equal(t, DeviceHandset, settings.Platform.DefaultOutput)
	assert.InDelta(t, 3.5, settings.Arbiter.SuspendDrainFactor, 0.0001)
	assert.Equal(t, time.Second, settings.Arbiter.SuspendDrainMax)
}

func TestLoadFileCustomPlatform(t *testing.T) {
	path := writeConfig(t, `
platform:
  default_output: spk
  default_input: mic
  devices:
    - id: spk
      direction: output
      backend: codec-rx
      sample_rate: 48000
      bit_width: 16
      channels: 2
    - id: mic
      direction: input
      backend: codec-tx
      sample_rate: 48000
      bit_width: 16
      channels: 1
      ec_refs: [spk]
  usecases:
    - kind: playback_low_latency
      device: spk
      priority: 10
      sample_rate: 44100
`)

	settings, err := LoadFile(path)
	require.NoError(t, err)

	require.Len(t, settings.Platform.Devices, 2)
	mic, ok := settings.Platform.Device("mic")
	require.True(t, ok)
	assert.Equal(t, []string{"spk"}, mic.ECRefs)
	require.Len(t, settings.Platform.Usecases, 1)
	assert.Equal(t, 44100, settings.Platform.Usecases[0].SampleRate)
}

func TestLoadFileRejectsInvalidPlatform(t *testing.T) {
	path := writeConfig(t, `
platform:
  default_output: spk
  default_input: spk
  devices:
    - id: spk
      direction: output
      backend: codec-rx
      sample_rate: 48000
      bit_width: 16
      channels: 2
  usecases:
    - kind: voip_rx
      device: nowhere
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown device "nowhere"`)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("AUDIORM_LPI", "false")
	t.Setenv("AUDIORM_LOG_LEVEL", "debug")

	settings, err := LoadFile(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.False(t, settings.Platform.LPISupported)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
}

func TestEnvironmentValidation(t *testing.T) {
	t.Setenv("AUDIORM_TELEMETRY", "maybe")

	_, err := LoadFile(writeConfig(t, "{}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIORM_TELEMETRY")
}
