package validate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiorm/internal/conf"
)

func TestPrintPlatform(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Platform: conf.DefaultPlatform()}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, settings, false))

	var doc struct {
		Platform conf.PlatformSettings `yaml:"platform"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Platform.Devices, len(settings.Platform.Devices))
	assert.Equal(t, conf.DeviceSpeaker, doc.Platform.DefaultOutput)
	assert.Contains(t, buf.String(), "capture profiles: ok")
	assert.NotContains(t, buf.String(), "telemetry:")
}

func TestPrintAll(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Platform: conf.DefaultPlatform()}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, settings, true))
	assert.Contains(t, buf.String(), "telemetry:")
	assert.Contains(t, buf.String(), "arbiter:")
}

func TestPrintRejectsInvalid(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Platform: conf.DefaultPlatform()}
	settings.Platform.MaxLPISessions = -1

	var buf bytes.Buffer
	err := Print(&buf, settings, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_lpi_sessions")
	assert.Empty(t, buf.String())
}
