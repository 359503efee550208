package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerWritesFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("arbiter")

	log.Info("switch complete", String("device", "speaker"), Int("streams", 2), Bool("partial", false))

	out := buf.String()
	assert.Contains(t, out, "switch complete")
	assert.Contains(t, out, "module=arbiter")
	assert.Contains(t, out, "device=speaker")
	assert.Contains(t, out, "streams=2")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithAccumulatesAndDoesNotLeak(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	child := base.With(String("stream", "s1"))

	base.Info("base")
	child.Info("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "stream=s1")
	assert.Contains(t, lines[1], "stream=s1")
}

func TestWithContextAddsTransaction(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	ctx := WithTransaction(context.Background(), 42)
	log.WithContext(ctx).Info("switched")
	log.WithContext(context.Background()).Info("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "txn=42")
	assert.NotContains(t, lines[1], "txn=")

	txn, ok := TransactionFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), txn)
	_, ok = TransactionFrom(context.Background())
	assert.False(t, ok)
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("very verbose")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audiorm.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug", MaxSize: 1},
	})
	require.NoError(t, err)

	cl.Module("device").Debug("opened", String("device", "headset"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "opened", record["msg"])
	assert.Equal(t, "device", record["module"])
	assert.Equal(t, "headset", record["device"])
}

func TestModuleLevelOverride(t *testing.T) {
	t.Parallel()

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		ModuleLevels: map[string]string{"arbiter": "debug"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	arbiter, ok := cl.Module("arbiter").(*moduleLogger)
	require.True(t, ok)
	events, ok := cl.Module("events").(*moduleLogger)
	require.True(t, ok)

	assert.Equal(t, parseLogLevel("debug"), arbiter.level)
	assert.Equal(t, parseLogLevel("info"), events.level)
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
