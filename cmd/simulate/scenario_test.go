package simulate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiorm/internal/conf"
)

const handoff = `
name: a2dp handoff
steps:
  - {op: open, stream: music, kind: playback_deep_buffer, devices: [bluetooth_a2dp], volume: 0.5}
  - {op: start, stream: music}
  - {op: suspend, device: bluetooth_a2dp}
  - {op: ready, device: bluetooth_a2dp, enable: false}
  - {op: resume, device: bluetooth_a2dp, expect: not-ready}
  - {op: ready, device: bluetooth_a2dp}
  - {op: resume, device: bluetooth_a2dp}
  - {op: open, stream: bogus, kind: nonsense, devices: [speaker], expect: validation}
  - {op: offline}
  - {op: switch, stream: music, devices: [wired_headset], expect: transient-unavailable}
  - {op: online}
`

func testSettings() *conf.Settings {
	return &conf.Settings{Platform: conf.DefaultPlatform()}
}

func runScenario(t *testing.T, doc string) *Report {
	t.Helper()
	sc, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	r, err := NewRunner(testSettings(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	rep, err := r.Run(t.Context(), sc)
	require.NoError(t, err)
	return rep
}

func TestHandoffScenario(t *testing.T) {
	t.Parallel()
	rep := runScenario(t, handoff)

	require.Len(t, rep.Steps, 11)
	for _, st := range rep.Steps {
		assert.True(t, st.Matched, "step %d %s: %s", st.Index, st.Op, st.Error)
	}
	assert.False(t, rep.Failed())

	require.Len(t, rep.Routes, 1)
	music := rep.Routes[0]
	assert.Equal(t, "music", music.Stream)
	assert.Equal(t, []string{conf.DeviceWiredHeadset}, music.Devices, "orphan retried when hardware came back")
	assert.True(t, music.Active)
	assert.False(t, music.Muted)
	assert.Zero(t, rep.Orphans)
}

func TestUnmetExpectationFails(t *testing.T) {
	t.Parallel()
	rep := runScenario(t, `
name: wrong expectation
steps:
  - {op: open, stream: s, kind: playback_low_latency, devices: [speaker], expect: not-found}
`)
	assert.True(t, rep.Failed())
	assert.Empty(t, rep.Steps[0].Category)
}

func TestMalformedSteps(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("name: x\nsteps: []\n"))
	require.Error(t, err, "no steps")

	_, err = Decode(strings.NewReader("name: x\nsteps:\n  - {op: start, colour: red}\n"))
	require.Error(t, err, "unknown field")

	sc, err := Decode(strings.NewReader("name: x\nsteps:\n  - {op: start, stream: ghost}\n"))
	require.NoError(t, err)
	r, err := NewRunner(testSettings(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	_, err = r.Run(t.Context(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestExecuteWritesReport(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	require.NoError(t, Execute(t.Context(), testSettings(), strings.NewReader(handoff), &out, false))
	assert.Contains(t, out.String(), "scenario: a2dp handoff")
	assert.Contains(t, out.String(), "stream: music")

	out.Reset()
	err := Execute(t.Context(), testSettings(), strings.NewReader(`
name: bad
steps:
  - {op: suspend, device: speaker}
`), &out, false)
	require.Error(t, err, "suspend of a built-in device is a validation error, not success")
}
