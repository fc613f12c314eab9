package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() FormatterOptions {
	opts := DefaultFormatterOptions()
	opts.Color = false
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func testEndpoints() []model.EndpointSnapshot {
	return []model.EndpointSnapshot{
		{
			Role:                  model.RolePlayback,
			ID:                    "ep-headset",
			State:                 model.StateActive,
			FormFactor:            model.FormFactorHeadset,
			DeviceDescription:     "Arctis 7",
			HostDeviceDescription: "SteelSeries Arctis 7",
		},
		{
			Role:              model.RolePlayback,
			ID:                "ep-speakers",
			State:             model.StateUnplugged,
			FormFactor:        model.FormFactorSpeakers,
			DeviceDescription: "Built-in Speakers",
		},
	}
}

func testDescriptor(t *testing.T, e model.EndpointSnapshot) model.Descriptor {
	t.Helper()
	d, err := model.NewDescriptor(e, model.MethodLoose)
	require.NoError(t, err)
	return *d
}

func testPass() assign.PassResult {
	return assign.PassResult{
		StartedAt: fixedNow,
		Duration:  3 * time.Millisecond,
		Slots: []assign.SlotResult{
			{Slot: model.Slot{Role: model.RolePlayback}, Outcome: assign.OutcomeChanged, DescriptorName: "Arctis 7", EndpointID: "ep-headset", Previous: "ep-speakers"},
			{Slot: model.Slot{Role: model.RoleCapture}, Outcome: assign.OutcomeFailed, Err: errors.New("device busy")},
			{Slot: model.Slot{Role: model.RolePlayback, Comms: true}, Outcome: assign.OutcomeUnsupported},
		},
	}
}

func testRecords() []store.PassRecord {
	rec := store.NewPassRecord(fixedNow.Add(-5*time.Minute), 2*time.Millisecond, []store.SlotRecord{
		{Slot: "playback", Outcome: "changed", EndpointID: "ep-headset", DescriptorName: "Arctis 7"},
		{Slot: "capture", Outcome: "unchanged"},
	})
	return []store.PassRecord{rec}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"plain", "JSON", " yaml ", "dmenu", "ids"} {
		_, err := ParseFormat(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestNewFormatter(t *testing.T) {
	opts := testOptions()
	assert.IsType(t, &PlainFormatter{}, NewFormatter(FormatPlain, opts))
	assert.IsType(t, &JSONFormatter{}, NewFormatter(FormatJSON, opts))
	assert.IsType(t, &YAMLFormatter{}, NewFormatter(FormatYAML, opts))
	assert.IsType(t, &DmenuFormatter{}, NewFormatter(FormatDmenu, opts))
	assert.IsType(t, &IDsFormatter{}, NewFormatter(FormatIDs, opts))
	assert.IsType(t, &PlainFormatter{}, NewFormatter("unknown", opts))
}

func TestPlainFormatter_Endpoints(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Endpoints(&buf, testEndpoints()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Arctis 7")
	assert.Contains(t, lines[0], "active")
	assert.Contains(t, lines[0], "[headset]")
	assert.Contains(t, lines[1], "unplugged")
	assert.NotContains(t, buf.String(), "ep-headset")
}

func TestPlainFormatter_EndpointsVerbose(t *testing.T) {
	opts := testOptions()
	opts.Verbose = true
	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(opts).Endpoints(&buf, testEndpoints()))

	assert.Contains(t, buf.String(), "id: ep-headset")
	assert.Contains(t, buf.String(), "host_description: SteelSeries Arctis 7")
}

func TestPlainFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	f := NewPlainFormatter(testOptions())
	require.NoError(t, f.Endpoints(&buf, nil))
	require.NoError(t, f.History(&buf, nil))
	assert.Contains(t, buf.String(), "no endpoints")
	assert.Contains(t, buf.String(), "no passes recorded")
}

func TestPlainFormatter_Lists(t *testing.T) {
	d := testDescriptor(t, testEndpoints()[0])
	off := testDescriptor(t, testEndpoints()[1])
	off.Enabled = false
	lists := []SlotList{
		{Slot: model.Slot{Role: model.RolePlayback}, Descriptors: []model.Descriptor{d, off}},
		{Slot: model.Slot{Role: model.RoleCapture}},
		{Slot: model.Slot{Role: model.RolePlayback, Comms: true}, Shared: "playback"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Lists(&buf, lists))
	out := buf.String()

	assert.Contains(t, out, " 1. Arctis 7 loose")
	assert.Contains(t, out, " 2. Built-in Speakers (disabled)")
	assert.Contains(t, out, "(empty)")
	assert.Contains(t, out, "comms-playback (same as playback)")
}

func TestPlainFormatter_Match(t *testing.T) {
	endpoints := testEndpoints()
	d := testDescriptor(t, endpoints[0])
	report := core.Diagnose(&d, endpoints)

	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Match(&buf, report))
	out := buf.String()

	assert.Contains(t, out, "match: Arctis 7 (ep-headset)")
	assert.Contains(t, out, "✓ Arctis 7")
	assert.Contains(t, out, "- Built-in Speakers  unplugged")
}

func TestPlainFormatter_Pass(t *testing.T) {
	result := testPass()
	result.DryRun = true
	result.RefreshWanted = true

	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Pass(&buf, result))
	out := buf.String()

	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Arctis 7 (was ep-speakers)")
	assert.Contains(t, out, "device busy")
	assert.Contains(t, out, "unsupported")
	assert.Contains(t, out, "refresh requested")
}

func TestPlainFormatter_Status(t *testing.T) {
	rec := testRecords()[0]
	status := &store.Status{
		PID:           4242,
		Backend:       "pulse",
		StartedAt:     fixedNow.Add(-time.Hour).Unix(),
		LastRefreshAt: fixedNow.Add(-2 * time.Minute).Unix(),
		EndpointCount: 5,
		LastPass:      &rec,
		Scheduler:     store.SchedulerCounters{Executed: 1234, Coalesced: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Status(&buf, status))
	out := buf.String()

	assert.Contains(t, out, "pid 4242, pulse backend")
	assert.Contains(t, out, "1 hour ago")
	assert.Contains(t, out, "2 minutes ago (5 endpoints)")
	assert.Contains(t, out, "1 changed, 0 failed")
	assert.Contains(t, out, "1,234 executed")
}

func TestPlainFormatter_StatusNotRunning(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).Status(&buf, store.DefaultStatus()))
	assert.Contains(t, buf.String(), "not running")
}

func TestPlainFormatter_History(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPlainFormatter(testOptions()).History(&buf, testRecords()))
	out := buf.String()

	assert.Contains(t, out, "5 minutes ago  1 changed, 0 failed, 2ms")
	assert.Contains(t, out, "Arctis 7")
	assert.NotContains(t, out, "capture")
}

func TestJSONFormatter_Pass(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter().Pass(&buf, testPass()))

	var parsed struct {
		DurationMS int64 `json:"duration_ms"`
		Slots      []struct {
			Slot    string `json:"slot"`
			Outcome string `json:"outcome"`
			Error   string `json:"error"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))

	assert.Equal(t, int64(3), parsed.DurationMS)
	require.Len(t, parsed.Slots, 3)
	assert.Equal(t, "playback", parsed.Slots[0].Slot)
	assert.Equal(t, "changed", parsed.Slots[0].Outcome)
	assert.Equal(t, "device busy", parsed.Slots[1].Error)
	assert.Equal(t, "comms-playback", parsed.Slots[2].Slot)
}

func TestJSONFormatter_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter()
	require.NoError(t, f.Endpoints(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Lists(&buf, []SlotList{{Slot: model.Slot{Role: model.RoleCapture}}}))
	assert.Contains(t, buf.String(), `"descriptors": []`)
}

func TestJSONFormatter_Match(t *testing.T) {
	endpoints := testEndpoints()
	d := testDescriptor(t, endpoints[0])

	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter().Match(&buf, core.Diagnose(&d, endpoints)))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, []any{"form_factor", "host_description"}, parsed["flags"])
	assert.Contains(t, parsed, "match")
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewYAMLFormatter()
	require.NoError(t, f.Endpoints(&buf, testEndpoints()))

	var endpoints []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &endpoints))
	require.Len(t, endpoints, 2)
	assert.Equal(t, "playback", endpoints[0]["role"])
	assert.Equal(t, "unplugged", endpoints[1]["state"])

	buf.Reset()
	require.NoError(t, f.History(&buf, testRecords()))
	assert.Contains(t, buf.String(), "descriptor_name: Arctis 7")
}

func TestDmenuFormatter_Endpoints(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewDmenuFormatter(testOptions()).Endpoints(&buf, testEndpoints()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "playback | active | Arctis 7 | headset | ep-headset", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], " | ep-speakers"))
}

func TestDmenuFormatter_Template(t *testing.T) {
	opts := testOptions()
	opts.Template = `{{stateIcon .Endpoint.State}} {{truncate .Name 6}}`
	var buf bytes.Buffer
	require.NoError(t, NewDmenuFormatter(opts).Endpoints(&buf, testEndpoints()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "● Arc...", lines[0])
	assert.Equal(t, "○ Bui...", lines[1])
}

func TestDmenuFormatter_ListsSkipsShared(t *testing.T) {
	d := testDescriptor(t, testEndpoints()[0])
	lists := []SlotList{
		{Slot: model.Slot{Role: model.RolePlayback}, Descriptors: []model.Descriptor{d}},
		{Slot: model.Slot{Role: model.RolePlayback, Comms: true}, Descriptors: []model.Descriptor{d}, Shared: "playback"},
	}

	opts := testOptions()
	opts.Separator = "\t"
	var buf bytes.Buffer
	require.NoError(t, NewDmenuFormatter(opts).Lists(&buf, lists))

	assert.Equal(t, "playback\t1\tArctis 7\t"+d.ID+"\n", buf.String())
}

func TestIDsFormatter(t *testing.T) {
	f := NewIDsFormatter()

	var buf bytes.Buffer
	require.NoError(t, f.Endpoints(&buf, testEndpoints()))
	assert.Equal(t, "ep-headset\nep-speakers\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Pass(&buf, testPass()))
	assert.Equal(t, "ep-headset\n", buf.String())

	records := testRecords()
	buf.Reset()
	require.NoError(t, f.History(&buf, records))
	assert.Equal(t, records[0].ID+"\n", buf.String())

	assert.ErrorIs(t, f.Status(&buf, store.DefaultStatus()), ErrUnsupported)
}

func TestIDsFormatter_MatchNone(t *testing.T) {
	endpoints := testEndpoints()
	d := testDescriptor(t, endpoints[1])

	var buf bytes.Buffer
	require.NoError(t, NewIDsFormatter().Match(&buf, core.Diagnose(&d, endpoints)))
	assert.Empty(t, buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 0))
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "he...", truncate("hello world", 5))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "ü...", truncate("üüüüüü", 4))
}
