package reporter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "line %q", sc.Text())
		events = append(events, ev)
	}
	return events
}

func TestJSONReporterEventSequence(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporterWithWriter(&buf)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	r.RunStarted(RunStartInfo{RunID: "abc", InputFile: "IMG_0001.MOV", Preset: "balanced"})
	r.StageComplete(StageOutcome{RunID: "abc", Stage: "encode", Status: "succeeded", Duration: 1500 * time.Millisecond})
	r.StageComplete(StageOutcome{RunID: "abc", Stage: "inject-metadata", Status: "failed", Error: "exit 2"})
	r.RunComplete(RunOutcome{RunID: "abc", Succeeded: false, FailedStage: "inject-metadata", Error: "exit 2", InputSize: 100})

	events := decodeEvents(t, &buf)
	require.Len(t, events, 4)

	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev["type"].(string)
		assert.EqualValues(t, 1700000000, ev["timestamp"])
	}
	assert.Equal(t, []string{"run_started", "stage_complete", "stage_complete", "run_complete"}, types)

	assert.InDelta(t, 1.5, events[1]["duration_seconds"], 0.001)
	assert.NotContains(t, events[1], "error")
	assert.Equal(t, "exit 2", events[2]["error"])
	assert.Equal(t, "inject-metadata", events[3]["failed_stage"])
	assert.Equal(t, false, events[3]["succeeded"])
}

func TestJSONReporterSuccessOmitsFailureFields(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporterWithWriter(&buf)
	r.RunComplete(RunOutcome{RunID: "abc", Succeeded: true, InputSize: 200, OutputSize: 50})

	events := decodeEvents(t, &buf)
	require.Len(t, events, 1)
	assert.NotContains(t, events[0], "failed_stage")
	assert.InDelta(t, 75.0, events[0]["size_reduction_percent"], 0.001)
}

func TestJSONReporterVerification(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporterWithWriter(&buf)
	r.VerificationComplete(VerificationSummary{
		RunID:      "abc",
		Status:     "critical",
		Compatible: false,
		Findings: []VerificationFinding{
			{Check: "codec_tag", Severity: "critical", Message: "hev1"},
		},
	})

	events := decodeEvents(t, &buf)
	require.Len(t, events, 1)
	findings := events[0]["findings"].([]any)
	require.Len(t, findings, 1)
	assert.Equal(t, "codec_tag", findings[0].(map[string]any)["check"])
}

func TestTerminalReporterOutput(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := NewTerminalReporterWithWriter(&buf, false)

	r.RunStarted(RunStartInfo{RunID: "abc", Index: 2, Total: 3, InputFile: "IMG_0001.MOV", Preset: "balanced"})
	r.StageComplete(StageOutcome{RunID: "abc", Stage: "encode", Status: "succeeded"})
	r.Verbose("hidden")
	r.RunComplete(RunOutcome{RunID: "abc", InputFile: "IMG_0001.MOV", Succeeded: true, InputSize: 1000, OutputSize: 500, OutputPath: "/out/IMG_0001.mp4"})

	out := buf.String()
	assert.Contains(t, out, "VIDEO 2/3")
	assert.Contains(t, out, "IMG_0001.MOV encode done")
	assert.Contains(t, out, "-50%")
	assert.Contains(t, out, "/out/IMG_0001.mp4")
	assert.NotContains(t, out, "hidden")
}

func TestTerminalReporterFailureAndSummary(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := NewTerminalReporterWithWriter(&buf, true)

	r.BatchStarted(BatchStartInfo{Album: "Trip", ToProcess: 2, ToSkip: 1, FileList: []string{"a.mov", "b.mov"}})
	r.RunComplete(RunOutcome{RunID: "x", InputFile: "a.mov", FailedStage: "mux", Error: "exit 1"})
	r.Verbose("shown")
	r.BatchComplete(BatchSummary{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1})

	out := buf.String()
	assert.Contains(t, out, "a.mov failed at mux: exit 1")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "1 succeeded, 1 failed, 1 skipped, 0 copied (of 3)")
	assert.Equal(t, 1, strings.Count(out, "BATCH SUMMARY"))
}

func TestTerminalReporterDryRun(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := NewTerminalReporterWithWriter(&buf, false)

	r.BatchStarted(BatchStartInfo{Album: "Trip", ToProcess: 2, Deferred: 3, DryRun: true, FileList: []string{"a.mov", "b.heic (copy)"}})

	out := buf.String()
	assert.Contains(t, out, "3 videos deferred by the transcode limit")
	assert.Contains(t, out, "Dry run: nothing will be written")
	assert.Contains(t, out, "2. b.heic (copy)")
}

type recordingReporter struct {
	NullReporter
	warnings []string
}

func (r *recordingReporter) Warning(message string) { r.warnings = append(r.warnings, message) }

func TestCompositeFansOut(t *testing.T) {
	a, b := &recordingReporter{}, &recordingReporter{}
	c := NewCompositeReporter(a, nil, b)
	c.Warning("disk low")

	assert.Equal(t, []string{"disk low"}, a.warnings)
	assert.Equal(t, []string{"disk low"}, b.warnings)
}
