package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/probe"
)

// fakeInspector answers from canned probe results keyed by path.
type fakeInspector struct {
	infos    map[string]*probe.MediaInfo
	boxes    probe.Boxes
	boxesErr error
}

func (f *fakeInspector) Probe(_ context.Context, path string) (*probe.MediaInfo, error) {
	info, ok := f.infos[path]
	if !ok {
		return nil, derrors.NewProbeError("no such file "+path, nil)
	}
	return info, nil
}

func (f *fakeInspector) ContainerBoxes(context.Context, string) (probe.Boxes, error) {
	return f.boxes, f.boxesErr
}

func iphoneTags() map[string]string {
	return map[string]string{
		probe.TagLocation:     "+37.3349-122.0090+020.000/",
		probe.TagMake:         "Apple",
		probe.TagModel:        "iPhone 15 Pro",
		probe.TagCreationTime: "2024-06-01T12:00:00.000000Z",
	}
}

func conformingOutput() *probe.MediaInfo {
	return &probe.MediaInfo{
		Path:     "/out/IMG_0420.mp4",
		Duration: 10.2,
		Video: &probe.VideoStream{
			CodecName:      "hevc",
			CodecTag:       "hvc1",
			ColorSpace:     "bt2020nc",
			ColorTransfer:  "arib-std-b67",
			ColorPrimaries: "bt2020",
		},
		Tags:        iphoneTags(),
		DolbyVision: &probe.DolbyVision{Profile: 8, Level: 7, RPUPresent: true, BLPresent: true, CompatID: 4},
	}
}

func source() *probe.MediaInfo {
	info := conformingOutput()
	info.Path = "/album/IMG_0420.MOV"
	info.Duration = 10.21
	return info
}

func newVerifier(f *fakeInspector) *Verifier {
	return New(f, logging.Discard())
}

func TestVerifyConformingDolbyVision(t *testing.T) {
	f := &fakeInspector{
		infos: map[string]*probe.MediaInfo{"/out.mp4": conformingOutput(), "/src.mov": source()},
		boxes: probe.Boxes{DVCC: true},
	}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{Reference: "/src.mov", ExpectDynamicHDR: true})
	require.NoError(t, err)

	assert.True(t, report.Compatible())
	assert.Equal(t, SeverityPass, report.Status)
	assert.Empty(t, report.Problems())
	assert.NoError(t, report.Err())

	var checks []string
	for _, f := range report.Findings {
		checks = append(checks, f.Check)
	}
	assert.Equal(t, []string{
		CheckCodec, CheckCodecTag, CheckDVSideData, CheckDVBoxes,
		CheckColorSpace, CheckTransfer, CheckPrimaries,
		CheckLocation, CheckCreationTime, CheckDevice, CheckDuration,
	}, checks)
	assert.Equal(t, 8, report.DolbyVision.Profile)
	assert.Equal(t, "dvcC", report.Boxes.Type())
}

func TestVerifyCodecTag(t *testing.T) {
	tests := []struct {
		tag  string
		want Severity
	}{
		{"hvc1", SeverityPass},
		{"dvh1", SeverityPass},
		{"hev1", SeverityCritical},
		{"avc1", SeverityCritical},
		{"", SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			out := conformingOutput()
			out.Video.CodecTag = tt.tag
			f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}, boxes: probe.Boxes{DVCC: true}}

			report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
			require.NoError(t, err)

			got, ok := report.Finding(CheckCodecTag)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Severity)
			assert.Equal(t, tt.want != SeverityCritical, report.Compatible())
		})
	}
}

func TestVerifyDynamicHDRLost(t *testing.T) {
	out := conformingOutput()
	out.DolbyVision = nil
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{ExpectDynamicHDR: true})
	require.NoError(t, err)

	side, _ := report.Finding(CheckDVSideData)
	boxes, _ := report.Finding(CheckDVBoxes)
	assert.Equal(t, SeverityCritical, side.Severity)
	assert.Equal(t, SeverityCritical, boxes.Severity)
	assert.Equal(t, 2, report.Count(SeverityCritical))
	assert.True(t, derrors.IsKind(report.Err(), derrors.KindConformance))
}

func TestVerifySideDataWithoutBoxes(t *testing.T) {
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": conformingOutput()}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
	require.NoError(t, err)

	boxes, _ := report.Finding(CheckDVBoxes)
	assert.Equal(t, SeverityCritical, boxes.Severity)
	assert.False(t, report.Compatible())
}

func TestVerifyPlainHDRWithoutExpectation(t *testing.T) {
	out := conformingOutput()
	out.DolbyVision = nil
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
	require.NoError(t, err)

	assert.Equal(t, SeverityInfo, report.Status)
	assert.True(t, report.Compatible())
}

func TestVerifyBoxScanFailureIsWarning(t *testing.T) {
	f := &fakeInspector{
		infos:    map[string]*probe.MediaInfo{"/out.mp4": conformingOutput()},
		boxesErr: errors.New("trace failed"),
	}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
	require.NoError(t, err)

	boxes, _ := report.Finding(CheckDVBoxes)
	assert.Equal(t, SeverityWarning, boxes.Severity)
	assert.True(t, report.Compatible())
}

func TestVerifyColorMismatch(t *testing.T) {
	out := conformingOutput()
	out.Video.ColorTransfer = "bt709"
	out.Video.ColorPrimaries = ""
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}, boxes: probe.Boxes{DVVC: true}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
	require.NoError(t, err)

	transfer, _ := report.Finding(CheckTransfer)
	primaries, _ := report.Finding(CheckPrimaries)
	assert.Equal(t, SeverityWarning, transfer.Severity)
	assert.Equal(t, SeverityInfo, primaries.Severity)
	assert.Equal(t, SeverityWarning, report.Status)
	assert.Len(t, report.Problems(), 1)
}

func TestVerifyMetadataAgainstReference(t *testing.T) {
	out := conformingOutput()
	delete(out.Tags, probe.TagLocation)
	delete(out.Tags, probe.TagMake)
	delete(out.Tags, probe.TagModel)
	out.Duration = 4

	f := &fakeInspector{
		infos: map[string]*probe.MediaInfo{"/out.mp4": out, "/src.mov": source()},
		boxes: probe.Boxes{DVCC: true},
	}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{Reference: "/src.mov"})
	require.NoError(t, err)

	for _, check := range []string{CheckLocation, CheckDevice, CheckDuration} {
		got, ok := report.Finding(check)
		require.True(t, ok, check)
		assert.Equal(t, SeverityWarning, got.Severity, check)
	}
	created, _ := report.Finding(CheckCreationTime)
	assert.Equal(t, SeverityPass, created.Severity)
	assert.True(t, report.Compatible())
}

func TestVerifyMissingTagsWithoutReference(t *testing.T) {
	out := conformingOutput()
	out.Tags = map[string]string{}
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}, boxes: probe.Boxes{DVCC: true}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{})
	require.NoError(t, err)

	loc, _ := report.Finding(CheckLocation)
	assert.Equal(t, SeverityInfo, loc.Severity)
	_, hasDuration := report.Finding(CheckDuration)
	assert.False(t, hasDuration)
}

func TestVerifyUnreadableReference(t *testing.T) {
	out := conformingOutput()
	out.Tags = map[string]string{}
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.mp4": out}, boxes: probe.Boxes{DVCC: true}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.mp4", Options{Reference: "/gone.mov"})
	require.NoError(t, err)

	loc, _ := report.Finding(CheckLocation)
	assert.Equal(t, SeverityInfo, loc.Severity)
	assert.Contains(t, loc.Message, "could not be read")
}

func TestVerifyNoVideoStream(t *testing.T) {
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{"/out.m4a": {Path: "/out.m4a", Tags: map[string]string{}}}}

	report, err := newVerifier(f).Verify(context.Background(), "/out.m4a", Options{})
	require.NoError(t, err)

	codec, _ := report.Finding(CheckCodec)
	assert.Equal(t, SeverityCritical, codec.Severity)
	assert.False(t, report.Compatible())
}

func TestVerifyProbeFailure(t *testing.T) {
	f := &fakeInspector{infos: map[string]*probe.MediaInfo{}}

	_, err := newVerifier(f).Verify(context.Background(), "/missing.mp4", Options{})
	require.Error(t, err)
	assert.True(t, derrors.IsKind(err, derrors.KindProbe))
}

func TestSeverityOrderingAndText(t *testing.T) {
	assert.Less(t, SeverityPass, SeverityInfo)
	assert.Less(t, SeverityInfo, SeverityWarning)
	assert.Less(t, SeverityWarning, SeverityCritical)

	text, err := SeverityCritical.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "critical", string(text))
}
