package verify

import (
	"context"
	"math"
	"slices"
	"strings"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/probe"
)

// durationToleranceSecs is the maximum allowed difference in duration between reference and output.
const durationToleranceSecs = 1.0

var (
	allowedCodecTags   = []string{"hvc1", "dvh1"}
	allowedColorSpaces = []string{"bt2020nc", "bt2020"}
	allowedTransfers   = []string{"arib-std-b67", "smpte2084"}
	allowedPrimaries   = []string{"bt2020"}
)

// Options contains optional parameters for verification.
type Options struct {
	// Reference is the source file whose metadata the output should carry over.
	Reference string
	// ExpectDynamicHDR is set when the pipeline claims Dolby Vision preservation
	// and the source carried it.
	ExpectDynamicHDR bool
}

// Verifier inspects output files.
type Verifier struct {
	inspector Inspector
	logger    *logging.Logger
}

// New creates a Verifier.
func New(inspector Inspector, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.Global()
	}
	return &Verifier{inspector: inspector, logger: logger.Component("verify")}
}

// Verify inspects output and returns an ordered conformance report. Only a failure
// to probe the output itself is an error; everything else lands in the report.
func (v *Verifier) Verify(ctx context.Context, output string, opts Options) (*Report, error) {
	info, err := v.inspector.Probe(ctx, output)
	if err != nil {
		return nil, derrors.Wrapf(err, "verify %s", output)
	}

	report := &Report{Path: output, Reference: opts.Reference, DolbyVision: info.DolbyVision}

	var ref *probe.MediaInfo
	if opts.Reference != "" {
		ref, err = v.inspector.Probe(ctx, opts.Reference)
		if err != nil {
			v.logger.Warn("reference probe failed", "reference", opts.Reference, "error", err)
			ref = nil
		}
	}

	checkCodec(report, info.Video)
	checkCodecTag(report, info.Video)
	checkSideData(report, info.DolbyVision, opts.ExpectDynamicHDR)
	v.checkBoxes(ctx, report, output, info.DolbyVision != nil || opts.ExpectDynamicHDR)
	checkColor(report, info.Video)
	checkTags(report, info, ref, opts.Reference != "")
	if ref != nil && ref.Duration > 0 {
		checkDuration(report, info.Duration, ref.Duration)
	}

	v.logger.Debug("verified", "path", output, "status", report.Status.String(), "findings", len(report.Findings))
	return report, nil
}

func checkCodec(r *Report, video *probe.VideoStream) {
	switch {
	case video == nil:
		r.add(CheckCodec, SeverityCritical, "no video stream")
	case video.CodecName == "hevc":
		r.add(CheckCodec, SeverityPass, "HEVC")
	default:
		r.add(CheckCodec, SeverityWarning, "expected HEVC, got %s", orUnknown(video.CodecName))
	}
}

func checkCodecTag(r *Report, video *probe.VideoStream) {
	if video == nil {
		r.add(CheckCodecTag, SeverityCritical, "no video stream")
		return
	}
	tag := video.CodecTag
	switch {
	case slices.Contains(allowedCodecTags, tag):
		r.add(CheckCodecTag, SeverityPass, "%s", tag)
	case tag == "hev1":
		r.add(CheckCodecTag, SeverityCritical, "hev1 is not playable on Apple devices, remux with -tag:v hvc1")
	default:
		r.add(CheckCodecTag, SeverityCritical, "%s is not one of %s", orUnknown(tag), strings.Join(allowedCodecTags, ", "))
	}
}

func checkSideData(r *Report, dv *probe.DolbyVision, expect bool) {
	switch {
	case dv != nil:
		r.add(CheckDVSideData, SeverityPass, "profile %d level %d, rpu %t", dv.Profile, dv.Level, dv.RPUPresent)
	case expect:
		r.add(CheckDVSideData, SeverityCritical, "no Dolby Vision configuration record, dynamic metadata was lost")
	default:
		r.add(CheckDVSideData, SeverityInfo, "no Dolby Vision metadata")
	}
}

func (v *Verifier) checkBoxes(ctx context.Context, r *Report, output string, needed bool) {
	boxes, err := v.inspector.ContainerBoxes(ctx, output)
	if err != nil {
		v.logger.Warn("box scan failed", "path", output, "error", err)
		r.add(CheckDVBoxes, SeverityWarning, "could not scan container: %v", err)
		return
	}
	r.Boxes = boxes
	switch {
	case boxes.Found():
		r.add(CheckDVBoxes, SeverityPass, "%s present", boxes.Type())
	case needed:
		r.add(CheckDVBoxes, SeverityCritical, "no dvcC or dvvC box, players will treat the file as plain HDR")
	default:
		r.add(CheckDVBoxes, SeverityInfo, "no Dolby Vision boxes")
	}
}

func checkColor(r *Report, video *probe.VideoStream) {
	var space, transfer, primaries string
	if video != nil {
		space, transfer, primaries = video.ColorSpace, video.ColorTransfer, video.ColorPrimaries
	}
	checkValue(r, CheckColorSpace, space, allowedColorSpaces)
	checkValue(r, CheckTransfer, transfer, allowedTransfers)
	checkValue(r, CheckPrimaries, primaries, allowedPrimaries)
}

func checkValue(r *Report, check, got string, allowed []string) {
	switch {
	case got == "":
		r.add(check, SeverityInfo, "not signalled")
	case slices.Contains(allowed, got):
		r.add(check, SeverityPass, "%s", got)
	default:
		r.add(check, SeverityWarning, "expected %s, got %s", strings.Join(allowed, " or "), got)
	}
}

func checkTags(r *Report, out, ref *probe.MediaInfo, haveRef bool) {
	checkTag(r, CheckLocation, out, ref, haveRef, probe.TagLocation)
	checkTag(r, CheckCreationTime, out, ref, haveRef, probe.TagCreationTime)
	checkTag(r, CheckDevice, out, ref, haveRef, probe.TagMake, probe.TagModel)
}

// checkTag passes when the output carries any of keys. A missing value is only
// a warning when the reference had it.
func checkTag(r *Report, check string, out, ref *probe.MediaInfo, haveRef bool, keys ...string) {
	if got := tagValue(out, keys); got != "" {
		r.add(check, SeverityPass, "%s", got)
		return
	}
	switch {
	case ref != nil && tagValue(ref, keys) != "":
		r.add(check, SeverityWarning, "present in source but missing from output")
	case haveRef && ref == nil:
		r.add(check, SeverityInfo, "missing, source could not be read")
	default:
		r.add(check, SeverityInfo, "not present")
	}
}

func checkDuration(r *Report, actual, expected float64) {
	diff := math.Abs(actual - expected)
	if diff <= durationToleranceSecs {
		r.add(CheckDuration, SeverityPass, "matches source (%.1fs)", actual)
		return
	}
	r.add(CheckDuration, SeverityWarning, "got %.1fs, source is %.1fs", actual, expected)
}

func tagValue(m *probe.MediaInfo, keys []string) string {
	var parts []string
	for _, k := range keys {
		if v := m.Tag(k); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
