package verify

import (
	"fmt"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/probe"
)

// Severity ranks a finding. Higher is worse.
type Severity int

const (
	SeverityPass Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "pass"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Check names, in report order.
const (
	CheckCodec        = "Video codec"
	CheckCodecTag     = "Codec tag"
	CheckDVSideData   = "Dolby Vision metadata"
	CheckDVBoxes      = "Dolby Vision boxes"
	CheckColorSpace   = "Color space"
	CheckTransfer     = "Color transfer"
	CheckPrimaries    = "Color primaries"
	CheckLocation     = "Location"
	CheckCreationTime = "Creation time"
	CheckDevice       = "Device"
	CheckDuration     = "Duration"
)

// Finding is one check's outcome.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the ordered result of verifying one file.
type Report struct {
	Path        string             `json:"path"`
	Reference   string             `json:"reference,omitempty"`
	Status      Severity           `json:"status"`
	Findings    []Finding          `json:"findings"`
	DolbyVision *probe.DolbyVision `json:"dolby_vision,omitempty"`
	Boxes       probe.Boxes        `json:"boxes"`
}

func (r *Report) add(check string, sev Severity, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Check: check, Severity: sev, Message: fmt.Sprintf(format, args...)})
	if sev > r.Status {
		r.Status = sev
	}
}

// Compatible returns true if nothing critical was found.
func (r *Report) Compatible() bool {
	return r.Status < SeverityCritical
}

// Finding returns the finding for a check, if present.
func (r *Report) Finding(check string) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Check == check {
			return f, true
		}
	}
	return Finding{}, false
}

// Count returns the number of findings at exactly sev.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// Problems returns descriptions of warning and critical findings.
func (r *Report) Problems() []string {
	var out []string
	for _, f := range r.Findings {
		if f.Severity >= SeverityWarning {
			out = append(out, fmt.Sprintf("[%s] %s: %s", f.Severity, f.Check, f.Message))
		}
	}
	return out
}

// Err returns a conformance error when the report has critical findings, nil otherwise.
// Callers choose whether to act on it.
func (r *Report) Err() error {
	if r.Compatible() {
		return nil
	}
	return derrors.NewConformanceError(fmt.Sprintf("%s: %d critical finding(s)", r.Path, r.Count(SeverityCritical)))
}
