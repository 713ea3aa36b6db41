package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/dovetail/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal. Runs in a batch
// interleave, so every run line carries the source file name.
type TerminalReporter struct {
	mu       sync.Mutex
	out      io.Writer
	barOut   io.Writer
	verbose  bool
	progress *progressbar.ProgressBar
	names    map[string]string
	cyan     *color.Color
	green    *color.Color
	yellow   *color.Color
	red      *color.Color
	magenta  *color.Color
	faint    *color.Color
	bold     *color.Color
}

// NewTerminalReporter creates a terminal reporter on stdout with its batch bar on stderr.
func NewTerminalReporter(verbose bool) *TerminalReporter {
	return newTerminalReporter(os.Stdout, os.Stderr, verbose)
}

// NewTerminalReporterWithWriter creates a terminal reporter writing to w, without a progress bar.
func NewTerminalReporterWithWriter(w io.Writer, verbose bool) *TerminalReporter {
	return newTerminalReporter(w, nil, verbose)
}

func newTerminalReporter(out, barOut io.Writer, verbose bool) *TerminalReporter {
	return &TerminalReporter{
		out:     out,
		barOut:  barOut,
		verbose: verbose,
		names:   make(map[string]string),
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		faint:   color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
}

// printf writes a line, clearing the batch bar first so the two do not tangle.
func (r *TerminalReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Clear()
	}
	_, _ = fmt.Fprintf(r.out, format, args...)
	if r.progress != nil {
		_ = r.progress.RenderBlank()
	}
}

func (r *TerminalReporter) section(title string) {
	r.printf("\n%s\n", r.cyan.Sprint(title))
}

// label prints a bold label with fixed width padding followed by a value.
// Width is applied to the plain text before styling to ensure proper alignment.
func (r *TerminalReporter) label(width int, label, value string) {
	padded := fmt.Sprintf("%-*s", width, label)
	r.printf("  %s %s\n", r.bold.Sprint(padded), value)
}

func (r *TerminalReporter) name(runID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.names[runID]; ok {
		return n
	}
	return runID
}

func (r *TerminalReporter) Hardware(summary HardwareSummary) {
	r.section("HARDWARE")
	r.label(10, "Hostname:", summary.Hostname)
	r.label(10, "System:", fmt.Sprintf("%s/%s, %d cores, %s", summary.OS, summary.Arch, summary.LogicalCores, util.FormatBytesReadable(summary.TotalMemory)))
	r.label(10, "Slots:", fmt.Sprintf("%d jobs, %d cpu, %d gpu", summary.ParallelJobs, summary.CPUSlots, summary.GPUSlots))
}

func (r *TerminalReporter) BatchStarted(info BatchStartInfo) {
	r.section("BATCH")
	r.printf("  %s: %d to process, %d up to date -> %s\n",
		r.bold.Sprint(info.Album), info.ToProcess, info.ToSkip, r.bold.Sprint(info.OutputDir))
	r.printf("  Preset: %s\n", info.Preset)
	if info.Deferred > 0 {
		r.printf("  %d videos deferred by the transcode limit\n", info.Deferred)
	}
	if info.DryRun {
		r.printf("  %s\n", r.yellow.Sprint("Dry run: nothing will be written"))
	}
	for i, name := range info.FileList {
		r.printf("  %d. %s\n", i+1, name)
	}

	if r.barOut == nil || info.ToProcess < 2 || info.DryRun {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progressbar.NewOptions(
		info.ToProcess,
		progressbar.OptionSetDescription(""),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(r.barOut),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "Batch [",
			BarEnd:        "]",
		}),
	)
}

func (r *TerminalReporter) RunStarted(info RunStartInfo) {
	r.mu.Lock()
	r.names[info.RunID] = info.InputFile
	r.mu.Unlock()

	title := "VIDEO"
	if info.Total > 1 {
		title = fmt.Sprintf("VIDEO %d/%d", info.Index, info.Total)
	}
	r.section(title)
	r.label(11, "File:", info.InputFile)
	r.label(11, "Output:", info.OutputFile)
	r.label(11, "Preset:", fmt.Sprintf("%s (%s)", info.Preset, info.PresetSummary))
	r.label(11, "Resolution:", info.Resolution)
	r.label(11, "Dynamic:", info.DynamicRange)
	r.label(11, "Duration:", info.Duration)
}

func (r *TerminalReporter) StageProgress(update StageProgress) {
	r.printf("  %s %s [%d/%d] %s\n", r.magenta.Sprint("›"), r.name(update.RunID), update.Index, update.Total, update.Message)
}

func (r *TerminalReporter) StageComplete(outcome StageOutcome) {
	var status string
	switch outcome.Status {
	case "succeeded":
		status = r.green.Sprint("done")
	case "cached":
		status = r.green.Sprint("cached")
	case "skipped", "not-run":
		status = r.faint.Sprint(outcome.Status)
	default:
		status = r.red.Sprint(outcome.Status)
	}
	line := fmt.Sprintf("  %s %s %s %s (%s)", r.magenta.Sprint("›"), r.name(outcome.RunID), outcome.Stage, status, util.FormatElapsed(outcome.Duration))
	if outcome.Error != "" {
		line += ": " + outcome.Error
	}
	r.printf("%s\n", line)
}

func (r *TerminalReporter) VerificationComplete(summary VerificationSummary) {
	r.section("VERIFICATION " + summary.OutputFile)
	if summary.Compatible {
		r.printf("  %s\n", r.bold.Sprint(r.green.Sprint("Compatible")))
	} else {
		r.printf("  %s\n", r.red.Sprint("Not compatible"))
	}

	maxLen := 0
	for _, f := range summary.Findings {
		maxLen = max(maxLen, len(f.Check))
	}
	for _, f := range summary.Findings {
		var mark string
		switch f.Severity {
		case "pass":
			mark = r.green.Sprint("✓")
		case "info":
			mark = r.faint.Sprint("·")
		case "warning":
			mark = r.yellow.Sprint("!")
		default:
			mark = r.red.Sprint("✗")
		}
		r.printf("  - %-*s %s (%s)\n", maxLen+1, f.Check+":", mark, f.Message)
	}
}

func (r *TerminalReporter) RunComplete(outcome RunOutcome) {
	r.mu.Lock()
	delete(r.names, outcome.RunID)
	if r.progress != nil {
		_ = r.progress.Add(1)
	}
	r.mu.Unlock()

	if !outcome.Succeeded {
		r.printf("\n%s %s failed at %s: %s\n", r.red.Sprint("✗"), r.bold.Sprint(outcome.InputFile), outcome.FailedStage, outcome.Error)
		return
	}
	reduction := util.CalculateSizeReduction(outcome.InputSize, outcome.OutputSize)
	r.section("RESULTS " + outcome.InputFile)
	r.label(10, "Output:", outcome.OutputFile)
	r.label(10, "Size:", fmt.Sprintf("%s -> %s (%s)",
		util.FormatBytesReadable(outcome.InputSize),
		util.FormatBytesReadable(outcome.OutputSize),
		util.FormatSizeChange(reduction)))
	r.label(10, "Time:", fmt.Sprintf("%s (speed %.2fx)", util.FormatElapsed(outcome.TotalTime), outcome.Speed))
	r.printf("  %s %s\n", r.bold.Sprint("Saved to"), r.green.Sprint(outcome.OutputPath))
}

func (r *TerminalReporter) Warning(message string) {
	r.printf("%s\n", r.yellow.Sprintf("WARN: %s", message))
}

func (r *TerminalReporter) Error(err ReporterError) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n  %s\n", r.red.Sprintf("ERROR %s", err.Title), err.Message)
	if err.Context != "" {
		fmt.Fprintf(&b, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		fmt.Fprintf(&b, "  Suggestion: %s\n", err.Suggestion)
	}
	r.printf("%s", b.String())
}

func (r *TerminalReporter) BatchComplete(summary BatchSummary) {
	r.mu.Lock()
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
	}
	r.mu.Unlock()

	reduction := util.CalculateSizeReduction(summary.TotalInputSize, summary.TotalOutputSize)
	r.section("BATCH SUMMARY")
	if summary.Cancelled {
		r.printf("  %s\n", r.yellow.Sprint("Cancelled before all runs were dispatched"))
	}
	r.printf("  %s\n", r.bold.Sprintf("%d succeeded, %d failed, %d skipped, %d copied (of %d)",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Copied, summary.Total))
	r.printf("  Verification: %s passed, %s failed\n",
		r.green.Sprint(summary.VerificationPassed),
		r.red.Sprint(summary.VerificationFailed))
	r.printf("  Size: %s -> %s (%s)\n",
		util.FormatBytesReadable(summary.TotalInputSize),
		util.FormatBytesReadable(summary.TotalOutputSize),
		util.FormatSizeChange(reduction))
	r.printf("  Time: %s\n", util.FormatElapsed(summary.TotalDuration))

	for _, fr := range summary.FileResults {
		r.printf("  - %s: %s (%.1f%% reduction)\n", fr.Filename, fr.Status, fr.Reduction)
	}
}

func (r *TerminalReporter) Verbose(message string) {
	if !r.verbose {
		return
	}
	r.printf("  %s\n", r.faint.Sprint(message))
}
