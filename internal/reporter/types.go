// Package reporter provides progress reporting interfaces and implementations.
package reporter

import "time"

// HardwareSummary contains host information.
type HardwareSummary struct {
	Hostname      string
	OS            string
	Arch          string
	LogicalCores  int
	TotalMemory   uint64
	CPUSlots      int
	GPUSlots      int
	ParallelJobs  int
	ArtifactsRoot string
}

// BatchStartInfo contains batch start metadata.
type BatchStartInfo struct {
	BatchID   string
	Album     string
	OutputDir string
	Preset    string
	Total     int
	ToProcess int
	ToSkip    int
	Deferred  int
	DryRun    bool
	FileList  []string
}

// RunStartInfo describes one source before its stages run.
type RunStartInfo struct {
	RunID         string
	Index         int
	Total         int
	InputFile     string
	OutputFile    string
	Preset        string
	PresetSummary string
	Resolution    string
	DynamicRange  string
	Duration      string
}

// StageProgress is emitted when a stage starts or is skipped.
type StageProgress struct {
	RunID   string
	Stage   string
	Index   int
	Total   int
	Message string
}

// StageOutcome is emitted when a stage finishes.
type StageOutcome struct {
	RunID    string
	Stage    string
	Status   string
	Duration time.Duration
	Error    string
}

// VerificationFinding is one check of a conformance report.
type VerificationFinding struct {
	Check    string
	Severity string
	Message  string
}

// VerificationSummary contains the conformance report of one output.
type VerificationSummary struct {
	RunID      string
	OutputFile string
	Status     string
	Compatible bool
	Findings   []VerificationFinding
}

// RunOutcome contains the final result of one run.
type RunOutcome struct {
	RunID       string
	InputFile   string
	OutputFile  string
	OutputPath  string
	Preset      string
	Succeeded   bool
	FailedStage string
	Error       string
	InputSize   uint64
	OutputSize  uint64
	TotalTime   time.Duration
	Speed       float64
}

// ReporterError contains error information.
type ReporterError struct {
	Title      string
	Message    string
	Context    string
	Suggestion string
}

// FileResult contains one asset's batch outcome.
type FileResult struct {
	Filename  string
	Status    string
	Reduction float64
}

// BatchSummary contains batch completion information.
type BatchSummary struct {
	BatchID            string
	Total              int
	Succeeded          int
	Failed             int
	Skipped            int
	Copied             int
	TotalInputSize     uint64
	TotalOutputSize    uint64
	TotalDuration      time.Duration
	VerificationPassed int
	VerificationFailed int
	Cancelled          bool
	FileResults        []FileResult
}
