package reporter

// Reporter defines the interface for progress reporting. Implementations must be
// safe for concurrent use; batch runs report from several goroutines.
type Reporter interface {
	Hardware(summary HardwareSummary)
	BatchStarted(info BatchStartInfo)
	RunStarted(info RunStartInfo)
	StageProgress(update StageProgress)
	StageComplete(outcome StageOutcome)
	VerificationComplete(summary VerificationSummary)
	RunComplete(outcome RunOutcome)
	Warning(message string)
	Error(err ReporterError)
	BatchComplete(summary BatchSummary)
	Verbose(message string)
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) Hardware(HardwareSummary)                 {}
func (NullReporter) BatchStarted(BatchStartInfo)              {}
func (NullReporter) RunStarted(RunStartInfo)                  {}
func (NullReporter) StageProgress(StageProgress)              {}
func (NullReporter) StageComplete(StageOutcome)               {}
func (NullReporter) VerificationComplete(VerificationSummary) {}
func (NullReporter) RunComplete(RunOutcome)                   {}
func (NullReporter) Warning(string)                           {}
func (NullReporter) Error(ReporterError)                      {}
func (NullReporter) BatchComplete(BatchSummary)               {}
func (NullReporter) Verbose(string)                           {}
