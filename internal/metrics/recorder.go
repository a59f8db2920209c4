package metrics

import "time"

// ResultLabel enumerates phase result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultError    ResultLabel = "error"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for job and phase metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder allows optional injection.
type Recorder interface {
	ObservePhaseDuration(phase string, d time.Duration)
	ObserveJobDuration(d time.Duration)
	IncPhaseItem(phase string, result ResultLabel)
	IncJobOutcome(outcome string) // outcome: completed|failed|cancelled
	ObserveLLMCall(client string, d time.Duration, success bool)
	IncLLMRetry(client string)
	SetActiveJobs(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePhaseDuration(string, time.Duration) {}
func (NoopRecorder) ObserveJobDuration(time.Duration)           {}
func (NoopRecorder) IncPhaseItem(string, ResultLabel)           {}
func (NoopRecorder) IncJobOutcome(string)                       {}
func (NoopRecorder) ObserveLLMCall(string, time.Duration, bool) {}
func (NoopRecorder) IncLLMRetry(string)                         {}
func (NoopRecorder) SetActiveJobs(int)                          {}
