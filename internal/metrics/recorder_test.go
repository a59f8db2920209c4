package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObservePhaseDuration("indexing", time.Second)
	r.ObserveJobDuration(time.Minute)
	r.IncPhaseItem("indexing", ResultSuccess)
	r.IncJobOutcome("completed")
	r.ObserveLLMCall("local", time.Second, true)
	r.IncLLMRetry("remote")
	r.SetActiveJobs(1)
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObservePhaseDuration("indexing", 2*time.Second)
	pr.IncPhaseItem("indexing", ResultSuccess)
	pr.IncPhaseItem("indexing", ResultError)
	pr.IncJobOutcome("completed")
	pr.ObserveLLMCall("remote", time.Second, false)
	pr.IncLLMRetry("remote")
	pr.SetActiveJobs(2)
	pr.ObserveJobDuration(90 * time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"driveorg_phase_duration_seconds",
		"driveorg_phase_items_total",
		"driveorg_job_outcomes_total",
		"driveorg_llm_call_duration_seconds",
		"driveorg_llm_retries_total",
		"driveorg_active_jobs",
		"driveorg_job_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObservePhaseDuration("indexing", time.Second)
	pr.IncPhaseItem("indexing", ResultSuccess)
	pr.IncJobOutcome("failed")
	pr.SetActiveJobs(0)
}
