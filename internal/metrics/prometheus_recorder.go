package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	phaseDuration *prom.HistogramVec
	jobDuration   prom.Histogram
	phaseItems    *prom.CounterVec
	jobOutcome    *prom.CounterVec
	llmDuration   *prom.HistogramVec
	llmRetries    *prom.CounterVec
	activeJobs    prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.phaseDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "driveorg",
			Name:      "phase_duration_seconds",
			Help:      "Duration of individual pipeline phases",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"})
		pr.jobDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "driveorg",
			Name:      "job_duration_seconds",
			Help:      "Total job duration",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		})
		pr.phaseItems = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "driveorg",
			Name:      "phase_items_total",
			Help:      "Per-phase item counts by result",
		}, []string{"phase", "result"})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "driveorg",
			Name:      "job_outcomes_total",
			Help:      "Job outcomes by final status",
		}, []string{"outcome"})
		pr.llmDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "driveorg",
			Name:      "llm_call_duration_seconds",
			Help:      "Duration of model calls by client and result",
			Buckets:   prom.DefBuckets,
		}, []string{"client", "result"})
		pr.llmRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "driveorg",
			Name:      "llm_retries_total",
			Help:      "Model call retries by client",
		}, []string{"client"})
		pr.activeJobs = prom.NewGauge(prom.GaugeOpts{
			Namespace: "driveorg",
			Name:      "active_jobs",
			Help:      "Jobs currently being processed",
		})
		reg.MustRegister(pr.phaseDuration, pr.jobDuration, pr.phaseItems,
			pr.jobOutcome, pr.llmDuration, pr.llmRetries, pr.activeJobs)
	})
	return pr
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	if p == nil || p.phaseDuration == nil {
		return
	}
	p.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPhaseItem(phase string, result ResultLabel) {
	if p == nil || p.phaseItems == nil {
		return
	}
	p.phaseItems.WithLabelValues(phase, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobOutcome(outcome string) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveLLMCall(client string, d time.Duration, success bool) {
	if p == nil || p.llmDuration == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	p.llmDuration.WithLabelValues(client, result).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncLLMRetry(client string) {
	if p == nil || p.llmRetries == nil {
		return
	}
	p.llmRetries.WithLabelValues(client).Inc()
}

func (p *PrometheusRecorder) SetActiveJobs(n int) {
	if p == nil || p.activeJobs == nil {
		return
	}
	p.activeJobs.Set(float64(n))
}
