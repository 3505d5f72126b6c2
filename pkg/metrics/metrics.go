// Package metrics instruments the pipeline with Prometheus counters and
// histograms: collaborator calls, reflection depth, repair cycles, runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//nolint:gochecknoglobals // Prometheus collectors are registered once.
var (
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchsmith_llm_requests_total",
		Help: "Completion calls by collaborator role, model, and outcome.",
	}, []string{"role", "model", "outcome"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchsmith_llm_tokens_total",
		Help: "Estimated tokens by collaborator role and direction.",
	}, []string{"role", "type"})

	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchsmith_pipeline_runs_total",
		Help: "Pipeline runs by route path and outcome.",
	}, []string{"path", "outcome"})

	reflectionIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patchsmith_reflection_iterations",
		Help:    "Reflection loop iterations per stage.",
		Buckets: prometheus.LinearBuckets(1, 1, 6),
	}, []string{"stage"})

	debugCycles = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchsmith_debug_cycles",
		Help:    "Validation/repair cycles per run.",
		Buckets: prometheus.LinearBuckets(0, 1, 6),
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchsmith_run_duration_seconds",
		Help:    "Wall-clock duration of a pipeline run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// RecordLLMCall counts one completion call.
func RecordLLMCall(role, model string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	llmRequests.WithLabelValues(role, model, outcome).Inc()
}

// RecordLLMTokens counts estimated prompt/completion tokens for a role.
func RecordLLMTokens(role string, promptTokens, completionTokens int) {
	llmTokens.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(role, "completion").Add(float64(completionTokens))
}

// RecordRun counts one finished pipeline run.
func RecordRun(path string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	pipelineRuns.WithLabelValues(path, outcome).Inc()
	runDuration.Observe(elapsed.Seconds())
}

// ObserveReflection records the iteration count of one reflection loop.
func ObserveReflection(stage string, iterations int) {
	reflectionIterations.WithLabelValues(stage).Observe(float64(iterations))
}

// ObserveDebugCycles records the repair cycle count of one run.
func ObserveDebugCycles(cycles int) {
	debugCycles.Observe(float64(cycles))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
