package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_jobs_started_total", Help: "Jobs accepted and queued"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_jobs_succeeded_total", Help: "Jobs that reached SUCCEEDED"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_jobs_failed_total", Help: "Jobs that reached FAILED (excluding timeouts)"})
	JobsTimedOut     = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_jobs_timed_out_total", Help: "Jobs that failed on the transcription attempt ceiling"})
	PollTicks        = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_poll_ticks_total", Help: "Transcription poll attempts across all jobs"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "summary_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
	ActiveExecutions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "summary_active_executions", Help: "Workflow executions currently running"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "summary_queue_depth", Help: "Job ids waiting for a worker"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsSucceeded,
			JobsFailed,
			JobsTimedOut,
			PollTicks,
			RateLimitRejects,
			ActiveExecutions,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
