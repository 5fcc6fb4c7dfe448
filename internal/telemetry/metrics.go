package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oape_jobs_submitted_total", Help: "Workflow jobs accepted, by mode"}, []string{"mode"})
	JobsCompleted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oape_jobs_completed_total", Help: "Workflow jobs finalized, by status"}, []string{"status"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "oape_jobs_running", Help: "Workflow jobs currently running"})
	EventsAppended   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oape_events_appended_total", Help: "Events appended to job logs, by type"}, []string{"type"})
	AgentSessions    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oape_agent_sessions_total", Help: "Agent conversations run, by outcome"}, []string{"outcome"})
	AgentCostUSD     = prometheus.NewCounter(prometheus.CounterOpts{Name: "oape_agent_cost_usd_total", Help: "Cumulative agent cost reported in USD"})
	AgentDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "oape_agent_session_seconds", Help: "Wall time of one agent conversation", Buckets: prometheus.ExponentialBuckets(5, 2, 10)})
	CIPolls          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oape_ci_polls_total", Help: "PR status polls, by outcome"}, []string{"outcome"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "oape_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	StreamClients    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "oape_stream_clients", Help: "Open event stream connections"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsRunning,
			EventsAppended,
			AgentSessions,
			AgentCostUSD,
			AgentDuration,
			CIPolls,
			RateLimitRejects,
			StreamClients,
		)
	})
	return promhttp.Handler()
}
