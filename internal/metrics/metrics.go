package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "uicase"

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of run-case requests handled, labeled by transport and verdict.",
		},
		[]string{"transport", "outcome"},
	)

	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of a run, from request to written report (seconds).",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"transport", "outcome"},
	)

	AgentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of agent invocations, labeled by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	AgentLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_latency_seconds",
			Help:      "Time spent inside the agent call (seconds).",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"transport"},
	)

	ScreenshotResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshot_resolutions_total",
			Help:      "Screenshot references processed, labeled by how they were resolved (base64, file, url, skipped).",
		},
		[]string{"source"},
	)

	ReportsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_written_total",
			Help:      "Reports written, labeled by outcome (ok, error).",
		},
		[]string{"outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of result webhook deliveries, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected or delayed by rate limiting.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		AgentRequestsTotal,
		AgentLatencySeconds,
		ScreenshotResolutionsTotal,
		ReportsWrittenTotal,
		WebhookDeliveriesTotal,
		RateLimitHitsTotal,
	)
}
