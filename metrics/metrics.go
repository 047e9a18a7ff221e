package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_checks_run_total",
			Help: "Total number of health checks executed",
		},
		[]string{"category", "status"},
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchtower_check_duration_seconds",
			Help:    "Time taken by individual health checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	AgentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_agent_runs_total",
			Help: "Total number of agent runs by outcome",
		},
		[]string{"agent", "outcome"},
	)

	AgentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchtower_agent_run_duration_seconds",
			Help:    "Time taken by aggregated agent runs",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_sent_total",
			Help: "Total number of alerts dispatched",
		},
		[]string{"urgency"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_anomalies_detected_total",
			Help: "Total number of metric anomalies detected",
		},
		[]string{"agent", "metric"},
	)

	IssuesOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchtower_issues_open",
			Help: "Currently open issues by severity",
		},
		[]string{"severity"},
	)

	TrackedDirectoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchtower_tracked_directory_bytes",
			Help: "Size of tracked directories for growth trending",
		},
		[]string{"path"},
	)
)
