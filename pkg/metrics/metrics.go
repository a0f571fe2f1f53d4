package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksIssued counts intake links created by providers.
	LinksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_links_issued_total",
			Help: "Total number of intake links issued",
		},
	)

	// VerificationAttempts records identity verification attempts by result
	// (accepted|rejected|locked).
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_verification_attempts_total",
			Help: "Total number of link verification attempts",
		},
		[]string{"result"},
	)

	// Submissions counts intake submissions by result (accepted|rejected).
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Total number of intake form submissions",
		},
		[]string{"result"},
	)

	// RedFlags counts detected red flags by severity and source.
	RedFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_red_flags_total",
			Help: "Total number of red flags attached to intakes",
		},
		[]string{"severity", "source"},
	)

	// SummaryGenerations counts AI summary runs by mode (batch|stream) and
	// result (success|failure|cancelled).
	SummaryGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_summary_generations_total",
			Help: "Total number of AI summary generation runs",
		},
		[]string{"mode", "result"},
	)

	// ActiveLinks tracks links currently in the active state.
	ActiveLinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_active_links",
			Help: "Number of intake links currently active",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
