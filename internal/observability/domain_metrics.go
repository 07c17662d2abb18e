package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_query_requests_total",
			Help: "Total number of query requests by terminal status.",
		},
		[]string{"status"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_validation_rejections_total",
			Help: "Total number of candidate statements rejected by the validator, by reason code.",
		},
		[]string{"reason"},
	)
	generationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datatalk_sql_generation_duration_seconds",
			Help:    "Latency of the SQL generation adapter.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datatalk_sql_execution_duration_seconds",
			Help:    "Latency of guarded statement execution.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	executionTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datatalk_execution_timeouts_total",
			Help: "Total number of statements aborted by the database statement timeout.",
		},
	)
	auditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datatalk_audit_failures_total",
			Help: "Total number of swallowed audit sink failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryRequestsTotal,
		validationRejectionsTotal,
		generationDurationSeconds,
		executionDurationSeconds,
		executionTimeoutsTotal,
		auditFailuresTotal,
	)
}

func ObserveQueryOutcome(status string) {
	queryRequestsTotal.WithLabelValues(status).Inc()
}

func ObserveValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveGeneration(elapsed time.Duration) {
	generationDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveExecution(elapsed time.Duration) {
	executionDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementExecutionTimeout() {
	executionTimeoutsTotal.Inc()
}

func IncrementAuditFailure() {
	auditFailuresTotal.Inc()
}
