// Package metrics exposes Prometheus instrumentation for the session,
// rate limiting, incident and anomaly components, plus HTTP request metrics.
// Collectors are registered on the default registry and served by promhttp.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_sessions_created_total",
			Help: "Total number of admin sessions created",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_sessions_evicted_total",
			Help: "Total number of sessions evicted by the per-admin cap",
		},
	)

	SessionsInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_sessions_invalidated_total",
			Help: "Total number of sessions invalidated",
		},
		[]string{"scope"}, // "single", "admin", "all"
	)

	SessionVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_session_verifications_total",
			Help: "Session verifications by outcome and risk level",
		},
		[]string{"valid", "risk", "cached"},
	)

	SessionRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_session_rotations_total",
			Help: "Session token rotations by trigger",
		},
		[]string{"reason"},
	)

	SessionAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_session_anomaly_checks_total",
			Help: "Session anomaly checks by required action",
		},
		[]string{"action"},
	)

	RotationPolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_rotation_policy_decisions_total",
			Help: "Rotation-count policy decisions",
		},
		[]string{"action", "bypassed"},
	)

	// Rate limiting
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_auth_failures_total",
			Help: "Authentication failures recorded by kind",
		},
		[]string{"kind"},
	)

	BlocksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_ip_blocks_created_total",
			Help: "Total number of address blocks created",
		},
	)

	BlockedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_blocked_requests_total",
			Help: "Requests rejected because the source address is blocked",
		},
	)

	BlocksRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_ip_blocks_removed_total",
			Help: "Address blocks removed by manual unblock or expiry cleanup",
		},
		[]string{"cause"}, // "manual", "expired"
	)

	// Incidents
	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_incidents_created_total",
			Help: "Total number of block incidents opened",
		},
	)

	IncidentsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adminguard_incidents_resolved_total",
			Help: "Total number of block incidents resolved",
		},
	)

	// Action log and anomaly detection
	ActionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_actions_recorded_total",
			Help: "Privileged actions recorded by risk level",
		},
		[]string{"risk"},
	)

	AssessmentScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adminguard_assessment_risk_score",
			Help:    "Distribution of anomaly assessment risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_alerts_sent_total",
			Help: "Anomaly alerts sent by severity",
		},
		[]string{"severity"},
	)

	// Scheduler
	ScheduledJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_scheduled_job_runs_total",
			Help: "Background job executions by job and outcome",
		},
		[]string{"job", "status"},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adminguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adminguard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordVerification counts one session verification outcome.
func RecordVerification(valid bool, risk string, cached bool) {
	SessionVerifications.WithLabelValues(strconv.FormatBool(valid), risk, strconv.FormatBool(cached)).Inc()
}

// RecordRotationDecision counts one rotation-policy decision.
func RecordRotationDecision(action string, bypassed bool) {
	RotationPolicyDecisions.WithLabelValues(action, strconv.FormatBool(bypassed)).Inc()
}

// RecordJob counts one background job execution.
func RecordJob(job string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ScheduledJobRuns.WithLabelValues(job, status).Inc()
}

// RecordAPIRequest records HTTP request metrics.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
