package model

import "time"

// AnomalyKind names one of the five pattern checks of the anomaly detector.
type AnomalyKind string

const (
	AnomalyBulkOperations  AnomalyKind = "bulk_operations"
	AnomalyNightAccess     AnomalyKind = "night_access"
	AnomalyAddressChurn    AnomalyKind = "address_churn"
	AnomalyCriticalBurst   AnomalyKind = "critical_burst"
	AnomalyHighFailureRate AnomalyKind = "high_failure_rate"
)

// AnomalyAssessment is computed on demand from the action log and never
// persisted.
type AnomalyAssessment struct {
	AdminID           string            `json:"admin_id"`
	WindowSeconds     int64             `json:"window_seconds"`
	ActionCount       int               `json:"action_count"`
	AnomaliesDetected bool              `json:"anomalies_detected"`
	Anomalies         []AnomalyKind     `json:"anomalies"`
	RiskScore         int               `json:"risk_score"`
	Recommendations   []string          `json:"recommendations"`
	Details           AssessmentDetails `json:"details"`
	AssessedAt        time.Time         `json:"assessed_at"`
}

// Has reports whether the given check triggered.
func (a *AnomalyAssessment) Has(kind AnomalyKind) bool {
	for _, k := range a.Anomalies {
		if k == kind {
			return true
		}
	}
	return false
}

// AssessmentDetails is the raw per-check evidence.
type AssessmentDetails struct {
	Bulk    BulkDetail    `json:"bulk_operations"`
	Night   NightDetail   `json:"night_access"`
	Churn   ChurnDetail   `json:"address_churn"`
	Burst   BurstDetail   `json:"critical_burst"`
	Failure FailureDetail `json:"failure_rate"`
}

type BulkDetail struct {
	Triggered      bool       `json:"triggered"`
	MaxBucketCount int        `json:"max_bucket_count"`
	BucketStart    *time.Time `json:"bucket_start,omitempty"`
}

type NightDetail struct {
	Triggered bool `json:"triggered"`
	Count     int  `json:"count"`
}

type ChurnDetail struct {
	Triggered   bool     `json:"triggered"`
	DistinctIPs int      `json:"distinct_ips"`
	Threshold   int      `json:"threshold"`
	IPs         []string `json:"ips"`
}

type BurstDetail struct {
	Triggered     bool       `json:"triggered"`
	HighRiskCount int        `json:"high_risk_count"`
	LongestBurst  int        `json:"longest_burst"`
	BurstStart    *time.Time `json:"burst_start,omitempty"`
}

type FailureDetail struct {
	Triggered bool    `json:"triggered"`
	Failed    int     `json:"failed"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"`
}

// AlertResult is the outcome of TriggerAlert.
type AlertResult struct {
	AlertSent           bool     `json:"alert_sent"`
	Severity            Severity `json:"severity"`
	SessionsInvalidated int64    `json:"sessions_invalidated"`
}
