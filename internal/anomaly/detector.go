// Package anomaly scores an administrator's recent action pattern. Five
// independent checks run over the action log for a trailing window and are
// combined into a saturating 0-100 risk score; TriggerAlert turns an
// assessment into an alert severity and hands it to the notification sink.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

const (
	bulkBucket       = 5 * time.Minute
	bulkThreshold    = 10
	churnPerHour     = 3
	burstMaxGap      = 10 * time.Minute
	burstMinLength   = 3
	failureRatePct   = 30
	scoreDetected    = 60
	maxScore         = 100
	volumeCap        = 30
	maxAssessWindow  = 30 * 24 * time.Hour
	defaultAssessWin = 24 * time.Hour
)

// Per-action score weights.
const (
	scoreCritical = 20
	scoreHigh     = 10
	scoreMedium   = 5
	scoreNight    = 15
	scoreExtraIP  = 5
	scoreFailMax  = 30
)

// Config holds the unusual-hours band, in hours of the clock's zone. A
// band whose start is after its end wraps midnight.
type Config struct {
	NightStartHour int
	NightEndHour   int
}

// ConfigFrom extracts the detector settings from the security config.
func ConfigFrom(sc config.SecurityConfig) Config {
	return Config{NightStartHour: sc.NightStartHour, NightEndHour: sc.NightEndHour}
}

// Detector assesses administrators against the action log.
type Detector struct {
	store      *config.Store
	clock      clock.Clock
	cfg        Config
	notifier   Notifier
	terminator SessionTerminator
	logger     *slog.Logger
}

// SessionTerminator ends every session of an administrator.
type SessionTerminator interface {
	InvalidateAdminSessions(ctx context.Context, adminID, reason string) (int64, error)
}

// NewDetector creates a Detector. A nil notifier logs alerts only.
func NewDetector(store *config.Store, clk clock.Clock, cfg Config, notifier Notifier, logger *slog.Logger) *Detector {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Detector{store: store, clock: clk, cfg: cfg, notifier: notifier, logger: logger}
}

// WithTerminator makes critical alerts log the administrator out of every
// session through t.
func (d *Detector) WithTerminator(t SessionTerminator) *Detector {
	d.terminator = t
	return d
}

// Assess loads the actions of adminID in the trailing window and evaluates
// them. A zero window means 24 hours.
func (d *Detector) Assess(ctx context.Context, adminID string, window time.Duration) (*model.AnomalyAssessment, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, model.Invalid("admin id is required")
	}
	if window == 0 {
		window = defaultAssessWin
	}
	if window < time.Second || window > maxAssessWindow {
		return nil, model.Invalid("window must be between 1s and %s", maxAssessWindow)
	}

	now := d.clock.Now()
	actions, err := d.store.ListActionsBetween(ctx, adminID, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	a := d.Evaluate(adminID, actions, window, now)
	metrics.AssessmentScore.Observe(float64(a.RiskScore))
	d.logger.Debug("assessment", "admin_id", adminID, "actions", a.ActionCount, "score", a.RiskScore, "anomalies", a.Anomalies)
	return a, nil
}

// Evaluate runs the five checks over actions, which must be sorted oldest
// first. It has no side effects, so the same input always yields the same
// assessment.
func (d *Detector) Evaluate(adminID string, actions []model.AdminActionRecord, window time.Duration, now time.Time) *model.AnomalyAssessment {
	a := &model.AnomalyAssessment{
		AdminID:         adminID,
		WindowSeconds:   int64(window / time.Second),
		ActionCount:     len(actions),
		Anomalies:       []model.AnomalyKind{},
		Recommendations: []string{},
		AssessedAt:      now,
	}

	a.Details.Bulk = checkBulk(actions)
	a.Details.Night = d.checkNight(actions)
	a.Details.Churn = checkChurn(actions, window)
	a.Details.Burst = checkBurst(actions)
	a.Details.Failure = checkFailures(actions)

	if a.Details.Bulk.Triggered {
		a.Anomalies = append(a.Anomalies, model.AnomalyBulkOperations)
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Review bulk activity: %d actions within 5 minutes", a.Details.Bulk.MaxBucketCount))
	}
	if a.Details.Night.Triggered {
		a.Anomalies = append(a.Anomalies, model.AnomalyNightAccess)
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Confirm %d actions performed during unusual hours", a.Details.Night.Count))
	}
	if a.Details.Churn.Triggered {
		a.Anomalies = append(a.Anomalies, model.AnomalyAddressChurn)
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Verify access from %d different IP addresses", a.Details.Churn.DistinctIPs))
	}
	if a.Details.Burst.Triggered {
		a.Anomalies = append(a.Anomalies, model.AnomalyCriticalBurst)
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Audit burst of %d high-risk operations", a.Details.Burst.LongestBurst))
	}
	if a.Details.Failure.Triggered {
		a.Anomalies = append(a.Anomalies, model.AnomalyHighFailureRate)
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Investigate failure rate of %d%%", roundDiv(100*a.Details.Failure.Failed, a.Details.Failure.Total)))
	}

	a.RiskScore = score(actions, a.Details)
	a.AnomaliesDetected = len(a.Anomalies) > 0 || a.RiskScore >= scoreDetected
	if a.RiskScore >= scoreDetected {
		a.Recommendations = append(a.Recommendations, "Consider invalidating this administrator's sessions")
	}
	return a
}

func checkBulk(actions []model.AdminActionRecord) model.BulkDetail {
	counts := make(map[int64]int)
	var best model.BulkDetail
	var bestKey int64
	for _, act := range actions {
		key := act.CreatedAt.Truncate(bulkBucket).Unix()
		counts[key]++
		// Ties keep the earliest bucket.
		if c := counts[key]; c > best.MaxBucketCount || (c == best.MaxBucketCount && key < bestKey) {
			best.MaxBucketCount = c
			bestKey = key
		}
	}
	if best.MaxBucketCount > 0 {
		t := time.Unix(bestKey, 0).UTC()
		best.BucketStart = &t
	}
	best.Triggered = best.MaxBucketCount >= bulkThreshold
	return best
}

func (d *Detector) inNightBand(t time.Time) bool {
	h := t.In(d.clock.Location()).Hour()
	start, end := d.cfg.NightStartHour, d.cfg.NightEndHour
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (d *Detector) checkNight(actions []model.AdminActionRecord) model.NightDetail {
	var nd model.NightDetail
	for _, act := range actions {
		if d.inNightBand(act.CreatedAt) {
			nd.Count++
		}
	}
	nd.Triggered = nd.Count > 0
	return nd
}

// churnThreshold is 3 addresses for windows of an hour or more and scales
// down proportionally (rounded, minimum 1) for shorter windows.
func churnThreshold(window time.Duration) int {
	if window >= time.Hour {
		return churnPerHour
	}
	t := roundDiv(churnPerHour*int(window/time.Second), int(time.Hour/time.Second))
	if t < 1 {
		t = 1
	}
	return t
}

func checkChurn(actions []model.AdminActionRecord, window time.Duration) model.ChurnDetail {
	seen := make(map[string]struct{})
	for _, act := range actions {
		seen[act.IPAddress] = struct{}{}
	}
	ips := make([]string, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	cd := model.ChurnDetail{
		DistinctIPs: len(ips),
		Threshold:   churnThreshold(window),
		IPs:         ips,
	}
	// A single address is never churn, whatever the threshold.
	cd.Triggered = cd.DistinctIPs > 1 && cd.DistinctIPs >= cd.Threshold
	return cd
}

func checkBurst(actions []model.AdminActionRecord) model.BurstDetail {
	var bd model.BurstDetail
	var run int
	var runStart, prev time.Time
	for _, act := range actions {
		if act.RiskLevel != model.RiskHigh && act.RiskLevel != model.RiskCritical {
			continue
		}
		bd.HighRiskCount++
		if run > 0 && act.CreatedAt.Sub(prev) <= burstMaxGap {
			run++
		} else {
			run = 1
			runStart = act.CreatedAt
		}
		prev = act.CreatedAt
		if run > bd.LongestBurst {
			bd.LongestBurst = run
			start := runStart
			bd.BurstStart = &start
		}
	}
	bd.Triggered = bd.LongestBurst >= burstMinLength
	return bd
}

func checkFailures(actions []model.AdminActionRecord) model.FailureDetail {
	fd := model.FailureDetail{Total: len(actions)}
	for _, act := range actions {
		if !act.Success {
			fd.Failed++
		}
	}
	if fd.Total > 0 {
		fd.Rate = float64(fd.Failed) / float64(fd.Total)
		fd.Triggered = 100*fd.Failed >= failureRatePct*fd.Total
	}
	return fd
}

func score(actions []model.AdminActionRecord, details model.AssessmentDetails) int {
	s := len(actions)
	if s > volumeCap {
		s = volumeCap
	}
	for _, act := range actions {
		switch act.RiskLevel {
		case model.RiskCritical:
			s += scoreCritical
		case model.RiskHigh:
			s += scoreHigh
		case model.RiskMedium:
			s += scoreMedium
		}
	}
	s += scoreNight * details.Night.Count
	if details.Churn.DistinctIPs > 1 {
		s += scoreExtraIP * (details.Churn.DistinctIPs - 1)
	}
	s += roundDiv(scoreFailMax*details.Failure.Failed, details.Failure.Total)
	if s > maxScore {
		s = maxScore
	}
	return s
}

// roundDiv returns num/den rounded half up; zero when den is zero.
func roundDiv(num, den int) int {
	if den == 0 {
		return 0
	}
	return (2*num + den) / (2 * den)
}
