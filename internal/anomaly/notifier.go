package anomaly

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

// Alert is what a Notifier delivers.
type Alert struct {
	Severity   model.Severity
	Assessment *model.AnomalyAssessment
}

// Notifier delivers alerts to a sink.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Name() string
}

// Classify maps an assessment to an alert severity.
func Classify(a *model.AnomalyAssessment) model.Severity {
	switch {
	case a.RiskScore >= 80 || a.Has(model.AnomalyCriticalBurst):
		return model.SeverityCritical
	case a.RiskScore >= 60 || a.Has(model.AnomalyAddressChurn):
		return model.SeverityHigh
	case a.RiskScore >= 40 || len(a.Anomalies) >= 2:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// TriggerAlert classifies the assessment and, for medium severity and
// above, hands it to the notifier. Low-severity assessments are not sent.
// A critical alert also invalidates every session of the administrator,
// whether or not the notifier succeeds.
func (d *Detector) TriggerAlert(ctx context.Context, a *model.AnomalyAssessment) model.AlertResult {
	sev := Classify(a)
	res := model.AlertResult{Severity: sev}
	if sev == model.SeverityLow {
		return res
	}
	if sev == model.SeverityCritical && d.terminator != nil {
		n, err := d.terminator.InvalidateAdminSessions(ctx, a.AdminID, "critical anomaly alert")
		if err != nil {
			d.logger.Error("forced logout failed", "admin_id", a.AdminID, "error", err)
		} else {
			res.SessionsInvalidated = n
		}
	}
	if err := d.notifier.Notify(ctx, Alert{Severity: sev, Assessment: a}); err != nil {
		d.logger.Error("alert delivery failed", "notifier", d.notifier.Name(), "admin_id", a.AdminID, "error", err)
		return res
	}
	metrics.AlertsSent.WithLabelValues(string(sev)).Inc()
	res.AlertSent = true
	return res
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	a := alert.Assessment
	n.logger.Warn("admin anomaly alert",
		"admin_id", a.AdminID,
		"severity", alert.Severity,
		"risk_score", a.RiskScore,
		"anomalies", a.Anomalies,
		"action_count", a.ActionCount,
	)
	return nil
}

// StoreNotifier persists alerts as anomaly events in the session event log
// so they show up in the admin's event history.
type StoreNotifier struct {
	store *config.Store
	clock clock.Clock
}

func NewStoreNotifier(store *config.Store, clk clock.Clock) *StoreNotifier {
	return &StoreNotifier{store: store, clock: clk}
}

func (n *StoreNotifier) Name() string { return "store" }

func (n *StoreNotifier) Notify(ctx context.Context, alert Alert) error {
	a := alert.Assessment
	kinds := make([]string, len(a.Anomalies))
	for i, k := range a.Anomalies {
		kinds[i] = string(k)
	}
	return n.store.InsertEvent(ctx, &model.SessionEvent{
		EventType: model.EventSessionAnomaly,
		AdminID:   a.AdminID,
		Details: model.EventDetails{
			Reason:    "action pattern: " + strings.Join(kinds, ","),
			Severity:  alert.Severity,
			RiskScore: a.RiskScore,
		},
		CreatedAt: n.clock.Now(),
	})
}

// MultiNotifier fans an alert out to several notifiers. Every notifier is
// attempted; failures are joined.
type MultiNotifier []Notifier

func (m MultiNotifier) Name() string {
	names := make([]string, len(m))
	for i, n := range m {
		names[i] = n.Name()
	}
	return strings.Join(names, "+")
}

func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
