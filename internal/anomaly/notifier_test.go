package anomaly

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/faucetdb/adminguard/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		anomalies []model.AnomalyKind
		want      model.Severity
	}{
		{"quiet", 10, nil, model.SeverityLow},
		{"single check", 12, []model.AnomalyKind{model.AnomalyBulkOperations}, model.SeverityLow},
		{"two checks", 20, []model.AnomalyKind{model.AnomalyBulkOperations, model.AnomalyNightAccess}, model.SeverityMedium},
		{"score 40", 40, nil, model.SeverityMedium},
		{"churn", 5, []model.AnomalyKind{model.AnomalyAddressChurn}, model.SeverityHigh},
		{"score 60", 60, nil, model.SeverityHigh},
		{"burst", 30, []model.AnomalyKind{model.AnomalyCriticalBurst}, model.SeverityCritical},
		{"score 80", 80, nil, model.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &model.AnomalyAssessment{RiskScore: tt.score, Anomalies: tt.anomalies}
			if got := Classify(a); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTriggerAlertSendsMediumAndAbove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := f.det.TriggerAlert(ctx, &model.AnomalyAssessment{AdminID: admin, RiskScore: 10})
	if low.AlertSent || low.Severity != model.SeverityLow {
		t.Errorf("low = %+v", low)
	}
	if len(f.sink.alerts) != 0 {
		t.Fatal("low severity must not reach the notifier")
	}

	high := f.det.TriggerAlert(ctx, &model.AnomalyAssessment{AdminID: admin, RiskScore: 65})
	if !high.AlertSent || high.Severity != model.SeverityHigh {
		t.Errorf("high = %+v", high)
	}
	if len(f.sink.alerts) != 1 || f.sink.alerts[0].Severity != model.SeverityHigh {
		t.Errorf("alerts = %+v", f.sink.alerts)
	}
}

func TestTriggerAlertNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("smtp down")
	res := f.det.TriggerAlert(context.Background(), &model.AnomalyAssessment{AdminID: admin, RiskScore: 90})
	if res.AlertSent {
		t.Error("failed delivery must not report alert_sent")
	}
	if res.Severity != model.SeverityCritical {
		t.Errorf("severity = %s", res.Severity)
	}
}

type recordingTerminator struct {
	admins []string
}

func (r *recordingTerminator) InvalidateAdminSessions(_ context.Context, adminID, _ string) (int64, error) {
	r.admins = append(r.admins, adminID)
	return 2, nil
}

func TestCriticalAlertInvalidatesSessions(t *testing.T) {
	f := newFixture(t)
	term := &recordingTerminator{}
	f.det.WithTerminator(term)
	ctx := context.Background()

	high := f.det.TriggerAlert(ctx, &model.AnomalyAssessment{AdminID: admin, RiskScore: 65})
	if high.SessionsInvalidated != 0 || len(term.admins) != 0 {
		t.Fatalf("high severity must not log the admin out: %+v", high)
	}

	// Delivery failure does not stop the forced logout.
	f.sink.err = errors.New("smtp down")
	crit := f.det.TriggerAlert(ctx, &model.AnomalyAssessment{
		AdminID: admin, RiskScore: 30, Anomalies: []model.AnomalyKind{model.AnomalyCriticalBurst},
	})
	if crit.Severity != model.SeverityCritical || crit.SessionsInvalidated != 2 {
		t.Errorf("critical = %+v", crit)
	}
	if len(term.admins) != 1 || term.admins[0] != admin {
		t.Errorf("terminated = %v", term.admins)
	}
}

func TestStoreNotifierWritesAnomalyEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := NewStoreNotifier(f.store, f.clock)
	err := n.Notify(ctx, Alert{
		Severity: model.SeverityHigh,
		Assessment: &model.AnomalyAssessment{
			AdminID:   admin,
			RiskScore: 70,
			Anomalies: []model.AnomalyKind{model.AnomalyAddressChurn, model.AnomalyNightAccess},
		},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	events, err := f.store.ListEvents(ctx, admin, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventType != model.EventSessionAnomaly {
		t.Fatalf("events = %+v", events)
	}
	d := events[0].Details
	if d.Severity != model.SeverityHigh || d.RiskScore != 70 || d.Reason != "action pattern: address_churn,night_access" {
		t.Errorf("details = %+v", d)
	}
}

func TestMultiNotifierAttemptsAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	m := MultiNotifier{failing, ok, NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))}

	err := m.Notify(context.Background(), Alert{Severity: model.SeverityMedium, Assessment: &model.AnomalyAssessment{AdminID: admin}})
	if err == nil {
		t.Error("expected the joined failure")
	}
	if len(ok.alerts) != 1 {
		t.Error("later notifiers must still run after a failure")
	}
	if m.Name() != "recording+recording+log" {
		t.Errorf("name = %s", m.Name())
	}
}
