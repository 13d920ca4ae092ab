package session

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

// Weights of the session anomaly conditions. The sum maps onto the
// allow/warn/block ladder: 0 allows, 1-3 warns, 4 or more blocks.
const (
	weightMultipleSessions = 1
	weightMultipleIPs      = 2
	weightRapidCreation    = 2
	blockWeight            = 4
)

// DetectSessionAnomalies inspects the concurrently active sessions of
// adminID and its recent session creations. The request address counts
// towards the distinct addresses in use.
func (m *Manager) DetectSessionAnomalies(ctx context.Context, adminID, token, ip, userAgent string) (*model.SessionAnomalyReport, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, model.Invalid("admin id is required")
	}
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return nil, err
	}

	sessions, err := m.ListSessions(ctx, adminID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	created, err := m.store.CountEventsSince(ctx, adminID, model.EventSessionCreated, now.Add(-m.cfg.RapidCreationWindow))
	if err != nil {
		return nil, err
	}

	ips := map[string]struct{}{addr: {}}
	for _, s := range sessions {
		ips[s.IPAddress] = struct{}{}
	}

	report := &model.SessionAnomalyReport{
		AnomalyTypes:    []model.SessionAnomalyType{},
		ActionRequired:  model.ActionAllow,
		ActiveSessions:  len(sessions),
		DistinctIPs:     len(ips),
		RecentCreations: created,
	}

	weight := 0
	if len(sessions) > 1 {
		report.AnomalyTypes = append(report.AnomalyTypes, model.SessionAnomalyMultipleSessions)
		weight += weightMultipleSessions
	}
	if len(ips) > 1 {
		report.AnomalyTypes = append(report.AnomalyTypes, model.SessionAnomalyMultipleIPs)
		weight += weightMultipleIPs
	}
	if created > m.cfg.RapidCreationThreshold {
		report.AnomalyTypes = append(report.AnomalyTypes, model.SessionAnomalyRapidCreation)
		weight += weightRapidCreation
	}

	switch {
	case weight >= blockWeight:
		report.ActionRequired = model.ActionBlock
	case weight > 0:
		report.ActionRequired = model.ActionWarn
	}
	report.AnomaliesDetected = weight > 0
	metrics.SessionAnomalies.WithLabelValues(string(report.ActionRequired)).Inc()

	if report.AnomaliesDetected {
		types := make([]string, len(report.AnomalyTypes))
		for i, t := range report.AnomalyTypes {
			types[i] = string(t)
		}
		sort.Strings(types)
		m.logger.Warn("session anomaly",
			"admin_id", adminID,
			"ip", addr,
			"anomalies", types,
			"action", report.ActionRequired,
		)
		m.event(ctx, &model.SessionEvent{
			EventType:   model.EventSessionAnomaly,
			AdminID:     adminID,
			TokenPrefix: model.TruncateToken(token),
			IPAddress:   addr,
			Details: model.EventDetails{
				Reason: strings.Join(types, ","),
				Extra:  map[string]string{"action_required": string(report.ActionRequired)},
			},
			CreatedAt: now,
		})
	}
	return report, nil
}

// IsTrusted reports whether ip falls inside a configured trusted network.
func (m *Manager) IsTrusted(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, n := range m.cfg.TrustedNetworks {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// EvaluateRotationPolicy counts the rotations of adminID in the rotation
// window. More than the alert threshold asks for an alert, more than the
// lock threshold asks for a lock. Requests from trusted networks skip the
// count entirely and are recorded as bypassed.
func (m *Manager) EvaluateRotationPolicy(ctx context.Context, adminID, ip string) (*model.RotationDecision, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, model.Invalid("admin id is required")
	}
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()

	if m.IsTrusted(addr) {
		m.logger.Info("rotation policy bypassed", "admin_id", adminID, "ip", addr, "reason", "trusted network")
		m.event(ctx, &model.SessionEvent{
			EventType: model.EventSessionBypass,
			AdminID:   adminID,
			IPAddress: addr,
			Details:   model.EventDetails{Reason: "trusted network"},
			CreatedAt: now,
		})
		metrics.RecordRotationDecision(string(model.RotationAllow), true)
		return &model.RotationDecision{
			Action:   model.RotationAllow,
			Bypassed: true,
			Reason:   "trusted network",
		}, nil
	}

	count, err := m.store.CountEventsSince(ctx, adminID, model.EventSessionRotated, now.Add(-m.cfg.RotationCountWindow))
	if err != nil {
		return nil, err
	}

	d := &model.RotationDecision{Action: model.RotationAllow, RotationCount: count}
	switch {
	case count > m.cfg.RotationLockThreshold:
		d.Action = model.RotationLock
		d.Reason = "rotation count above lock threshold"
		m.logger.Warn("rotation policy lock", "admin_id", adminID, "ip", addr, "rotations", count)
	case count > m.cfg.RotationAlertThreshold:
		d.Action = model.RotationAlert
		d.Reason = "rotation count above alert threshold"
		m.logger.Warn("rotation policy alert", "admin_id", adminID, "ip", addr, "rotations", count)
	}
	metrics.RecordRotationDecision(string(d.Action), false)
	return d, nil
}
