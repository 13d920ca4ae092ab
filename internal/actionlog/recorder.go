// Package actionlog is the append-only writer for privileged operations.
// Surrounding business logic calls RecordAction whenever an operation
// completes; the anomaly detector reads the same log.
package actionlog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

const (
	maxFieldLength = 191
	maxUALength    = 512
	maxListLimit   = 1000
)

// Action describes one completed privileged operation.
type Action struct {
	AdminID      string `json:"admin_id"`
	ActionType   string `json:"action_type"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	// RiskLevel optionally raises the risk above the action type's default.
	RiskLevel string `json:"risk_level,omitempty"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
	Success   bool   `json:"success"`
}

// Recorder validates and appends actions.
type Recorder struct {
	store  *config.Store
	clock  clock.Clock
	policy config.UnknownActionPolicy
	logger *slog.Logger
}

// NewRecorder creates a Recorder. policy decides what happens to action
// types outside the closed set.
func NewRecorder(store *config.Store, clk clock.Clock, policy config.UnknownActionPolicy, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, clock: clk, policy: policy, logger: logger}
}

// RecordAction validates a and appends it to the log. Unknown action types
// are rejected, or recorded as "other" with high risk when the unknown
// action policy is "high". An explicit risk level can raise, never lower,
// the type's default risk.
func (r *Recorder) RecordAction(ctx context.Context, a Action) (*model.AdminActionRecord, error) {
	adminID := strings.TrimSpace(a.AdminID)
	if adminID == "" || len(adminID) > maxFieldLength {
		return nil, model.Invalid("admin id is required and must be at most %d characters", maxFieldLength)
	}
	ip, err := model.NormalizeIP(a.IPAddress)
	if err != nil {
		return nil, err
	}
	if len(a.ResourceType) > maxFieldLength || len(a.ResourceID) > maxFieldLength {
		return nil, model.Invalid("resource fields must be at most %d characters", maxFieldLength)
	}

	actionType, err := model.ParseActionType(a.ActionType)
	risk := actionType.DefaultRisk()
	if err != nil {
		if r.policy != config.UnknownActionHigh {
			r.logger.Debug("rejected action type", "admin_id", adminID, "action_type", a.ActionType)
			return nil, err
		}
		r.logger.Warn("unknown action type recorded as high risk", "admin_id", adminID, "action_type", a.ActionType)
		actionType, risk = model.ActionOther, model.RiskHigh
	}
	if a.RiskLevel != "" {
		explicit, err := model.ParseRiskLevel(a.RiskLevel)
		if err != nil {
			return nil, err
		}
		risk = risk.Max(explicit)
	}

	ua := a.UserAgent
	if len(ua) > maxUALength {
		ua = ua[:maxUALength]
	}
	rec := &model.AdminActionRecord{
		AdminID:      adminID,
		ActionType:   actionType,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		RiskLevel:    risk,
		IPAddress:    ip,
		UserAgent:    ua,
		Success:      a.Success,
		CreatedAt:    r.clock.Now(),
	}
	if err := r.store.InsertAction(ctx, rec); err != nil {
		r.logger.Error("record action", "admin_id", adminID, "error", err)
		return nil, err
	}

	metrics.ActionsRecorded.WithLabelValues(string(risk)).Inc()
	r.logger.Debug("action recorded", "admin_id", adminID, "action_type", actionType, "risk", risk, "success", a.Success)
	return rec, nil
}

// ListRecent returns the latest actions of adminID, newest first.
func (r *Recorder) ListRecent(ctx context.Context, adminID string, limit int) ([]model.AdminActionRecord, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, model.Invalid("admin id is required")
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return r.store.ListRecentActions(ctx, adminID, limit)
}
