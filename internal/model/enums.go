package model

import "strings"

// RiskLevel classifies both privileged actions and session verification
// outcomes.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel accepts the four canonical values, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, nil
	}
	return "", Invalid("unknown risk level %q", s)
}

// Rank orders risk levels so that higher means riskier.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Max returns the riskier of r and o.
func (r RiskLevel) Max(o RiskLevel) RiskLevel {
	if o.Rank() > r.Rank() {
		return o
	}
	return r
}

// ActionType is the closed set of privileged operations recorded in the
// action log.
type ActionType string

const (
	ActionLogin             ActionType = "login"
	ActionLogout            ActionType = "logout"
	ActionView              ActionType = "view"
	ActionCreate            ActionType = "create"
	ActionUpdate            ActionType = "update"
	ActionDelete            ActionType = "delete"
	ActionBulkDelete        ActionType = "bulk_delete"
	ActionExport            ActionType = "export"
	ActionConfigChange      ActionType = "config_change"
	ActionPermissionChange  ActionType = "permission_change"
	ActionUserDisable       ActionType = "user_disable"
	ActionSessionInvalidate ActionType = "session_invalidate"
	ActionUnblockIP         ActionType = "unblock_ip"
	ActionIncidentResolve   ActionType = "incident_resolve"
	ActionBackup            ActionType = "backup"
	ActionRestore           ActionType = "restore"
	ActionOther             ActionType = "other"
)

var actionRisk = map[ActionType]RiskLevel{
	ActionLogin:             RiskLow,
	ActionLogout:            RiskLow,
	ActionView:              RiskLow,
	ActionCreate:            RiskMedium,
	ActionUpdate:            RiskMedium,
	ActionDelete:            RiskHigh,
	ActionBulkDelete:        RiskCritical,
	ActionExport:            RiskHigh,
	ActionConfigChange:      RiskHigh,
	ActionPermissionChange:  RiskCritical,
	ActionUserDisable:       RiskHigh,
	ActionSessionInvalidate: RiskMedium,
	ActionUnblockIP:         RiskMedium,
	ActionIncidentResolve:   RiskLow,
	ActionBackup:            RiskMedium,
	ActionRestore:           RiskCritical,
	ActionOther:             RiskMedium,
}

// ParseActionType rejects anything outside the closed set.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := actionRisk[a]; !ok {
		return "", Invalid("unknown action type %q", s)
	}
	return a, nil
}

// DefaultRisk is the risk level recorded when the caller does not classify
// the action itself.
func (a ActionType) DefaultRisk() RiskLevel {
	if r, ok := actionRisk[a]; ok {
		return r
	}
	return RiskHigh
}

// FailureKind is the closed set of authentication failures counted by the
// rate limiter.
type FailureKind string

const (
	FailureInvalidCredentials FailureKind = "invalid_credentials"
	FailureInvalidOTP         FailureKind = "invalid_otp"
	FailureInvalidAssertion   FailureKind = "invalid_assertion"
	FailureInvalidSession     FailureKind = "invalid_session"
	FailureSessionBinding     FailureKind = "session_binding"
)

// ParseFailureKind rejects unknown failure kinds.
func ParseFailureKind(s string) (FailureKind, error) {
	switch k := FailureKind(strings.ToLower(strings.TrimSpace(s))); k {
	case FailureInvalidCredentials, FailureInvalidOTP, FailureInvalidAssertion,
		FailureInvalidSession, FailureSessionBinding:
		return k, nil
	}
	return "", Invalid("unknown failure kind %q", s)
}

// SessionEventType enumerates the session lifecycle events persisted in the
// session event log.
type SessionEventType string

const (
	EventSessionCreated     SessionEventType = "created"
	EventSessionVerified    SessionEventType = "verified"
	EventSessionRotated     SessionEventType = "rotated"
	EventSessionInvalidated SessionEventType = "invalidated"
	EventSessionEvicted     SessionEventType = "evicted"
	EventSessionAnomaly     SessionEventType = "anomaly"
	EventSessionBypass      SessionEventType = "bypass"
)

// RotationReason records why a session token was replaced.
type RotationReason string

const (
	RotationScheduled RotationReason = "scheduled"
	RotationAnomaly   RotationReason = "anomaly"
	RotationManual    RotationReason = "manual"
)

// ParseRotationReason rejects unknown rotation triggers.
func ParseRotationReason(s string) (RotationReason, error) {
	switch r := RotationReason(strings.ToLower(strings.TrimSpace(s))); r {
	case RotationScheduled, RotationAnomaly, RotationManual:
		return r, nil
	}
	return "", Invalid("unknown rotation reason %q", s)
}

// ActionRequired is the escalation ladder of the session anomaly check.
type ActionRequired string

const (
	ActionAllow ActionRequired = "allow"
	ActionWarn  ActionRequired = "warn"
	ActionBlock ActionRequired = "block"
)

// RotationAction is the escalation ladder of the rotation-count policy.
type RotationAction string

const (
	RotationAllow RotationAction = "allow"
	RotationAlert RotationAction = "alert"
	RotationLock  RotationAction = "lock"
)

// Severity is the alert severity derived from an anomaly assessment.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
