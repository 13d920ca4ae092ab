package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// AdminSession is one authenticated administrator session. The token is the
// primary key; rotation replaces the row rather than updating it.
type AdminSession struct {
	Token             string        `json:"-"`
	AdminID           string        `json:"admin_id"`
	Role              string        `json:"role"`
	IPAddress         string        `json:"ip_address"`
	UserAgent         string        `json:"user_agent"`
	CreatedAt         time.Time     `json:"created_at"`
	LastVerifiedAt    time.Time     `json:"last_verified_at"`
	IsActive          bool          `json:"is_active"`
	Flags             SecurityFlags `json:"security_flags"`
	VerificationToken string        `json:"-"`
}

// SessionCredentials is the pair a client must present on every request:
// the session token and the verifier that proves the token was not lifted
// from a log or a proxy trace.
type SessionCredentials struct {
	Token    string `json:"session_token"`
	Verifier string `json:"session_verifier"`
}

// Credentials returns the token pair of s.
func (s *AdminSession) Credentials() SessionCredentials {
	return SessionCredentials{Token: s.Token, Verifier: s.VerificationToken}
}

// TokenPrefix is the truncated token safe to log and show to operators.
func (s *AdminSession) TokenPrefix() string {
	return TruncateToken(s.Token)
}

// TruncateToken keeps the first eight characters of a secret token.
func TruncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// TruncateText drops invalid UTF-8 from s and cuts it to at most n bytes
// on a character boundary, so the result is always storable text.
func TruncateText(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SecurityFlags holds the per-session binding toggles and rotation history.
// Extra carries forward-compatible additions that have no typed field yet.
type SecurityFlags struct {
	IPBinding           bool              `json:"ip_binding"`
	UserAgentBinding    bool              `json:"user_agent_binding"`
	Rotated             bool              `json:"rotated,omitempty"`
	RotatedAt           *time.Time        `json:"rotated_at,omitempty"`
	RotationReason      RotationReason    `json:"rotation_reason,omitempty"`
	PreviousTokenPrefix string            `json:"previous_token_prefix,omitempty"`
	RotationCount       int               `json:"rotation_count,omitempty"`
	AnomalySignature    string            `json:"anomaly_signature,omitempty"`
	BypassReason        string            `json:"bypass_reason,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// CreateSessionRequest carries the identity produced by the credential check
// plus optional binding overrides.
type CreateSessionRequest struct {
	AdminID   string
	Role      string
	IPAddress string
	UserAgent string
	Flags     *SecurityFlags
}

// VerifyResult is the outcome of checking a session against the current
// request environment.
type VerifyResult struct {
	Valid       bool      `json:"valid"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Warnings    []string  `json:"warnings"`
	RotationDue bool      `json:"rotation_due"`
	Cached      bool      `json:"cached"`
	AdminID     string    `json:"admin_id,omitempty"`
	Role        string    `json:"role,omitempty"`
}

// SessionAnomalyType names one condition of the lightweight session check.
type SessionAnomalyType string

const (
	SessionAnomalyMultipleSessions SessionAnomalyType = "multiple_sessions"
	SessionAnomalyMultipleIPs      SessionAnomalyType = "multiple_ips"
	SessionAnomalyRapidCreation    SessionAnomalyType = "rapid_session_creation"
)

// SessionAnomalyReport is returned by the session anomaly check.
type SessionAnomalyReport struct {
	AnomaliesDetected bool                 `json:"anomalies_detected"`
	AnomalyTypes      []SessionAnomalyType `json:"anomaly_types"`
	ActionRequired    ActionRequired       `json:"action_required"`
	ActiveSessions    int                  `json:"active_sessions"`
	DistinctIPs       int                  `json:"distinct_ips"`
	RecentCreations   int                  `json:"recent_creations"`
}

// RotationDecision is the outcome of the rotation-count policy.
type RotationDecision struct {
	Action        RotationAction `json:"action"`
	RotationCount int            `json:"rotation_count"`
	Bypassed      bool           `json:"bypassed"`
	Reason        string         `json:"reason,omitempty"`
}

// SessionEvent is one persisted session lifecycle event.
type SessionEvent struct {
	ID          int64            `json:"id"`
	EventType   SessionEventType `json:"event_type"`
	AdminID     string           `json:"admin_id"`
	TokenPrefix string           `json:"token_prefix,omitempty"`
	IPAddress   string           `json:"ip_address,omitempty"`
	Details     EventDetails     `json:"details"`
	CreatedAt   time.Time        `json:"created_at"`
}

// EventDetails is the typed payload of a session event.
type EventDetails struct {
	Reason              string            `json:"reason,omitempty"`
	RotationReason      RotationReason    `json:"rotation_reason,omitempty"`
	PreviousTokenPrefix string            `json:"previous_token_prefix,omitempty"`
	Severity            Severity          `json:"severity,omitempty"`
	RiskScore           int               `json:"risk_score,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// Identity is what the upstream credential check hands to this service for
// every request.
type Identity struct {
	AdminID   string `json:"admin_id"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}
