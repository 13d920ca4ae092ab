package model

import "time"

// IPBlock rejects every request from IPAddress until BlockedUntil. Expired
// rows stay inert until the cleanup sweep removes them.
type IPBlock struct {
	IPAddress    string    `json:"ip_address"`
	BlockedUntil time.Time `json:"blocked_until"`
	Reason       string    `json:"reason"`
	IncidentID   string    `json:"incident_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActiveAt reports whether the block still applies at now.
func (b *IPBlock) ActiveAt(now time.Time) bool {
	return b.BlockedUntil.After(now)
}

// AuthFailureRecord is one append-only authentication failure.
type AuthFailureRecord struct {
	ID                int64       `json:"id"`
	IPAddress         string      `json:"ip_address"`
	AttemptTime       time.Time   `json:"attempt_time"`
	FailureKind       FailureKind `json:"failure_kind"`
	IdentityAttempted string      `json:"identity_attempted,omitempty"`
}

// BlockIncident is the operator-facing case opened with every block.
type BlockIncident struct {
	IncidentID  string     `json:"incident_id"`
	IPAddress   string     `json:"ip_address"`
	BlockReason string     `json:"block_reason"`
	CreatedAt   time.Time  `json:"created_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	AdminNotes  string     `json:"admin_notes,omitempty"`
}
