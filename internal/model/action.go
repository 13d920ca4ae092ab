package model

import "time"

// AdminActionRecord is one completed privileged operation. Records are
// never mutated after insert.
type AdminActionRecord struct {
	ID           int64      `json:"id"`
	AdminID      string     `json:"admin_id"`
	ActionType   ActionType `json:"action_type"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	RiskLevel    RiskLevel  `json:"risk_level"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent,omitempty"`
	Success      bool       `json:"success"`
	CreatedAt    time.Time  `json:"created_at"`
}
