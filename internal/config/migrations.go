package config

import (
	"context"
	"fmt"
)

// migrations are dialect templates expanded by connector.Dialect.Expand.
// Plain CREATE statements are used because SQL Server has no IF NOT EXISTS
// form; re-running a statement whose object exists is a no-op.
var migrations = []string{
	`CREATE TABLE admin_sessions (
		token {key} PRIMARY KEY,
		admin_id {key} NOT NULL,
		role {key} NOT NULL,
		ip_address {key} NOT NULL,
		user_agent {text} NOT NULL,
		created_at {bigint} NOT NULL,
		last_verified_at {bigint} NOT NULL,
		is_active {bool} NOT NULL,
		security_flags {text} NOT NULL,
		verification_token {key} NOT NULL
	)`,
	`CREATE INDEX idx_admin_sessions_admin ON admin_sessions(admin_id, created_at)`,

	`CREATE TABLE ip_blocks (
		ip_address {key} PRIMARY KEY,
		blocked_until {bigint} NOT NULL,
		reason {text} NOT NULL,
		incident_id {key} NOT NULL,
		created_at {bigint} NOT NULL
	)`,
	`CREATE INDEX idx_ip_blocks_until ON ip_blocks(blocked_until)`,

	`CREATE TABLE auth_failures (
		id {autoid},
		ip_address {key} NOT NULL,
		attempt_time {bigint} NOT NULL,
		failure_kind {key} NOT NULL,
		identity_attempted {key} NOT NULL
	)`,
	`CREATE INDEX idx_auth_failures_ip_time ON auth_failures(ip_address, attempt_time)`,

	`CREATE TABLE block_incidents (
		incident_id {key} PRIMARY KEY,
		ip_address {key} NOT NULL,
		block_reason {text} NOT NULL,
		created_at {bigint} NOT NULL,
		resolved {bool} NOT NULL,
		resolved_at {bigint},
		resolved_by {key} NOT NULL,
		admin_notes {text} NOT NULL
	)`,
	`CREATE INDEX idx_block_incidents_ip ON block_incidents(ip_address, created_at)`,
	`CREATE INDEX idx_block_incidents_pending ON block_incidents(resolved, created_at)`,

	`CREATE TABLE admin_actions (
		id {autoid},
		admin_id {key} NOT NULL,
		action_type {key} NOT NULL,
		resource_type {key} NOT NULL,
		resource_id {key} NOT NULL,
		risk_level {key} NOT NULL,
		ip_address {key} NOT NULL,
		user_agent {text} NOT NULL,
		success {bool} NOT NULL,
		created_at {bigint} NOT NULL
	)`,
	`CREATE INDEX idx_admin_actions_admin_time ON admin_actions(admin_id, created_at)`,

	`CREATE TABLE session_events (
		id {autoid},
		event_type {key} NOT NULL,
		admin_id {key} NOT NULL,
		token_prefix {key} NOT NULL,
		ip_address {key} NOT NULL,
		details {text} NOT NULL,
		created_at {bigint} NOT NULL
	)`,
	`CREATE INDEX idx_session_events_admin ON session_events(admin_id, event_type, created_at)`,

	// Rows locked by Queries.LockKey on dialects without advisory locks.
	`CREATE TABLE store_locks (
		name {key} PRIMARY KEY,
		hits {bigint} NOT NULL
	)`,

	// Key-value settings (persisted invalidation schedule, instance ID).
	`CREATE TABLE settings (
		name {key} PRIMARY KEY,
		value {text} NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	dialect := s.conn.Dialect()
	for _, m := range migrations {
		stmt := dialect.Expand(m)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if dialect.IsAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
