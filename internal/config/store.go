package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/adminguard/internal/connector"
	"github.com/faucetdb/adminguard/internal/connector/sqlite"
	"github.com/faucetdb/adminguard/internal/model"
)

// Store persists sessions, blocks, failures, incidents, the action log,
// session events and settings. The embedded *Queries runs against the pool;
// Tx hands a transaction-bound *Queries to a callback.
type Store struct {
	*Queries
	db   *sqlx.DB
	conn connector.Connector
}

// NewStore creates a SQLite-backed store under dataDir. Pass empty string
// for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "adminguard.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: dsn}); err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	return Open(conn)
}

// Open wraps an already connected connector and migrates its schema.
func Open(conn connector.Connector) (*Store, error) {
	db := conn.DB()
	s := &Store{Queries: &Queries{ext: db, dialect: conn.Dialect()}, db: db, conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.migrate(ctx); err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Disconnect()
}

// Ping checks that the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Driver returns the backing store driver name.
func (s *Store) Driver() string {
	return s.conn.DriverName()
}

// Tx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) Tx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Queries{ext: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

// Queries holds every statement of the store. It runs either against the
// connection pool or against a single transaction.
type Queries struct {
	ext     sqlx.ExtContext
	dialect connector.Dialect
}

// LockKey takes an exclusive lock on name that is held until the enclosing
// transaction ends. Every process sharing the store serializes on it, which
// the in-process key locks alone cannot do. Call it only inside Tx.
func (q *Queries) LockKey(ctx context.Context, name string) error {
	sum := sha256.Sum256([]byte(name))
	key := hex.EncodeToString(sum[:])
	for _, stmt := range q.dialect.LockStmts {
		if _, err := q.exec(ctx, stmt, key); err != nil {
			return storeErr("lock "+name, err)
		}
	}
	return nil
}

func (q *Queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insert runs a named insert and returns the generated ID where the driver
// reports one (SQLite, MySQL); otherwise it returns 0.
func (q *Queries) insert(ctx context.Context, query string, arg interface{}) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, q.ext, query, arg)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// selectLimit scans at most limit rows (all rows when limit <= 0) without a
// dialect-specific LIMIT clause.
func selectLimit[T any](ctx context.Context, q *Queries, limit int, query string, args ...interface{}) ([]T, error) {
	rows, err := q.ext.QueryxContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var r T
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Timestamps are stored as unix microseconds so that ordering and window
// comparisons behave identically on every driver.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `token, admin_id, role, ip_address, user_agent, created_at,
	last_verified_at, is_active, security_flags, verification_token`

type sessionRow struct {
	Token             string `db:"token"`
	AdminID           string `db:"admin_id"`
	Role              string `db:"role"`
	IPAddress         string `db:"ip_address"`
	UserAgent         string `db:"user_agent"`
	CreatedAt         int64  `db:"created_at"`
	LastVerifiedAt    int64  `db:"last_verified_at"`
	IsActive          bool   `db:"is_active"`
	SecurityFlags     string `db:"security_flags"`
	VerificationToken string `db:"verification_token"`
}

func sessionRowFromModel(s *model.AdminSession) (sessionRow, error) {
	flags, err := marshalJSON(s.Flags)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal security flags: %w", err)
	}
	return sessionRow{
		Token:             s.Token,
		AdminID:           s.AdminID,
		Role:              s.Role,
		IPAddress:         s.IPAddress,
		UserAgent:         s.UserAgent,
		CreatedAt:         micros(s.CreatedAt),
		LastVerifiedAt:    micros(s.LastVerifiedAt),
		IsActive:          s.IsActive,
		SecurityFlags:     flags,
		VerificationToken: s.VerificationToken,
	}, nil
}

func (r sessionRow) toModel() (model.AdminSession, error) {
	var flags model.SecurityFlags
	if r.SecurityFlags != "" {
		if err := json.Unmarshal([]byte(r.SecurityFlags), &flags); err != nil {
			return model.AdminSession{}, fmt.Errorf("unmarshal security flags: %w", err)
		}
	}
	return model.AdminSession{
		Token:             r.Token,
		AdminID:           r.AdminID,
		Role:              r.Role,
		IPAddress:         r.IPAddress,
		UserAgent:         r.UserAgent,
		CreatedAt:         fromMicros(r.CreatedAt),
		LastVerifiedAt:    fromMicros(r.LastVerifiedAt),
		IsActive:          r.IsActive,
		Flags:             flags,
		VerificationToken: r.VerificationToken,
	}, nil
}

func sessionsFromRows(rows []sessionRow) ([]model.AdminSession, error) {
	out := make([]model.AdminSession, 0, len(rows))
	for _, r := range rows {
		s, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// InsertSession stores a new session row.
func (q *Queries) InsertSession(ctx context.Context, sess *model.AdminSession) error {
	row, err := sessionRowFromModel(sess)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO admin_sessions (` + sessionColumns + `)
		VALUES (:token, :admin_id, :role, :ip_address, :user_agent, :created_at,
		:last_verified_at, :is_active, :security_flags, :verification_token)`
	if _, err := q.insert(ctx, stmt, row); err != nil {
		return storeErr("insert session", err)
	}
	return nil
}

// GetSession returns the session stored under token, active or not.
func (q *Queries) GetSession(ctx context.Context, token string) (*model.AdminSession, error) {
	var row sessionRow
	if err := q.get(ctx, &row, "SELECT "+sessionColumns+" FROM admin_sessions WHERE token = ?", token); err != nil {
		return nil, storeErr("get session", err)
	}
	sess, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListActiveSessions returns active sessions oldest first. An empty adminID
// lists every administrator's sessions.
func (q *Queries) ListActiveSessions(ctx context.Context, adminID string) ([]model.AdminSession, error) {
	var rows []sessionRow
	var err error
	if adminID == "" {
		err = q.selectAll(ctx, &rows,
			"SELECT "+sessionColumns+" FROM admin_sessions WHERE is_active = ? ORDER BY created_at, token", true)
	} else {
		err = q.selectAll(ctx, &rows,
			"SELECT "+sessionColumns+" FROM admin_sessions WHERE admin_id = ? AND is_active = ? ORDER BY created_at, token",
			adminID, true)
	}
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	return sessionsFromRows(rows)
}

// TouchSession records a successful verification. Touching a session that
// was deleted concurrently is not an error.
func (q *Queries) TouchSession(ctx context.Context, token string, at time.Time) error {
	if _, err := q.exec(ctx, "UPDATE admin_sessions SET last_verified_at = ? WHERE token = ?", micros(at), token); err != nil {
		return storeErr("touch session", err)
	}
	return nil
}

// DeleteSession removes a session row and reports whether it existed.
func (q *Queries) DeleteSession(ctx context.Context, token string) (bool, error) {
	n, err := q.exec(ctx, "DELETE FROM admin_sessions WHERE token = ?", token)
	if err != nil {
		return false, storeErr("delete session", err)
	}
	return n > 0, nil
}

// DeleteAllSessions removes every session row and returns how many existed.
func (q *Queries) DeleteAllSessions(ctx context.Context) (int64, error) {
	n, err := q.exec(ctx, "DELETE FROM admin_sessions")
	if err != nil {
		return 0, storeErr("delete all sessions", err)
	}
	return n, nil
}

// DeleteSessionsCreatedBefore removes sessions created at or before cutoff,
// which is how expired sessions are purged.
func (q *Queries) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := q.exec(ctx, "DELETE FROM admin_sessions WHERE created_at <= ?", micros(cutoff))
	if err != nil {
		return 0, storeErr("purge sessions", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Authentication failures
// ---------------------------------------------------------------------------

type failureRow struct {
	ID                int64  `db:"id"`
	IPAddress         string `db:"ip_address"`
	AttemptTime       int64  `db:"attempt_time"`
	FailureKind       string `db:"failure_kind"`
	IdentityAttempted string `db:"identity_attempted"`
}

// InsertFailure appends an authentication failure.
func (q *Queries) InsertFailure(ctx context.Context, f *model.AuthFailureRecord) error {
	row := failureRow{
		IPAddress:         f.IPAddress,
		AttemptTime:       micros(f.AttemptTime),
		FailureKind:       string(f.FailureKind),
		IdentityAttempted: f.IdentityAttempted,
	}
	id, err := q.insert(ctx, `INSERT INTO auth_failures (ip_address, attempt_time, failure_kind, identity_attempted)
		VALUES (:ip_address, :attempt_time, :failure_kind, :identity_attempted)`, row)
	if err != nil {
		return storeErr("insert failure", err)
	}
	f.ID = id
	return nil
}

// CountFailuresSince counts failures for ip strictly after since and not
// after until.
func (q *Queries) CountFailuresSince(ctx context.Context, ip string, since, until time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n,
		"SELECT COUNT(*) FROM auth_failures WHERE ip_address = ? AND attempt_time > ? AND attempt_time <= ?",
		ip, micros(since), micros(until))
	if err != nil {
		return 0, storeErr("count failures", err)
	}
	return n, nil
}

// DeleteFailuresBefore purges failures recorded at or before cutoff.
func (q *Queries) DeleteFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := q.exec(ctx, "DELETE FROM auth_failures WHERE attempt_time <= ?", micros(cutoff))
	if err != nil {
		return 0, storeErr("purge failures", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// IP blocks
// ---------------------------------------------------------------------------

const blockColumns = "ip_address, blocked_until, reason, incident_id, created_at"

type blockRow struct {
	IPAddress    string `db:"ip_address"`
	BlockedUntil int64  `db:"blocked_until"`
	Reason       string `db:"reason"`
	IncidentID   string `db:"incident_id"`
	CreatedAt    int64  `db:"created_at"`
}

func (r blockRow) toModel() model.IPBlock {
	return model.IPBlock{
		IPAddress:    r.IPAddress,
		BlockedUntil: fromMicros(r.BlockedUntil),
		Reason:       r.Reason,
		IncidentID:   r.IncidentID,
		CreatedAt:    fromMicros(r.CreatedAt),
	}
}

// GetBlock returns the block row for ip, expired or not.
func (q *Queries) GetBlock(ctx context.Context, ip string) (*model.IPBlock, error) {
	var row blockRow
	if err := q.get(ctx, &row, "SELECT "+blockColumns+" FROM ip_blocks WHERE ip_address = ?", ip); err != nil {
		return nil, storeErr("get block", err)
	}
	b := row.toModel()
	return &b, nil
}

// IsBlockedAt reports whether a block for ip is in force at now.
func (q *Queries) IsBlockedAt(ctx context.Context, ip string, now time.Time) (bool, error) {
	var n int
	err := q.get(ctx, &n, "SELECT COUNT(*) FROM ip_blocks WHERE ip_address = ? AND blocked_until > ?", ip, micros(now))
	if err != nil {
		return false, storeErr("check block", err)
	}
	return n > 0, nil
}

// PutBlock replaces any existing (necessarily expired) block row for the
// address with b.
func (q *Queries) PutBlock(ctx context.Context, b *model.IPBlock) error {
	if _, err := q.exec(ctx, "DELETE FROM ip_blocks WHERE ip_address = ?", b.IPAddress); err != nil {
		return storeErr("replace block", err)
	}
	row := blockRow{
		IPAddress:    b.IPAddress,
		BlockedUntil: micros(b.BlockedUntil),
		Reason:       b.Reason,
		IncidentID:   b.IncidentID,
		CreatedAt:    micros(b.CreatedAt),
	}
	if _, err := q.insert(ctx, `INSERT INTO ip_blocks (`+blockColumns+`)
		VALUES (:ip_address, :blocked_until, :reason, :incident_id, :created_at)`, row); err != nil {
		return storeErr("insert block", err)
	}
	return nil
}

// DeleteBlock removes the block row for ip and reports whether one existed.
func (q *Queries) DeleteBlock(ctx context.Context, ip string) (bool, error) {
	n, err := q.exec(ctx, "DELETE FROM ip_blocks WHERE ip_address = ?", ip)
	if err != nil {
		return false, storeErr("delete block", err)
	}
	return n > 0, nil
}

// DeleteExpiredBlocks removes blocks whose blocked_until is at or before now.
func (q *Queries) DeleteExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	n, err := q.exec(ctx, "DELETE FROM ip_blocks WHERE blocked_until <= ?", micros(now))
	if err != nil {
		return 0, storeErr("delete expired blocks", err)
	}
	return n, nil
}

// ListBlocks returns every block row, latest expiry first.
func (q *Queries) ListBlocks(ctx context.Context) ([]model.IPBlock, error) {
	var rows []blockRow
	if err := q.selectAll(ctx, &rows, "SELECT "+blockColumns+" FROM ip_blocks ORDER BY blocked_until DESC, ip_address"); err != nil {
		return nil, storeErr("list blocks", err)
	}
	out := make([]model.IPBlock, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Block incidents
// ---------------------------------------------------------------------------

const incidentColumns = `incident_id, ip_address, block_reason, created_at, resolved,
	resolved_at, resolved_by, admin_notes`

type incidentRow struct {
	IncidentID  string `db:"incident_id"`
	IPAddress   string `db:"ip_address"`
	BlockReason string `db:"block_reason"`
	CreatedAt   int64  `db:"created_at"`
	Resolved    bool   `db:"resolved"`
	ResolvedAt  *int64 `db:"resolved_at"`
	ResolvedBy  string `db:"resolved_by"`
	AdminNotes  string `db:"admin_notes"`
}

func (r incidentRow) toModel() model.BlockIncident {
	inc := model.BlockIncident{
		IncidentID:  r.IncidentID,
		IPAddress:   r.IPAddress,
		BlockReason: r.BlockReason,
		CreatedAt:   fromMicros(r.CreatedAt),
		Resolved:    r.Resolved,
		ResolvedBy:  r.ResolvedBy,
		AdminNotes:  r.AdminNotes,
	}
	if r.ResolvedAt != nil {
		t := fromMicros(*r.ResolvedAt)
		inc.ResolvedAt = &t
	}
	return inc
}

func incidentsFromRows(rows []incidentRow) []model.BlockIncident {
	out := make([]model.BlockIncident, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

// InsertIncident stores a new, unresolved incident.
func (q *Queries) InsertIncident(ctx context.Context, inc *model.BlockIncident) error {
	row := incidentRow{
		IncidentID:  inc.IncidentID,
		IPAddress:   inc.IPAddress,
		BlockReason: inc.BlockReason,
		CreatedAt:   micros(inc.CreatedAt),
		ResolvedBy:  inc.ResolvedBy,
		AdminNotes:  inc.AdminNotes,
	}
	if _, err := q.insert(ctx, `INSERT INTO block_incidents (`+incidentColumns+`)
		VALUES (:incident_id, :ip_address, :block_reason, :created_at, :resolved,
		:resolved_at, :resolved_by, :admin_notes)`, row); err != nil {
		return storeErr("insert incident", err)
	}
	return nil
}

// GetIncident returns the incident with the given ID.
func (q *Queries) GetIncident(ctx context.Context, id string) (*model.BlockIncident, error) {
	var row incidentRow
	if err := q.get(ctx, &row, "SELECT "+incidentColumns+" FROM block_incidents WHERE incident_id = ?", id); err != nil {
		return nil, storeErr("get incident", err)
	}
	inc := row.toModel()
	return &inc, nil
}

// ResolveIncident marks an unresolved incident resolved. It reports false
// when the incident does not exist or was already resolved.
func (q *Queries) ResolveIncident(ctx context.Context, id, by, notes string, at time.Time) (bool, error) {
	n, err := q.exec(ctx,
		"UPDATE block_incidents SET resolved = ?, resolved_at = ?, resolved_by = ?, admin_notes = ? WHERE incident_id = ? AND resolved = ?",
		true, micros(at), by, notes, id, false)
	if err != nil {
		return false, storeErr("resolve incident", err)
	}
	return n > 0, nil
}

// ListPendingIncidents returns up to limit unresolved incidents, newest first.
func (q *Queries) ListPendingIncidents(ctx context.Context, limit int) ([]model.BlockIncident, error) {
	rows, err := selectLimit[incidentRow](ctx, q, limit,
		"SELECT "+incidentColumns+" FROM block_incidents WHERE resolved = ? ORDER BY created_at DESC, incident_id DESC", false)
	if err != nil {
		return nil, storeErr("list pending incidents", err)
	}
	return incidentsFromRows(rows), nil
}

// ListIncidentsByIP returns every incident for ip, newest first.
func (q *Queries) ListIncidentsByIP(ctx context.Context, ip string) ([]model.BlockIncident, error) {
	var rows []incidentRow
	if err := q.selectAll(ctx, &rows,
		"SELECT "+incidentColumns+" FROM block_incidents WHERE ip_address = ? ORDER BY created_at DESC, incident_id DESC", ip); err != nil {
		return nil, storeErr("list incidents by ip", err)
	}
	return incidentsFromRows(rows), nil
}

// ---------------------------------------------------------------------------
// Admin action log
// ---------------------------------------------------------------------------

const actionColumns = `id, admin_id, action_type, resource_type, resource_id, risk_level,
	ip_address, user_agent, success, created_at`

type actionRow struct {
	ID           int64  `db:"id"`
	AdminID      string `db:"admin_id"`
	ActionType   string `db:"action_type"`
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`
	RiskLevel    string `db:"risk_level"`
	IPAddress    string `db:"ip_address"`
	UserAgent    string `db:"user_agent"`
	Success      bool   `db:"success"`
	CreatedAt    int64  `db:"created_at"`
}

func (r actionRow) toModel() model.AdminActionRecord {
	return model.AdminActionRecord{
		ID:           r.ID,
		AdminID:      r.AdminID,
		ActionType:   model.ActionType(r.ActionType),
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		RiskLevel:    model.RiskLevel(r.RiskLevel),
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
		Success:      r.Success,
		CreatedAt:    fromMicros(r.CreatedAt),
	}
}

func actionsFromRows(rows []actionRow) []model.AdminActionRecord {
	out := make([]model.AdminActionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

// InsertAction appends a privileged operation to the action log.
func (q *Queries) InsertAction(ctx context.Context, a *model.AdminActionRecord) error {
	row := actionRow{
		AdminID:      a.AdminID,
		ActionType:   string(a.ActionType),
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		RiskLevel:    string(a.RiskLevel),
		IPAddress:    a.IPAddress,
		UserAgent:    a.UserAgent,
		Success:      a.Success,
		CreatedAt:    micros(a.CreatedAt),
	}
	id, err := q.insert(ctx, `INSERT INTO admin_actions
		(admin_id, action_type, resource_type, resource_id, risk_level, ip_address, user_agent, success, created_at)
		VALUES (:admin_id, :action_type, :resource_type, :resource_id, :risk_level, :ip_address, :user_agent, :success, :created_at)`, row)
	if err != nil {
		return storeErr("insert action", err)
	}
	a.ID = id
	return nil
}

// ListActionsBetween returns the actions of adminID recorded strictly after
// since and not after until, oldest first.
func (q *Queries) ListActionsBetween(ctx context.Context, adminID string, since, until time.Time) ([]model.AdminActionRecord, error) {
	var rows []actionRow
	if err := q.selectAll(ctx, &rows,
		"SELECT "+actionColumns+" FROM admin_actions WHERE admin_id = ? AND created_at > ? AND created_at <= ? ORDER BY created_at, id",
		adminID, micros(since), micros(until)); err != nil {
		return nil, storeErr("list actions", err)
	}
	return actionsFromRows(rows), nil
}

// ListRecentActions returns up to limit actions of adminID, newest first.
func (q *Queries) ListRecentActions(ctx context.Context, adminID string, limit int) ([]model.AdminActionRecord, error) {
	rows, err := selectLimit[actionRow](ctx, q, limit,
		"SELECT "+actionColumns+" FROM admin_actions WHERE admin_id = ? ORDER BY created_at DESC, id DESC", adminID)
	if err != nil {
		return nil, storeErr("list recent actions", err)
	}
	return actionsFromRows(rows), nil
}

// ---------------------------------------------------------------------------
// Session events
// ---------------------------------------------------------------------------

const eventColumns = "id, event_type, admin_id, token_prefix, ip_address, details, created_at"

type eventRow struct {
	ID          int64  `db:"id"`
	EventType   string `db:"event_type"`
	AdminID     string `db:"admin_id"`
	TokenPrefix string `db:"token_prefix"`
	IPAddress   string `db:"ip_address"`
	Details     string `db:"details"`
	CreatedAt   int64  `db:"created_at"`
}

func (r eventRow) toModel() (model.SessionEvent, error) {
	var details model.EventDetails
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
			return model.SessionEvent{}, fmt.Errorf("unmarshal event details: %w", err)
		}
	}
	return model.SessionEvent{
		ID:          r.ID,
		EventType:   model.SessionEventType(r.EventType),
		AdminID:     r.AdminID,
		TokenPrefix: r.TokenPrefix,
		IPAddress:   r.IPAddress,
		Details:     details,
		CreatedAt:   fromMicros(r.CreatedAt),
	}, nil
}

// InsertEvent appends a session lifecycle event.
func (q *Queries) InsertEvent(ctx context.Context, ev *model.SessionEvent) error {
	details, err := marshalJSON(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	row := eventRow{
		EventType:   string(ev.EventType),
		AdminID:     ev.AdminID,
		TokenPrefix: ev.TokenPrefix,
		IPAddress:   ev.IPAddress,
		Details:     details,
		CreatedAt:   micros(ev.CreatedAt),
	}
	id, err := q.insert(ctx, `INSERT INTO session_events (event_type, admin_id, token_prefix, ip_address, details, created_at)
		VALUES (:event_type, :admin_id, :token_prefix, :ip_address, :details, :created_at)`, row)
	if err != nil {
		return storeErr("insert session event", err)
	}
	ev.ID = id
	return nil
}

// CountEventsSince counts events of one type for adminID recorded strictly
// after since.
func (q *Queries) CountEventsSince(ctx context.Context, adminID string, typ model.SessionEventType, since time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n,
		"SELECT COUNT(*) FROM session_events WHERE admin_id = ? AND event_type = ? AND created_at > ?",
		adminID, string(typ), micros(since))
	if err != nil {
		return 0, storeErr("count session events", err)
	}
	return n, nil
}

// ListEvents returns up to limit events for adminID, newest first. An empty
// adminID lists events for every administrator.
func (q *Queries) ListEvents(ctx context.Context, adminID string, limit int) ([]model.SessionEvent, error) {
	var rows []eventRow
	var err error
	if adminID == "" {
		rows, err = selectLimit[eventRow](ctx, q, limit,
			"SELECT "+eventColumns+" FROM session_events ORDER BY created_at DESC, id DESC")
	} else {
		rows, err = selectLimit[eventRow](ctx, q, limit,
			"SELECT "+eventColumns+" FROM session_events WHERE admin_id = ? ORDER BY created_at DESC, id DESC", adminID)
	}
	if err != nil {
		return nil, storeErr("list session events", err)
	}

	out := make([]model.SessionEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under name.
func (q *Queries) GetSetting(ctx context.Context, name string) (string, error) {
	var v string
	if err := q.get(ctx, &v, "SELECT value FROM settings WHERE name = ?", name); err != nil {
		return "", storeErr("get setting", err)
	}
	return v, nil
}

// SetSetting stores value under name, replacing any previous value. Call
// it inside Tx when concurrent writers of the same name are possible.
func (q *Queries) SetSetting(ctx context.Context, name, value string) error {
	if _, err := q.exec(ctx, "DELETE FROM settings WHERE name = ?", name); err != nil {
		return storeErr("replace setting", err)
	}
	if _, err := q.exec(ctx, "INSERT INTO settings (name, value) VALUES (?, ?)", name, value); err != nil {
		return storeErr("insert setting", err)
	}
	return nil
}

// DeleteSetting removes name. Deleting an absent setting is not an error.
func (q *Queries) DeleteSetting(ctx context.Context, name string) error {
	if _, err := q.exec(ctx, "DELETE FROM settings WHERE name = ?", name); err != nil {
		return storeErr("delete setting", err)
	}
	return nil
}
