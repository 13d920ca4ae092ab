// Package session governs administrator sessions after the credential check:
// creation under a per-role cap, verification against the request
// environment, token rotation, invalidation, the lightweight session anomaly
// check and the rotation-count policy with its trusted-network bypass.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/keylock"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

const (
	tokenBytes     = 32
	minTokenLength = 32
	maxFieldLength = 191
	maxUALength    = 512
)

// Warnings attached to a VerifyResult.
const (
	WarnIPChanged        = "IP address changed"
	WarnUserAgentChanged = "User agent changed"
	WarnSessionTooNew    = "Session is very new"
	WarnVerifierMismatch = "Session verifier mismatch"
)

// Config holds the session policy.
type Config struct {
	MaxSessions      int
	UnlimitedRoles   []string
	ReverifyInterval time.Duration
	MinSessionAge    time.Duration
	SessionTimeout   time.Duration
	IPBinding        bool
	UserAgentBinding bool

	RotationMaxAge         time.Duration
	RotationAlertThreshold int
	RotationLockThreshold  int
	RotationCountWindow    time.Duration
	TrustedNetworks        []*net.IPNet

	RapidCreationThreshold int
	RapidCreationWindow    time.Duration
}

// ConfigFrom extracts the session settings from the security config.
func ConfigFrom(sc config.SecurityConfig) (Config, error) {
	nets, err := config.ParseNetworks(sc.TrustedNetworks)
	if err != nil {
		return Config{}, err
	}
	return Config{
		MaxSessions:            sc.MaxSessionsPerAdmin,
		UnlimitedRoles:         sc.UnlimitedRoles,
		ReverifyInterval:       sc.ReverifyInterval,
		MinSessionAge:          sc.MinSessionAge,
		SessionTimeout:         sc.SessionTimeout,
		IPBinding:              sc.IPBinding,
		UserAgentBinding:       sc.UserAgentBinding,
		RotationMaxAge:         sc.RotationMaxAge,
		RotationAlertThreshold: sc.RotationAlertThreshold,
		RotationLockThreshold:  sc.RotationLockThreshold,
		RotationCountWindow:    sc.RotationCountWindow,
		TrustedNetworks:        nets,
		RapidCreationThreshold: sc.RapidCreationThreshold,
		RapidCreationWindow:    sc.RapidCreationWindow,
	}, nil
}

// Manager implements the session operations on top of the store.
type Manager struct {
	store  *config.Store
	clock  clock.Clock
	cfg    Config
	cache  *VerifyCache
	logger *slog.Logger
	locks  *keylock.Locker
}

// NewManager creates a Manager. cache may be nil, in which case every
// verification reads the store.
func NewManager(store *config.Store, clk clock.Clock, cfg Config, cache *VerifyCache, logger *slog.Logger) *Manager {
	if cfg.ReverifyInterval <= 0 {
		cache = nil
	}
	return &Manager{
		store:  store,
		clock:  clk,
		cfg:    cfg,
		cache:  cache,
		logger: logger,
		locks:  keylock.New(),
	}
}

// NewToken returns a fresh unguessable session token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (m *Manager) isUnlimited(role string) bool {
	for _, r := range m.cfg.UnlimitedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (m *Manager) expired(s *model.AdminSession, now time.Time) bool {
	return now.Sub(s.CreatedAt) > m.cfg.SessionTimeout
}

// rotationBase is the instant the current token was issued.
func rotationBase(s *model.AdminSession) time.Time {
	if s.Flags.RotatedAt != nil {
		return *s.Flags.RotatedAt
	}
	return s.CreatedAt
}

func truncate(s string, n int) string {
	return model.TruncateText(s, n)
}

// verifierDigest hashes a verifier so that comparisons run over equal
// length inputs and the cache never holds the raw secret.
func verifierDigest(verifier string) []byte {
	sum := sha256.Sum256([]byte(verifier))
	return sum[:]
}

func verifierMatches(stored, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(verifierDigest(stored), verifierDigest(presented)) == 1
}

// DefaultFlags returns the binding flags of a session created without
// overrides.
func (m *Manager) DefaultFlags() model.SecurityFlags {
	return model.SecurityFlags{IPBinding: m.cfg.IPBinding, UserAgentBinding: m.cfg.UserAgentBinding}
}

// CreateSession opens a session for an identity that just passed the
// credential check. For roles outside the unlimited set the oldest sessions
// of the administrator are evicted so that, including the new one, at most
// MaxSessions remain.
func (m *Manager) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.AdminSession, error) {
	adminID := strings.TrimSpace(req.AdminID)
	if adminID == "" || len(adminID) > maxFieldLength {
		return nil, model.Invalid("admin id is required and must be at most %d characters", maxFieldLength)
	}
	ip, err := model.NormalizeIP(req.IPAddress)
	if err != nil {
		return nil, err
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	verifier, err := NewToken()
	if err != nil {
		return nil, err
	}

	flags := m.DefaultFlags()
	if req.Flags != nil {
		flags = *req.Flags
	}

	now := m.clock.Now()
	sess := &model.AdminSession{
		Token:             token,
		AdminID:           adminID,
		Role:              truncate(req.Role, maxFieldLength),
		IPAddress:         ip,
		UserAgent:         truncate(req.UserAgent, maxUALength),
		CreatedAt:         now,
		LastVerifiedAt:    now,
		IsActive:          true,
		Flags:             flags,
		VerificationToken: verifier,
	}

	unlock := m.locks.Lock(adminID)
	defer unlock()

	var evicted []model.AdminSession
	err = m.store.Tx(ctx, func(q *config.Queries) error {
		if err := q.LockKey(ctx, "sessions:"+adminID); err != nil {
			return err
		}
		if !m.isUnlimited(sess.Role) {
			active, err := q.ListActiveSessions(ctx, adminID)
			if err != nil {
				return err
			}
			for i := 0; len(active)-i > m.cfg.MaxSessions-1; i++ {
				old := active[i]
				if _, err := q.DeleteSession(ctx, old.Token); err != nil {
					return err
				}
				if err := q.InsertEvent(ctx, &model.SessionEvent{
					EventType:   model.EventSessionEvicted,
					AdminID:     adminID,
					TokenPrefix: old.TokenPrefix(),
					IPAddress:   old.IPAddress,
					Details:     model.EventDetails{Reason: "session cap reached"},
					CreatedAt:   now,
				}); err != nil {
					return err
				}
				evicted = append(evicted, old)
			}
		}
		if err := q.InsertSession(ctx, sess); err != nil {
			return err
		}
		return q.InsertEvent(ctx, &model.SessionEvent{
			EventType:   model.EventSessionCreated,
			AdminID:     adminID,
			TokenPrefix: sess.TokenPrefix(),
			IPAddress:   ip,
			CreatedAt:   now,
		})
	})
	if err != nil {
		m.logger.Error("create session", "admin_id", adminID, "error", err)
		return nil, err
	}

	for _, old := range evicted {
		m.forget(old.Token)
	}
	metrics.SessionsCreated.Inc()
	if len(evicted) > 0 {
		metrics.SessionsEvicted.Add(float64(len(evicted)))
		m.logger.Info("sessions evicted", "admin_id", adminID, "count", len(evicted))
	}
	m.logger.Info("session created", "admin_id", adminID, "ip", ip, "token", sess.TokenPrefix())
	return sess, nil
}

// VerifySession checks token and its verifier against the request
// environment. It returns ErrNotFound for unknown, inactive or expired
// sessions. A verifier or binding failure is reported as Valid=false with a
// nil error.
func (m *Manager) VerifySession(ctx context.Context, token, verifier, ip, userAgent string) (*model.VerifyResult, error) {
	if token == "" {
		return nil, model.ErrNotFound
	}
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return nil, err
	}
	userAgent = truncate(userAgent, maxUALength)
	now := m.clock.Now()

	if res := m.cached(token, verifier, addr, userAgent, now); res != nil {
		metrics.RecordVerification(true, string(res.RiskLevel), true)
		return res, nil
	}

	sess, err := m.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive || m.expired(sess, now) {
		return nil, model.ErrNotFound
	}

	res := &model.VerifyResult{
		Valid:       true,
		RiskLevel:   model.RiskLow,
		Warnings:    []string{},
		RotationDue: now.Sub(rotationBase(sess)) >= m.cfg.RotationMaxAge,
		AdminID:     sess.AdminID,
		Role:        sess.Role,
	}

	if !verifierMatches(sess.VerificationToken, verifier) {
		// The token is known but the verifier is not: the token was replayed.
		res.Valid = false
		res.RiskLevel = model.RiskHigh
		res.Warnings = append(res.Warnings, WarnVerifierMismatch)
	}
	if sess.Flags.IPBinding && sess.IPAddress != addr {
		res.Valid = false
		res.RiskLevel = model.RiskHigh
		res.Warnings = append(res.Warnings, WarnIPChanged)
	}
	if sess.Flags.UserAgentBinding && sess.UserAgent != userAgent {
		res.RiskLevel = res.RiskLevel.Max(model.RiskMedium)
		res.Warnings = append(res.Warnings, WarnUserAgentChanged)
	}
	if now.Sub(sess.CreatedAt) < m.cfg.MinSessionAge {
		res.RiskLevel = res.RiskLevel.Max(model.RiskMedium)
		res.Warnings = append(res.Warnings, WarnSessionTooNew)
	}

	metrics.RecordVerification(res.Valid, string(res.RiskLevel), false)

	if !res.Valid {
		m.logger.Warn("session verification failed",
			"warnings", res.Warnings,
			"admin_id", sess.AdminID,
			"token", sess.TokenPrefix(),
			"bound_ip", sess.IPAddress,
			"ip", addr,
		)
		m.event(ctx, &model.SessionEvent{
			EventType:   model.EventSessionAnomaly,
			AdminID:     sess.AdminID,
			TokenPrefix: sess.TokenPrefix(),
			IPAddress:   addr,
			Details:     model.EventDetails{Reason: strings.Join(res.Warnings, "; ")},
			CreatedAt:   now,
		})
		return res, nil
	}

	if err := m.store.TouchSession(ctx, token, now); err != nil {
		return nil, err
	}
	if len(res.Warnings) > 0 {
		m.event(ctx, &model.SessionEvent{
			EventType:   model.EventSessionVerified,
			AdminID:     sess.AdminID,
			TokenPrefix: sess.TokenPrefix(),
			IPAddress:   addr,
			Details:     model.EventDetails{Reason: strings.Join(res.Warnings, "; ")},
			CreatedAt:   now,
		})
		return res, nil
	}

	if m.cache != nil {
		err := m.cache.put(token, cacheEntry{
			AdminID:    sess.AdminID,
			Role:       sess.Role,
			IPAddress:  addr,
			UserAgent:  userAgent,
			Verifier:   hex.EncodeToString(verifierDigest(verifier)),
			CreatedAt:  sess.CreatedAt.UnixMicro(),
			RotationAt: rotationBase(sess).UnixMicro(),
			VerifiedAt: now.UnixMicro(),
		})
		if err != nil {
			m.logger.Warn("verify cache write failed", "error", err)
		}
	}
	return res, nil
}

// cached returns a clean result when token was verified in the same
// environment within the re-verification interval.
func (m *Manager) cached(token, verifier, ip, userAgent string, now time.Time) *model.VerifyResult {
	if m.cache == nil {
		return nil
	}
	e, err := m.cache.get(token)
	if err != nil {
		m.logger.Warn("verify cache read failed", "error", err)
		return nil
	}
	if e == nil || e.IPAddress != ip || e.UserAgent != userAgent {
		return nil
	}
	want, err := hex.DecodeString(e.Verifier)
	if err != nil || verifier == "" || subtle.ConstantTimeCompare(want, verifierDigest(verifier)) != 1 {
		return nil
	}
	verifiedAt := time.UnixMicro(e.VerifiedAt)
	if now.Before(verifiedAt) || now.Sub(verifiedAt) >= m.cfg.ReverifyInterval {
		return nil
	}
	if now.Sub(time.UnixMicro(e.CreatedAt)) > m.cfg.SessionTimeout {
		return nil
	}
	return &model.VerifyResult{
		Valid:       true,
		RiskLevel:   model.RiskLow,
		Warnings:    []string{},
		RotationDue: now.Sub(time.UnixMicro(e.RotationAt)) >= m.cfg.RotationMaxAge,
		Cached:      true,
		AdminID:     e.AdminID,
		Role:        e.Role,
	}
}

func (m *Manager) forget(token string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.forget(token); err != nil {
		m.logger.Warn("verify cache delete failed", "error", err)
	}
}

// event records a session event outside any transaction. Failures are
// logged, not returned: the event log is not part of the access decision.
func (m *Manager) event(ctx context.Context, ev *model.SessionEvent) {
	if err := m.store.InsertEvent(ctx, ev); err != nil {
		m.logger.Error("record session event", "event", ev.EventType, "admin_id", ev.AdminID, "error", err)
	}
}

// RotateSessionID moves the session stored under oldToken to newToken in a
// single transaction: the old row is deleted and a new one inserted with
// the rotation recorded in its security flags. It returns false when the old
// session does not exist.
func (m *Manager) RotateSessionID(ctx context.Context, oldToken, newToken string, reason model.RotationReason) (bool, error) {
	rotated, err := m.rotate(ctx, oldToken, newToken, reason, "")
	return rotated != nil, err
}

// rotate performs the rotation and returns the new session row, or nil when
// the old session does not exist. A non-empty signature marks an anomaly
// rotation: it is skipped, also returning nil, when the session was already
// rotated for the same signature.
func (m *Manager) rotate(ctx context.Context, oldToken, newToken string, reason model.RotationReason, signature string) (*model.AdminSession, error) {
	if len(newToken) < minTokenLength || newToken == oldToken {
		return nil, model.Invalid("new session token must be at least %d characters and differ from the old one", minTokenLength)
	}
	if _, err := model.ParseRotationReason(string(reason)); err != nil {
		return nil, err
	}
	if oldToken == "" {
		return nil, nil
	}

	now := m.clock.Now()
	var rotated *model.AdminSession
	err := m.store.Tx(ctx, func(q *config.Queries) error {
		old, err := q.GetSession(ctx, oldToken)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !old.IsActive {
			return nil
		}
		if signature != "" && old.Flags.AnomalySignature == signature {
			return nil
		}

		next := *old
		next.Token = newToken
		next.LastVerifiedAt = now
		if next.VerificationToken, err = NewToken(); err != nil {
			return err
		}
		rotatedAt := now
		next.Flags.Rotated = true
		next.Flags.RotatedAt = &rotatedAt
		next.Flags.RotationReason = reason
		next.Flags.PreviousTokenPrefix = old.TokenPrefix()
		next.Flags.RotationCount++
		if signature != "" {
			next.Flags.AnomalySignature = signature
		}

		if _, err := q.DeleteSession(ctx, oldToken); err != nil {
			return err
		}
		if err := q.InsertSession(ctx, &next); err != nil {
			return err
		}
		if err := q.InsertEvent(ctx, &model.SessionEvent{
			EventType:   model.EventSessionRotated,
			AdminID:     next.AdminID,
			TokenPrefix: next.TokenPrefix(),
			IPAddress:   next.IPAddress,
			Details: model.EventDetails{
				RotationReason:      reason,
				PreviousTokenPrefix: old.TokenPrefix(),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		rotated = &next
		return nil
	})
	if err != nil {
		m.logger.Error("rotate session", "error", err)
		return nil, err
	}
	if rotated == nil {
		return nil, nil
	}

	m.forget(oldToken)
	metrics.SessionRotations.WithLabelValues(string(reason)).Inc()
	m.logger.Info("session rotated",
		"admin_id", rotated.AdminID,
		"reason", reason,
		"previous", rotated.Flags.PreviousTokenPrefix,
		"token", rotated.TokenPrefix(),
		"rotation_count", rotated.Flags.RotationCount,
	)
	return rotated, nil
}

// Rotate replaces oldToken with a freshly generated token and returns the
// new token with its new verifier. It returns ErrNotFound when the old
// session does not exist.
func (m *Manager) Rotate(ctx context.Context, oldToken string, reason model.RotationReason) (*model.SessionCredentials, error) {
	newToken, err := NewToken()
	if err != nil {
		return nil, err
	}
	rotated, err := m.rotate(ctx, oldToken, newToken, reason, "")
	if err != nil {
		return nil, err
	}
	if rotated == nil {
		return nil, model.ErrNotFound
	}
	creds := rotated.Credentials()
	return &creds, nil
}

// RotateForAnomaly rotates token because the session anomaly check raised
// anomalies. A session is rotated once per distinct set of anomalies, so a
// condition that persists across requests does not churn the token or run
// up the rotation count. It returns nil credentials when no rotation took
// place.
func (m *Manager) RotateForAnomaly(ctx context.Context, token string, anomalies []model.SessionAnomalyType) (*model.SessionCredentials, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}
	types := make([]string, len(anomalies))
	for i, a := range anomalies {
		types[i] = string(a)
	}
	sort.Strings(types)

	newToken, err := NewToken()
	if err != nil {
		return nil, err
	}
	rotated, err := m.rotate(ctx, token, newToken, model.RotationAnomaly, strings.Join(types, ","))
	if err != nil || rotated == nil {
		return nil, err
	}
	creds := rotated.Credentials()
	return &creds, nil
}

// InvalidateSession deletes one session. It returns false when the session
// does not exist.
func (m *Manager) InvalidateSession(ctx context.Context, token, reason string) (bool, error) {
	if token == "" {
		return false, nil
	}
	now := m.clock.Now()
	var sess *model.AdminSession
	err := m.store.Tx(ctx, func(q *config.Queries) error {
		s, err := q.GetSession(ctx, token)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := q.DeleteSession(ctx, token); err != nil {
			return err
		}
		sess = s
		return q.InsertEvent(ctx, &model.SessionEvent{
			EventType:   model.EventSessionInvalidated,
			AdminID:     s.AdminID,
			TokenPrefix: s.TokenPrefix(),
			IPAddress:   s.IPAddress,
			Details:     model.EventDetails{Reason: reason},
			CreatedAt:   now,
		})
	})
	if err != nil {
		m.logger.Error("invalidate session", "error", err)
		return false, err
	}
	m.forget(token)
	if sess == nil {
		return false, nil
	}

	metrics.SessionsInvalidated.WithLabelValues("single").Inc()
	m.logger.Info("session invalidated", "admin_id", sess.AdminID, "token", sess.TokenPrefix(), "reason", reason)
	return true, nil
}

// InvalidateAdminSessions deletes every session of adminID and returns how
// many were removed. It backs the forced logout after a critical anomaly
// alert.
func (m *Manager) InvalidateAdminSessions(ctx context.Context, adminID, reason string) (int64, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return 0, model.Invalid("admin id is required")
	}
	now := m.clock.Now()
	var removed []model.AdminSession
	err := m.store.Tx(ctx, func(q *config.Queries) error {
		if err := q.LockKey(ctx, "sessions:"+adminID); err != nil {
			return err
		}
		active, err := q.ListActiveSessions(ctx, adminID)
		if err != nil {
			return err
		}
		for _, s := range active {
			ok, err := q.DeleteSession(ctx, s.Token)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := q.InsertEvent(ctx, &model.SessionEvent{
				EventType:   model.EventSessionInvalidated,
				AdminID:     adminID,
				TokenPrefix: s.TokenPrefix(),
				IPAddress:   s.IPAddress,
				Details:     model.EventDetails{Reason: reason},
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			removed = append(removed, s)
		}
		return nil
	})
	if err != nil {
		m.logger.Error("invalidate admin sessions", "admin_id", adminID, "error", err)
		return 0, err
	}

	for _, s := range removed {
		m.forget(s.Token)
	}
	n := int64(len(removed))
	if n > 0 {
		metrics.SessionsInvalidated.WithLabelValues("admin").Add(float64(n))
		m.logger.Warn("administrator sessions invalidated", "admin_id", adminID, "count", n, "reason", reason)
	}
	return n, nil
}

// InvalidateAllSessions deletes every session and returns how many were
// removed. It backs the scheduled mass logout.
func (m *Manager) InvalidateAllSessions(ctx context.Context, reason string) (int64, error) {
	now := m.clock.Now()
	var n int64
	err := m.store.Tx(ctx, func(q *config.Queries) error {
		all, err := q.ListActiveSessions(ctx, "")
		if err != nil {
			return err
		}
		if n, err = q.DeleteAllSessions(ctx); err != nil {
			return err
		}
		for _, s := range all {
			if err := q.InsertEvent(ctx, &model.SessionEvent{
				EventType:   model.EventSessionInvalidated,
				AdminID:     s.AdminID,
				TokenPrefix: s.TokenPrefix(),
				IPAddress:   s.IPAddress,
				Details:     model.EventDetails{Reason: reason},
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("invalidate all sessions", "error", err)
		return 0, err
	}

	if m.cache != nil {
		if err := m.cache.Purge(); err != nil {
			m.logger.Warn("verify cache purge failed", "error", err)
		}
	}
	metrics.SessionsInvalidated.WithLabelValues("all").Add(float64(n))
	m.logger.Warn("all sessions invalidated", "count", n, "reason", reason)
	return n, nil
}

// ListSessions returns the live sessions of adminID (every administrator
// when empty), oldest first. Expired rows awaiting the purge are omitted.
func (m *Manager) ListSessions(ctx context.Context, adminID string) ([]model.AdminSession, error) {
	all, err := m.store.ListActiveSessions(ctx, strings.TrimSpace(adminID))
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	live := make([]model.AdminSession, 0, len(all))
	for i := range all {
		if !m.expired(&all[i], now) {
			live = append(live, all[i])
		}
	}
	return live, nil
}

// PurgeExpiredSessions deletes sessions older than the session timeout.
func (m *Manager) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteSessionsCreatedBefore(ctx, m.clock.Now().Add(-m.cfg.SessionTimeout-time.Microsecond))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("expired sessions purged", "count", n)
	}
	return n, nil
}
