// Package ratelimit counts authentication failures per source address in a
// strict trailing window and blocks addresses that reach the threshold.
// Every block is opened together with a block incident.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/keylock"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

// maxIdentityLength matches the indexed column width.
const maxIdentityLength = 191

// Config holds the limiter thresholds.
type Config struct {
	Window        time.Duration
	Threshold     int
	BlockDuration time.Duration
}

// ConfigFrom extracts the limiter settings from the security config.
func ConfigFrom(sc config.SecurityConfig) Config {
	return Config{
		Window:        sc.FailureWindow,
		Threshold:     sc.FailureThreshold,
		BlockDuration: sc.BlockDuration,
	}
}

// Limiter records failures and manages address blocks.
type Limiter struct {
	store   *config.Store
	tracker *incident.Tracker
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config
	locks   *keylock.Locker
}

// New creates a Limiter.
func New(store *config.Store, tracker *incident.Tracker, clk clock.Clock, cfg Config, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:   store,
		tracker: tracker,
		clock:   clk,
		logger:  logger,
		cfg:     cfg,
		locks:   keylock.New(),
	}
}

// RecordFailure appends a failure for ip and reports whether the address is
// blocked afterwards. The threshold-th failure inside the window opens a
// block and its incident; failures while a block is already in force keep
// reporting true without opening another one.
func (l *Limiter) RecordFailure(ctx context.Context, ip string, kind model.FailureKind, identity string) (bool, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		l.logger.Debug("rejected failure report", "ip", ip, "error", err)
		return false, err
	}
	if kind, err = model.ParseFailureKind(string(kind)); err != nil {
		return false, err
	}
	identity = model.TruncateText(identity, maxIdentityLength)

	unlock := l.locks.Lock(addr)
	defer unlock()

	now := l.clock.Now()
	var (
		blocked bool
		opened  *model.IPBlock
		count   int
	)
	err = l.store.Tx(ctx, func(q *config.Queries) error {
		// Other instances sharing the store count against the same rows.
		if err := q.LockKey(ctx, "failures:"+addr); err != nil {
			return err
		}
		rec := &model.AuthFailureRecord{
			IPAddress:         addr,
			AttemptTime:       now,
			FailureKind:       kind,
			IdentityAttempted: identity,
		}
		if err := q.InsertFailure(ctx, rec); err != nil {
			return err
		}

		var err error
		count, err = q.CountFailuresSince(ctx, addr, now.Add(-l.cfg.Window), now)
		if err != nil {
			return err
		}
		if count < l.cfg.Threshold {
			return nil
		}

		blocked = true
		active, err := q.IsBlockedAt(ctx, addr, now)
		if err != nil || active {
			return err
		}

		reason := fmt.Sprintf("%d authentication failures within %s", count, l.cfg.Window)
		inc, err := l.tracker.Create(ctx, q, addr, reason)
		if err != nil {
			return err
		}
		opened = &model.IPBlock{
			IPAddress:    addr,
			BlockedUntil: now.Add(l.cfg.BlockDuration),
			Reason:       reason,
			IncidentID:   inc.IncidentID,
			CreatedAt:    now,
		}
		return q.PutBlock(ctx, opened)
	})
	if err != nil {
		l.logger.Error("record failure", "ip", addr, "error", err)
		return false, err
	}

	metrics.AuthFailures.WithLabelValues(string(kind)).Inc()
	if opened != nil {
		metrics.BlocksCreated.Inc()
		l.logger.Warn("address blocked",
			"ip", addr,
			"failures", count,
			"blocked_until", opened.BlockedUntil,
			"incident_id", opened.IncidentID,
		)
	}
	return blocked, nil
}

// IsBlocked reports whether a block for ip is in force now. Expired rows are
// ignored even before the cleanup sweep removes them.
func (l *Limiter) IsBlocked(ctx context.Context, ip string) (bool, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return false, err
	}
	return l.store.IsBlockedAt(ctx, addr, l.clock.Now())
}

// ActiveBlock returns the block in force for ip, or nil when there is none.
func (l *Limiter) ActiveBlock(ctx context.Context, ip string) (*model.IPBlock, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return nil, err
	}
	b, err := l.store.GetBlock(ctx, addr)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !b.ActiveAt(l.clock.Now()) {
		return nil, nil
	}
	return b, nil
}

// UnblockManual removes the block row for ip and resolves its incident if
// it is still pending. It returns false when nothing was blocked.
func (l *Limiter) UnblockManual(ctx context.Context, ip, operator string) (bool, error) {
	addr, err := model.NormalizeIP(ip)
	if err != nil {
		return false, err
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return false, model.Invalid("operator is required")
	}

	unlock := l.locks.Lock(addr)
	defer unlock()

	now := l.clock.Now()
	var (
		removed  bool
		resolved string
	)
	err = l.store.Tx(ctx, func(q *config.Queries) error {
		b, err := q.GetBlock(ctx, addr)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if removed, err = q.DeleteBlock(ctx, addr); err != nil {
			return err
		}
		if b.IncidentID == "" {
			return nil
		}
		ok, err := q.ResolveIncident(ctx, b.IncidentID, operator, "resolved by manual unblock", now)
		if err != nil {
			return err
		}
		if ok {
			resolved = b.IncidentID
		}
		return nil
	})
	if err != nil {
		l.logger.Error("manual unblock", "ip", addr, "operator", operator, "error", err)
		return false, err
	}

	if removed {
		metrics.BlocksRemoved.WithLabelValues("manual").Inc()
	}
	if resolved != "" {
		metrics.IncidentsResolved.Inc()
	}
	l.logger.Info("manual unblock",
		"ip", addr,
		"operator", operator,
		"removed", removed,
		"incident_id", resolved,
	)
	return removed, nil
}

// CleanupExpiredBlocks deletes every block whose expiry is not in the
// future and returns how many were removed.
func (l *Limiter) CleanupExpiredBlocks(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpiredBlocks(ctx, l.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.BlocksRemoved.WithLabelValues("expired").Add(float64(n))
		l.logger.Info("expired blocks removed", "count", n)
	}
	return n, nil
}

// PurgeFailures deletes failure records at or before cutoff. Cutoffs inside
// the counting window are refused so that purging never lowers a live count.
func (l *Limiter) PurgeFailures(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.After(l.clock.Now().Add(-l.cfg.Window)) {
		return 0, model.Invalid("purge cutoff %s is inside the failure window", cutoff.Format(time.RFC3339))
	}
	n, err := l.store.DeleteFailuresBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("failure records purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// ListBlocks returns block rows, latest expiry first. Expired rows that the
// sweep has not removed yet are included only when includeExpired is set.
func (l *Limiter) ListBlocks(ctx context.Context, includeExpired bool) ([]model.IPBlock, error) {
	blocks, err := l.store.ListBlocks(ctx)
	if err != nil || includeExpired {
		return blocks, err
	}
	now := l.clock.Now()
	active := blocks[:0]
	for _, b := range blocks {
		if b.ActiveAt(now) {
			active = append(active, b)
		}
	}
	return active, nil
}
