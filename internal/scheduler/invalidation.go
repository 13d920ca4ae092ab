package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/metrics"
	"github.com/faucetdb/adminguard/internal/model"
)

// SettingMassInvalidation is the settings key holding the pending mass
// invalidation time (RFC 3339, UTC).
const SettingMassInvalidation = "mass_invalidation_at"

const (
	defaultPoll       = 30 * time.Second
	invalidationCause = "scheduled mass invalidation"
)

// SessionInvalidator ends every session.
type SessionInvalidator interface {
	InvalidateAllSessions(ctx context.Context, reason string) (int64, error)
}

// InvalidationService fires a one-shot mass session invalidation at an
// operator-chosen time. The schedule lives in the settings table, so it
// survives restarts and is visible to every instance sharing the store.
// Setting a new time replaces the previous one.
type InvalidationService struct {
	store    *config.Store
	sessions SessionInvalidator
	clock    clock.Clock
	poll     time.Duration
	wake     chan struct{}
	logger   *slog.Logger
}

// NewInvalidationService creates the service. poll bounds how long the
// loop sleeps before re-reading the schedule; zero means 30 seconds.
func NewInvalidationService(store *config.Store, sessions SessionInvalidator, clk clock.Clock, poll time.Duration, logger *slog.Logger) *InvalidationService {
	if poll <= 0 {
		poll = defaultPoll
	}
	return &InvalidationService{
		store:    store,
		sessions: sessions,
		clock:    clk,
		poll:     poll,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Schedule sets the invalidation time, replacing any earlier schedule.
// The time must be in the future.
func (s *InvalidationService) Schedule(ctx context.Context, at time.Time) error {
	if !at.After(s.clock.Now()) {
		return model.Invalid("invalidation time %s is not in the future", at.Format(time.RFC3339))
	}
	if err := s.store.SetSetting(ctx, SettingMassInvalidation, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	s.logger.Info("mass invalidation scheduled", "at", at.UTC())
	s.nudge()
	return nil
}

// Clear removes the pending schedule. It returns false when nothing was
// scheduled.
func (s *InvalidationService) Clear(ctx context.Context) (bool, error) {
	at, err := s.Scheduled(ctx)
	if err != nil || at == nil {
		return false, err
	}
	if err := s.store.DeleteSetting(ctx, SettingMassInvalidation); err != nil {
		return false, err
	}
	s.logger.Info("mass invalidation cleared", "was", at)
	s.nudge()
	return true, nil
}

// Scheduled returns the pending invalidation time, or nil.
func (s *InvalidationService) Scheduled(ctx context.Context) (*time.Time, error) {
	raw, err := s.store.GetSetting(ctx, SettingMassInvalidation)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, model.Invalid("stored invalidation time %q: %v", raw, err)
	}
	return &at, nil
}

// Tick fires the invalidation if it is due. It reports whether it fired and
// how many sessions were removed. The schedule is consumed only after the
// sweep succeeds, and only if nobody replaced it in the meantime.
func (s *InvalidationService) Tick(ctx context.Context) (bool, int64, error) {
	at, err := s.Scheduled(ctx)
	if err != nil || at == nil || at.After(s.clock.Now()) {
		return false, 0, err
	}

	n, err := s.sessions.InvalidateAllSessions(ctx, invalidationCause)
	metrics.RecordJob("mass_invalidation", err)
	if err != nil {
		return false, 0, err
	}

	fired := at.UTC().Format(time.RFC3339Nano)
	err = s.store.Tx(ctx, func(q *config.Queries) error {
		cur, err := q.GetSetting(ctx, SettingMassInvalidation)
		if errors.Is(err, model.ErrNotFound) || (err == nil && cur != fired) {
			return nil
		}
		if err != nil {
			return err
		}
		return q.DeleteSetting(ctx, SettingMassInvalidation)
	})
	if err != nil {
		s.logger.Error("consume invalidation schedule", "error", err)
		return true, n, err
	}
	s.logger.Warn("scheduled mass invalidation fired", "scheduled_at", at, "sessions", n)
	return true, n, nil
}

// nextWait is how long Serve sleeps before the next Tick.
func (s *InvalidationService) nextWait(ctx context.Context) time.Duration {
	at, err := s.Scheduled(ctx)
	if err != nil || at == nil {
		return s.poll
	}
	d := at.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	if d > s.poll {
		return s.poll
	}
	return d
}

func (s *InvalidationService) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Serve implements suture.Service. A schedule persisted before a restart is
// picked up on the first iteration.
func (s *InvalidationService) Serve(ctx context.Context) error {
	if at, err := s.Scheduled(ctx); err == nil && at != nil {
		s.logger.Info("pending mass invalidation", "at", at)
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
			if _, _, err := s.Tick(ctx); err != nil {
				s.logger.Error("mass invalidation tick", "error", err)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWait(ctx))
	}
}

func (s *InvalidationService) String() string { return "mass-invalidation" }
