package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/metrics"
)

// BlockSweeper removes expired blocks and old failure records.
type BlockSweeper interface {
	CleanupExpiredBlocks(ctx context.Context) (int64, error)
	PurgeFailures(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweeper removes sessions past their timeout.
type SessionSweeper interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// CleanupResult counts what one sweep removed.
type CleanupResult struct {
	Blocks   int64 `json:"blocks"`
	Failures int64 `json:"failures"`
	Sessions int64 `json:"sessions"`
}

// CleanupService periodically sweeps expired blocks, failure records older
// than the retention period, and timed-out sessions.
type CleanupService struct {
	blocks    BlockSweeper
	sessions  SessionSweeper
	clock     clock.Clock
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewCleanupService creates the sweep service. interval defaults to five
// minutes and retention to seven days.
func NewCleanupService(blocks BlockSweeper, sessions SessionSweeper, clk clock.Clock, interval, retention time.Duration, logger *slog.Logger) *CleanupService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupService{
		blocks:    blocks,
		sessions:  sessions,
		clock:     clk,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Tick runs one sweep. Each step runs even if an earlier one failed; the
// failures are joined.
func (s *CleanupService) Tick(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	var errs []error

	n, err := s.blocks.CleanupExpiredBlocks(ctx)
	metrics.RecordJob("block_cleanup", err)
	if err != nil {
		errs = append(errs, err)
	}
	res.Blocks = n

	n, err = s.blocks.PurgeFailures(ctx, s.clock.Now().Add(-s.retention))
	metrics.RecordJob("failure_purge", err)
	if err != nil {
		errs = append(errs, err)
	}
	res.Failures = n

	if s.sessions != nil {
		n, err = s.sessions.PurgeExpiredSessions(ctx)
		metrics.RecordJob("session_purge", err)
		if err != nil {
			errs = append(errs, err)
		}
		res.Sessions = n
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("cleanup sweep", "error", err)
		return res, err
	}
	s.logger.Debug("cleanup sweep", "blocks", res.Blocks, "failures", res.Failures, "sessions", res.Sessions)
	return res, nil
}

// Serve implements suture.Service. A failed sweep is logged and retried on
// the next tick rather than restarting the service.
func (s *CleanupService) Serve(ctx context.Context) error {
	s.logger.Info("cleanup service started", "interval", s.interval, "retention", s.retention)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.Tick(ctx)
		}
	}
}

func (s *CleanupService) String() string { return "cleanup" }
