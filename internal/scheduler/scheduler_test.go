package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/model"
	"github.com/faucetdb/adminguard/internal/ratelimit"
	"github.com/faucetdb/adminguard/internal/session"
)

var start = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *config.Store
	clock    *clock.Fake
	limiter  *ratelimit.Limiter
	sessions *session.Manager
	cleanup  *CleanupService
	inval    *InvalidationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(start)
	sc := config.DefaultSecurityConfig()

	scfg, err := session.ConfigFrom(sc)
	if err != nil {
		t.Fatalf("session.ConfigFrom: %v", err)
	}
	mgr := session.NewManager(s, clk, scfg, nil, logger)
	lim := ratelimit.New(s, incident.NewTracker(s, clk, logger), clk, ratelimit.ConfigFrom(sc), logger)

	return &fixture{
		store:    s,
		clock:    clk,
		limiter:  lim,
		sessions: mgr,
		cleanup:  NewCleanupService(lim, mgr, clk, sc.CleanupInterval, sc.FailureRetention, logger),
		inval:    NewInvalidationService(s, mgr, clk, time.Second, logger),
	}
}

func (f *fixture) login(t *testing.T, adminID string) *model.AdminSession {
	t.Helper()
	sess, err := f.sessions.CreateSession(context.Background(), model.CreateSessionRequest{
		AdminID:   adminID,
		Role:      "admin",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestCleanupSweepsExpiredState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.limiter.RecordFailure(ctx, "198.51.100.9", model.FailureInvalidCredentials, "root"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	f.login(t, "ops@example.com")

	res, err := f.cleanup.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res != (CleanupResult{}) {
		t.Errorf("nothing should be swept yet, got %+v", res)
	}

	// Past block expiry, failure retention and session timeout.
	f.clock.Advance(8 * 24 * time.Hour)
	res, err = f.cleanup.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Blocks != 1 || res.Failures != 5 || res.Sessions != 1 {
		t.Errorf("got %+v, want 1 block, 5 failures, 1 session", res)
	}
}

func TestCleanupJoinsStepErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("store down")
	svc := NewCleanupService(failingSweeper{err: boom}, nil, clock.NewFake(start), 0, 0, logger)
	if _, err := svc.Tick(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected the step error, got %v", err)
	}
	if svc.interval != 5*time.Minute || svc.retention != 7*24*time.Hour {
		t.Errorf("defaults not applied: %s / %s", svc.interval, svc.retention)
	}
}

type failingSweeper struct{ err error }

func (s failingSweeper) CleanupExpiredBlocks(context.Context) (int64, error) { return 0, s.err }

func (s failingSweeper) PurgeFailures(context.Context, time.Time) (int64, error) { return 0, s.err }

func TestScheduleRejectsPastTime(t *testing.T) {
	f := newFixture(t)
	if err := f.inval.Schedule(context.Background(), start); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMassInvalidationFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "ops@example.com")
	f.login(t, "sec@example.com")

	at := start.Add(time.Hour)
	if err := f.inval.Schedule(ctx, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	fired, _, err := f.inval.Tick(ctx)
	if err != nil || fired {
		t.Fatalf("early tick fired=%v err=%v", fired, err)
	}

	f.clock.Set(at)
	fired, n, err := f.inval.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !fired || n != 2 {
		t.Errorf("fired=%v n=%d, want true and 2", fired, n)
	}
	if got, _ := f.inval.Scheduled(ctx); got != nil {
		t.Errorf("schedule should be consumed, still %v", got)
	}

	f.login(t, "ops@example.com")
	f.clock.Advance(time.Hour)
	if fired, _, _ := f.inval.Tick(ctx); fired {
		t.Error("a consumed schedule must not fire again")
	}
	if live, _ := f.sessions.ListSessions(ctx, ""); len(live) != 1 {
		t.Errorf("post-fire login should survive, got %d sessions", len(live))
	}
}

func TestNewScheduleSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "ops@example.com")

	if err := f.inval.Schedule(ctx, start.Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	later := start.Add(3 * time.Hour)
	if err := f.inval.Schedule(ctx, later); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	f.clock.Set(start.Add(2 * time.Hour))
	if fired, _, _ := f.inval.Tick(ctx); fired {
		t.Error("replaced schedule fired")
	}
	got, err := f.inval.Scheduled(ctx)
	if err != nil || got == nil || !got.Equal(later) {
		t.Errorf("Scheduled = %v, %v; want %v", got, err, later)
	}
}

func TestClearSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if cleared, err := f.inval.Clear(ctx); err != nil || cleared {
		t.Errorf("clearing nothing: %v, %v", cleared, err)
	}
	if err := f.inval.Schedule(ctx, start.Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if cleared, err := f.inval.Clear(ctx); err != nil || !cleared {
		t.Errorf("Clear = %v, %v", cleared, err)
	}

	f.login(t, "ops@example.com")
	f.clock.Advance(2 * time.Hour)
	if fired, _, _ := f.inval.Tick(ctx); fired {
		t.Error("cleared schedule fired")
	}
}

func TestScheduleSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := start.Add(time.Hour)
	if err := f.inval.Schedule(ctx, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	restarted := NewInvalidationService(f.store, f.sessions, f.clock, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	got, err := restarted.Scheduled(ctx)
	if err != nil || got == nil || !got.Equal(at) {
		t.Fatalf("Scheduled after restart = %v, %v", got, err)
	}
	f.clock.Set(at.Add(time.Second))
	if fired, _, err := restarted.Tick(ctx); err != nil || !fired {
		t.Errorf("restarted service should fire: %v, %v", fired, err)
	}
}

func TestNextWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.inval.nextWait(ctx); got != time.Second {
		t.Errorf("no schedule: wait %s, want poll interval", got)
	}
	if err := f.inval.Schedule(ctx, start.Add(500*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := f.inval.nextWait(ctx); got != 500*time.Millisecond {
		t.Errorf("near schedule: wait %s", got)
	}
	f.clock.Advance(time.Minute)
	if got := f.inval.nextWait(ctx); got != 0 {
		t.Errorf("overdue schedule: wait %s, want 0", got)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.inval.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
