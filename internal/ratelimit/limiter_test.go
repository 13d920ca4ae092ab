package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/model"
)

var start = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	limiter *Limiter
	tracker *incident.Tracker
	store   *config.Store
	clock   *clock.Fake
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
	tr := incident.NewTracker(s, clk, logger)
	l := New(s, tr, clk, ConfigFrom(config.DefaultSecurityConfig()), logger)
	return &fixture{limiter: l, tracker: tr, store: s, clock: clk}
}

func TestFifthFailureBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.7"

	var got []bool
	for i := 0; i < 5; i++ {
		blocked, err := f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "ops@example.com")
		if err != nil {
			t.Fatalf("RecordFailure #%d: %v", i+1, err)
		}
		got = append(got, blocked)
		if i < 4 {
			f.clock.Advance(2*time.Minute + 15*time.Second)
		}
	}

	want := []bool{false, false, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RecordFailure results = %v, want %v", got, want)
		}
	}

	blocked, err := f.limiter.IsBlocked(ctx, ip)
	if err != nil || !blocked {
		t.Fatalf("IsBlocked = %v, %v", blocked, err)
	}

	pending, _ := f.tracker.ListPending(ctx, 10)
	if len(pending) != 1 || pending[0].IPAddress != ip || pending[0].Resolved {
		t.Fatalf("pending incidents = %+v", pending)
	}

	b, err := f.limiter.ActiveBlock(ctx, ip)
	if err != nil || b == nil {
		t.Fatalf("ActiveBlock = %v, %v", b, err)
	}
	if b.IncidentID != pending[0].IncidentID {
		t.Errorf("block incident %q does not match %q", b.IncidentID, pending[0].IncidentID)
	}
	if !b.BlockedUntil.Equal(f.clock.Now().Add(30 * time.Minute)) {
		t.Errorf("BlockedUntil = %v", b.BlockedUntil)
	}
}

func TestFailureAtWindowEdgeIsExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "198.51.100.1"

	f.limiter.RecordFailure(ctx, ip, model.FailureInvalidOTP, "")
	f.clock.Advance(10 * time.Minute)

	// The first failure is now exactly one window old and no longer counts.
	for i := 0; i < 4; i++ {
		blocked, err := f.limiter.RecordFailure(ctx, ip, model.FailureInvalidOTP, "")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if blocked {
			t.Fatalf("failure %d blocked, window edge should be excluded", i+2)
		}
	}
	blocked, _ := f.limiter.RecordFailure(ctx, ip, model.FailureInvalidOTP, "")
	if !blocked {
		t.Error("fifth failure inside the window should block")
	}
}

func TestFailuresDuringBlockDoNotOpenNewIncidents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.9"

	for i := 0; i < 7; i++ {
		f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
	}
	incidents, _ := f.tracker.ListByIP(ctx, ip)
	if len(incidents) != 1 {
		t.Errorf("got %d incidents, want 1", len(incidents))
	}
}

func TestBlockExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.10"

	for i := 0; i < 5; i++ {
		f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
	}
	f.clock.Advance(30 * time.Minute)

	blocked, err := f.limiter.IsBlocked(ctx, ip)
	if err != nil || blocked {
		t.Errorf("IsBlocked after expiry = %v, %v", blocked, err)
	}
	if b, _ := f.limiter.ActiveBlock(ctx, ip); b != nil {
		t.Errorf("ActiveBlock after expiry = %+v", b)
	}

	// Expired row is still present until cleanup.
	all, _ := f.limiter.ListBlocks(ctx, true)
	active, _ := f.limiter.ListBlocks(ctx, false)
	if len(all) != 1 || len(active) != 0 {
		t.Errorf("ListBlocks all=%d active=%d", len(all), len(active))
	}

	n, err := f.limiter.CleanupExpiredBlocks(ctx)
	if err != nil || n != 1 {
		t.Errorf("CleanupExpiredBlocks = %d, %v", n, err)
	}
	n, _ = f.limiter.CleanupExpiredBlocks(ctx)
	if n != 0 {
		t.Errorf("second cleanup removed %d", n)
	}
}

func TestReblockAfterExpiryOpensNewIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.11"

	for i := 0; i < 5; i++ {
		f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
	}
	f.clock.Advance(31 * time.Minute)
	for i := 0; i < 5; i++ {
		f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
	}

	incidents, _ := f.tracker.ListByIP(ctx, ip)
	if len(incidents) != 2 {
		t.Errorf("got %d incidents, want 2", len(incidents))
	}
	if blocked, _ := f.limiter.IsBlocked(ctx, ip); !blocked {
		t.Error("address should be blocked again")
	}
}

func TestUnblockManualIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.7"

	for i := 0; i < 5; i++ {
		f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
	}

	ok, err := f.limiter.UnblockManual(ctx, ip, "ops@example.com")
	if err != nil || !ok {
		t.Fatalf("first UnblockManual = %v, %v", ok, err)
	}
	ok, err = f.limiter.UnblockManual(ctx, ip, "ops@example.com")
	if err != nil || ok {
		t.Fatalf("second UnblockManual = %v, %v; want false, nil", ok, err)
	}

	if blocked, _ := f.limiter.IsBlocked(ctx, ip); blocked {
		t.Error("address still blocked after unblock")
	}
	incidents, _ := f.tracker.ListByIP(ctx, ip)
	if len(incidents) != 1 || !incidents[0].Resolved || incidents[0].ResolvedBy != "ops@example.com" {
		t.Errorf("incident not resolved by unblock: %+v", incidents)
	}
}

func TestInvalidInputRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.limiter.RecordFailure(ctx, "999.1.1.1", model.FailureInvalidCredentials, ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("bad ip: %v", err)
	}
	if _, err := f.limiter.RecordFailure(ctx, "203.0.113.7", model.FailureKind("guess"), ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("bad kind: %v", err)
	}
	if _, err := f.limiter.UnblockManual(ctx, "203.0.113.7", ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("missing operator: %v", err)
	}
}

func TestConcurrentFailuresOpenOneBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "192.0.2.1"

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.limiter.RecordFailure(ctx, ip, model.FailureInvalidCredentials, "")
		}()
	}
	wg.Wait()

	incidents, _ := f.tracker.ListByIP(ctx, ip)
	if len(incidents) != 1 {
		t.Errorf("got %d incidents, want exactly 1", len(incidents))
	}
}

// Two limiters over one database file stand in for two service instances:
// their in-process locks are independent, so only the store lock keeps the
// threshold crossing from opening two incidents.
func TestInstancesSharingStoreOpenOneBlock(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(start)

	var limiters []*Limiter
	var trackers []*incident.Tracker
	for i := 0; i < 2; i++ {
		s, err := config.NewStore(dir)
		if err != nil {
			t.Fatalf("NewStore #%d: %v", i+1, err)
		}
		t.Cleanup(func() { s.Close() })
		tr := incident.NewTracker(s, clk, logger)
		trackers = append(trackers, tr)
		limiters = append(limiters, New(s, tr, clk, ConfigFrom(config.DefaultSecurityConfig()), logger))
	}

	ctx := context.Background()
	ip := "192.0.2.44"
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(l *Limiter) {
			defer wg.Done()
			if _, err := l.RecordFailure(ctx, ip, model.FailureInvalidCredentials, ""); err != nil {
				t.Logf("RecordFailure: %v", err)
			}
		}(limiters[i%2])
	}
	wg.Wait()

	incidents, err := trackers[0].ListByIP(ctx, ip)
	if err != nil {
		t.Fatalf("ListByIP: %v", err)
	}
	if len(incidents) != 1 {
		t.Errorf("got %d incidents, want exactly 1", len(incidents))
	}
	if blocked, _ := limiters[1].IsBlocked(ctx, ip); !blocked {
		t.Error("address should be blocked for both instances")
	}
}

func TestPurgeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.limiter.RecordFailure(ctx, "203.0.113.7", model.FailureInvalidCredentials, "")
	f.clock.Advance(time.Hour)

	if _, err := f.limiter.PurgeFailures(ctx, f.clock.Now()); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("cutoff inside the window should be refused, got %v", err)
	}
	n, err := f.limiter.PurgeFailures(ctx, f.clock.Now().Add(-30*time.Minute))
	if err != nil || n != 1 {
		t.Errorf("PurgeFailures = %d, %v", n, err)
	}
}
