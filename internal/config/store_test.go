package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faucetdb/adminguard/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rotatedAt := base.Add(-time.Hour)
	sess := &model.AdminSession{
		Token:          "tok-aaaaaaaaaaaa",
		AdminID:        "ops@example.com",
		Role:           "admin",
		IPAddress:      "203.0.113.7",
		UserAgent:      "Mozilla/5.0",
		CreatedAt:      base,
		LastVerifiedAt: base,
		IsActive:       true,
		Flags: model.SecurityFlags{
			IPBinding:           true,
			Rotated:             true,
			RotatedAt:           &rotatedAt,
			RotationReason:      model.RotationScheduled,
			PreviousTokenPrefix: "old-tok-",
			Extra:               map[string]string{"region": "eu"},
		},
		VerificationToken: "verifier",
	}
	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := s.GetSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AdminID != sess.AdminID || !got.IsActive {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.Flags.RotatedAt == nil || !got.Flags.RotatedAt.Equal(rotatedAt) {
		t.Errorf("RotatedAt = %v, want %v", got.Flags.RotatedAt, rotatedAt)
	}
	if got.Flags.Extra["region"] != "eu" {
		t.Errorf("Extra = %v", got.Flags.Extra)
	}

	later := base.Add(time.Minute)
	if err := s.TouchSession(ctx, sess.Token, later); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.Token)
	if !got.LastVerifiedAt.Equal(later) {
		t.Errorf("LastVerifiedAt = %v, want %v", got.LastVerifiedAt, later)
	}

	deleted, err := s.DeleteSession(ctx, sess.Token)
	if err != nil || !deleted {
		t.Fatalf("DeleteSession = %v, %v", deleted, err)
	}
	deleted, _ = s.DeleteSession(ctx, sess.Token)
	if deleted {
		t.Error("second delete should report false")
	}
	if _, err := s.GetSession(ctx, sess.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveSessionsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, tok := range []string{"tok-c", "tok-a", "tok-b"} {
		err := s.InsertSession(ctx, &model.AdminSession{
			Token:     tok,
			AdminID:   "ops@example.com",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			IsActive:  true,
		})
		if err != nil {
			t.Fatalf("InsertSession: %v", err)
		}
	}
	s.InsertSession(ctx, &model.AdminSession{Token: "tok-other", AdminID: "dev@example.com", CreatedAt: base, IsActive: true})

	list, err := s.ListActiveSessions(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(list) != 3 || list[0].Token != "tok-c" || list[2].Token != "tok-b" {
		t.Errorf("unexpected order: %+v", list)
	}

	all, _ := s.ListActiveSessions(ctx, "")
	if len(all) != 4 {
		t.Errorf("got %d sessions, want 4", len(all))
	}

	n, err := s.DeleteAllSessions(ctx)
	if err != nil || n != 4 {
		t.Errorf("DeleteAllSessions = %d, %v", n, err)
	}
}

func TestFailureWindowIsStrict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ip := "203.0.113.7"

	for _, at := range []time.Time{base.Add(-10 * time.Minute), base.Add(-9 * time.Minute), base} {
		if err := s.InsertFailure(ctx, &model.AuthFailureRecord{IPAddress: ip, AttemptTime: at, FailureKind: model.FailureInvalidCredentials}); err != nil {
			t.Fatalf("InsertFailure: %v", err)
		}
	}

	n, err := s.CountFailuresSince(ctx, ip, base.Add(-10*time.Minute), base)
	if err != nil {
		t.Fatalf("CountFailuresSince: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (failure exactly at the window edge is excluded)", n)
	}

	purged, err := s.DeleteFailuresBefore(ctx, base.Add(-9*time.Minute))
	if err != nil || purged != 2 {
		t.Errorf("DeleteFailuresBefore = %d, %v", purged, err)
	}
}

func TestBlocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &model.IPBlock{IPAddress: "198.51.100.1", BlockedUntil: base.Add(30 * time.Minute), Reason: "too many failures", IncidentID: "BLOCK-20250310140000-ABCD", CreatedAt: base}
	if err := s.PutBlock(ctx, b); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	blocked, err := s.IsBlockedAt(ctx, b.IPAddress, base)
	if err != nil || !blocked {
		t.Fatalf("IsBlockedAt = %v, %v", blocked, err)
	}
	blocked, _ = s.IsBlockedAt(ctx, b.IPAddress, base.Add(30*time.Minute))
	if blocked {
		t.Error("block must not apply at blocked_until")
	}

	// Replacing an expired row keeps a single row per address.
	b2 := *b
	b2.BlockedUntil = base.Add(2 * time.Hour)
	if err := s.PutBlock(ctx, &b2); err != nil {
		t.Fatalf("PutBlock replace: %v", err)
	}
	list, _ := s.ListBlocks(ctx)
	if len(list) != 1 || !list[0].BlockedUntil.Equal(b2.BlockedUntil) {
		t.Errorf("ListBlocks = %+v", list)
	}

	n, err := s.DeleteExpiredBlocks(ctx, base.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteExpiredBlocks = %d, %v", n, err)
	}
	if _, err := s.GetBlock(ctx, b.IPAddress); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncidentResolveOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inc := &model.BlockIncident{IncidentID: "BLOCK-20250310140000-A1B2", IPAddress: "203.0.113.7", BlockReason: "threshold", CreatedAt: base}
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	ok, err := s.ResolveIncident(ctx, inc.IncidentID, "ops@example.com", "false positive", base.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first resolve = %v, %v", ok, err)
	}
	ok, _ = s.ResolveIncident(ctx, inc.IncidentID, "ops@example.com", "", base.Add(2*time.Minute))
	if ok {
		t.Error("second resolve should report false")
	}

	got, _ := s.GetIncident(ctx, inc.IncidentID)
	if !got.Resolved || got.ResolvedBy != "ops@example.com" || got.AdminNotes != "false positive" {
		t.Errorf("got %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("ResolvedAt = %v", got.ResolvedAt)
	}
}

func TestListPendingIncidentsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{"BLOCK-20250310140000-AAAA", "BLOCK-20250310140100-BBBB", "BLOCK-20250310140200-CCCC"}
	for i, id := range ids {
		s.InsertIncident(ctx, &model.BlockIncident{IncidentID: id, IPAddress: "203.0.113.7", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	s.ResolveIncident(ctx, ids[2], "ops", "", base)

	pending, err := s.ListPendingIncidents(ctx, 1)
	if err != nil {
		t.Fatalf("ListPendingIncidents: %v", err)
	}
	if len(pending) != 1 || pending[0].IncidentID != ids[1] {
		t.Errorf("pending = %+v, want newest unresolved only", pending)
	}

	byIP, _ := s.ListIncidentsByIP(ctx, "203.0.113.7")
	if len(byIP) != 3 || byIP[0].IncidentID != ids[2] {
		t.Errorf("ListIncidentsByIP = %+v", byIP)
	}
}

func TestActionsBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.InsertAction(ctx, &model.AdminActionRecord{
			AdminID:    "ops@example.com",
			ActionType: model.ActionUpdate,
			RiskLevel:  model.RiskMedium,
			IPAddress:  "203.0.113.7",
			Success:    i != 1,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertAction: %v", err)
		}
	}

	got, err := s.ListActionsBetween(ctx, "ops@example.com", base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ListActionsBetween: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d actions, want 2", len(got))
	}
	if got[0].Success {
		t.Error("first action in range should be the failed one")
	}

	recent, _ := s.ListRecentActions(ctx, "ops@example.com", 2)
	if len(recent) != 2 || !recent[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("ListRecentActions = %+v", recent)
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.InsertEvent(ctx, &model.SessionEvent{
			EventType: model.EventSessionRotated,
			AdminID:   "ops@example.com",
			Details:   model.EventDetails{RotationReason: model.RotationScheduled},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	s.InsertEvent(ctx, &model.SessionEvent{EventType: model.EventSessionCreated, AdminID: "ops@example.com", CreatedAt: base})

	n, err := s.CountEventsSince(ctx, "ops@example.com", model.EventSessionRotated, base)
	if err != nil || n != 2 {
		t.Errorf("CountEventsSince = %d, %v", n, err)
	}

	events, _ := s.ListEvents(ctx, "ops@example.com", 10)
	if len(events) != 4 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Details.RotationReason != model.RotationScheduled {
		t.Errorf("details not decoded: %+v", events[0])
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	s.SetSetting(ctx, "k", "v1")
	s.SetSetting(ctx, "k", "v2")
	if v, _ := s.GetSetting(ctx, "k"); v != "v2" {
		t.Errorf("got %q, want v2", v)
	}
	if err := s.DeleteSetting(ctx, "k"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if err := s.DeleteSetting(ctx, "k"); err != nil {
		t.Errorf("deleting an absent setting: %v", err)
	}
}

func TestTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(q *Queries) error {
		if err := q.SetSetting(ctx, "k", "v"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Tx error = %v", err)
	}
	if _, err := s.GetSetting(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("write should have been rolled back, got %v", err)
	}
}

func TestLockKeySerializesStores(t *testing.T) {
	dir := t.TempDir()
	a, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore a: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	held := make(chan struct{})
	release := make(chan struct{})
	doneA := make(chan error, 1)
	go func() {
		doneA <- a.Tx(ctx, func(q *Queries) error {
			if err := q.LockKey(ctx, "failures:203.0.113.7"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	acquired := make(chan error, 1)
	go func() {
		acquired <- b.Tx(ctx, func(q *Queries) error {
			return q.LockKey(ctx, "failures:203.0.113.7")
		})
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second store took the lock while it was held (err=%v)", err)
	case <-time.After(150 * time.Millisecond):
	}

	close(release)
	if err := <-doneA; err != nil {
		t.Fatalf("holder Tx: %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter Tx: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lock was never handed over")
	}
}

func TestStoreErrorsAreUnavailable(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	_, err := s.GetSession(context.Background(), "x")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable after close, got %v", err)
	}
}
