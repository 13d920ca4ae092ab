package session

import (
	"context"
	"testing"
	"time"

	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/model"
)

func TestDetectSessionAnomaliesLadder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	one := f.create(t, admin, "admin", ip)
	report, err := f.mgr.DetectSessionAnomalies(ctx, admin, one.Token, ip, ua)
	if err != nil {
		t.Fatalf("DetectSessionAnomalies: %v", err)
	}
	if report.AnomaliesDetected || report.ActionRequired != model.ActionAllow {
		t.Errorf("single session: %+v", report)
	}

	f.clock.Advance(10 * time.Minute)
	f.create(t, admin, "admin", "198.51.100.1")
	report, _ = f.mgr.DetectSessionAnomalies(ctx, admin, one.Token, ip, ua)
	if report.ActionRequired != model.ActionWarn || report.DistinctIPs != 2 || report.ActiveSessions != 2 {
		t.Errorf("two sessions on two addresses: %+v", report)
	}

	f.clock.Advance(10 * time.Minute)
	for i := 0; i < 4; i++ {
		f.create(t, admin, "admin", ip)
	}
	report, _ = f.mgr.DetectSessionAnomalies(ctx, admin, one.Token, ip, ua)
	if report.ActionRequired != model.ActionBlock || report.RecentCreations != 4 {
		t.Errorf("rapid creation on multiple addresses: %+v", report)
	}
	if len(report.AnomalyTypes) != 3 {
		t.Errorf("anomaly types = %v", report.AnomalyTypes)
	}
}

func TestRotationPolicyTrustedBypass(t *testing.T) {
	f := newFixture(t, func(c *config.SecurityConfig) {
		c.TrustedNetworks = []string{"192.168.1.0/24"}
	})
	ctx := context.Background()

	sess := f.create(t, admin, "admin", ip)
	token := sess.Token
	for i := 0; i < 15; i++ {
		f.clock.Advance(time.Minute)
		next, err := f.mgr.Rotate(ctx, token, model.RotationManual)
		if err != nil {
			t.Fatalf("Rotate #%d: %v", i+1, err)
		}
		token = next.Token
	}

	trusted, err := f.mgr.EvaluateRotationPolicy(ctx, admin, "192.168.1.50")
	if err != nil {
		t.Fatalf("EvaluateRotationPolicy: %v", err)
	}
	if trusted.Action != model.RotationAllow || !trusted.Bypassed {
		t.Errorf("trusted network: %+v", trusted)
	}

	public, _ := f.mgr.EvaluateRotationPolicy(ctx, admin, "8.8.8.8")
	if public.Action != model.RotationLock || public.RotationCount != 15 || public.Bypassed {
		t.Errorf("public address: %+v", public)
	}

	bypasses, _ := f.store.CountEventsSince(ctx, admin, model.EventSessionBypass, start)
	if bypasses != 1 {
		t.Errorf("bypass events = %d, want 1", bypasses)
	}
}

func TestRotationPolicyAlertAndWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	token := f.create(t, admin, "admin", ip).Token
	for i := 0; i < 6; i++ {
		next, err := f.mgr.Rotate(ctx, token, model.RotationManual)
		if err != nil {
			t.Fatalf("Rotate #%d: %v", i+1, err)
		}
		token = next.Token
	}

	d, _ := f.mgr.EvaluateRotationPolicy(ctx, admin, ip)
	if d.Action != model.RotationAlert {
		t.Errorf("6 rotations: %+v", d)
	}

	f.clock.Advance(24 * time.Hour)
	d, _ = f.mgr.EvaluateRotationPolicy(ctx, admin, ip)
	if d.Action != model.RotationAllow || d.RotationCount != 0 {
		t.Errorf("rotations outside the window still count: %+v", d)
	}
}

func TestIsTrustedSingleAddress(t *testing.T) {
	f := newFixture(t, func(c *config.SecurityConfig) { c.TrustedNetworks = []string{"10.0.0.5"} })
	if !f.mgr.IsTrusted("10.0.0.5") {
		t.Error("listed address should be trusted")
	}
	if f.mgr.IsTrusted("10.0.0.6") || f.mgr.IsTrusted("garbage") {
		t.Error("unlisted address trusted")
	}
}
