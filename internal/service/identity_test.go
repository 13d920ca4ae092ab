package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/adminguard/internal/clock"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) (*IdentityVerifier, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(now)
	return NewIdentityVerifier("test-secret-key-for-assertions", "sso.example.com", clk), clk
}

func TestAssertionRoundTrip(t *testing.T) {
	v, _ := newTestVerifier(t)

	raw, err := v.Issue("ops@example.com", "super_admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.AdminID != "ops@example.com" || p.Role != "super_admin" {
		t.Errorf("got %+v", p)
	}
}

func TestAssertionExpiresWithClock(t *testing.T) {
	v, clk := newTestVerifier(t)
	raw, err := v.Issue("ops@example.com", "admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := v.Verify(raw); !errors.Is(err, ErrAssertionExpired) {
		t.Errorf("expected ErrAssertionExpired, got %v", err)
	}
}

func TestAssertionRejections(t *testing.T) {
	v, clk := newTestVerifier(t)

	other := NewIdentityVerifier("a-different-secret", "sso.example.com", clk)
	forged, _ := other.Issue("ops@example.com", "admin", time.Minute)

	wrongIssuer := NewIdentityVerifier("test-secret-key-for-assertions", "elsewhere", clk)
	foreign, _ := wrongIssuer.Issue("ops@example.com", "admin", time.Minute)

	anonymous, _ := v.Issue("  ", "admin", time.Minute)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops@example.com", Issuer: "sso.example.com"},
	}).SignedString([]byte("test-secret-key-for-assertions"))

	for name, raw := range map[string]string{
		"garbage":      "garbage.token.here",
		"wrong secret": forged,
		"wrong issuer": foreign,
		"no subject":   anonymous,
		"no expiry":    noExpiry,
	} {
		if _, err := v.Verify(raw); !errors.Is(err, ErrInvalidAssertion) {
			t.Errorf("%s: expected ErrInvalidAssertion, got %v", name, err)
		}
	}
}
