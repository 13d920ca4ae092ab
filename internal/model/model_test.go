package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestDefaultPoolConfig(t *testing.T) {
	pc := DefaultPoolConfig()

	if pc.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %d, want 25", pc.MaxOpenConns)
	}
	if pc.MaxIdleConns != 5 {
		t.Errorf("MaxIdleConns = %d, want 5", pc.MaxIdleConns)
	}
	if pc.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want %v", pc.ConnMaxLifetime, 5*time.Minute)
	}
}

func TestParseActionType(t *testing.T) {
	tests := []struct {
		in       string
		want     ActionType
		wantRisk RiskLevel
		wantErr  bool
	}{
		{"login", ActionLogin, RiskLow, false},
		{"  DELETE ", ActionDelete, RiskHigh, false},
		{"bulk_delete", ActionBulkDelete, RiskCritical, false},
		{"permission_change", ActionPermissionChange, RiskCritical, false},
		{"drop_database", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseActionType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseActionType(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if got.DefaultRisk() != tt.wantRisk {
				t.Errorf("DefaultRisk = %q, want %q", got.DefaultRisk(), tt.wantRisk)
			}
		})
	}
}

func TestUnknownActionDefaultRiskIsHigh(t *testing.T) {
	if r := ActionType("mystery").DefaultRisk(); r != RiskHigh {
		t.Errorf("DefaultRisk for unknown type = %q, want high", r)
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, s := range []string{"low", "Medium", "HIGH", "critical"} {
		if _, err := ParseRiskLevel(s); err != nil {
			t.Errorf("ParseRiskLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseRiskLevel("severe"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRiskLevelMax(t *testing.T) {
	if got := RiskLow.Max(RiskHigh); got != RiskHigh {
		t.Errorf("low.Max(high) = %q", got)
	}
	if got := RiskCritical.Max(RiskMedium); got != RiskCritical {
		t.Errorf("critical.Max(medium) = %q", got)
	}
}

func TestParseFailureKind(t *testing.T) {
	if k, err := ParseFailureKind("Invalid_Credentials"); err != nil || k != FailureInvalidCredentials {
		t.Errorf("got %q, %v", k, err)
	}
	if _, err := ParseFailureKind("brute_force"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStoreErrorMatchesTaxonomy(t *testing.T) {
	driverErr := errors.New("database is locked")
	err := error(&StoreError{Op: "insert session", Err: driverErr})

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("StoreError should match ErrStoreUnavailable")
	}
	if !errors.Is(err, driverErr) {
		t.Error("StoreError should match the driver error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("StoreError must not match ErrNotFound")
	}
	if !strings.Contains(err.Error(), "insert session") {
		t.Errorf("message %q should include the operation", err.Error())
	}
}

func TestTruncateToken(t *testing.T) {
	if got := TruncateToken("abcdefghijklmnop"); got != "abcdefgh" {
		t.Errorf("got %q", got)
	}
	if got := TruncateToken("abc"); got != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateTextKeepsCharacters(t *testing.T) {
	// "é" is two bytes; a cut at byte 3 would split the second one.
	if got := TruncateText("éé", 3); got != "é" {
		t.Errorf("got %q, want %q", got, "é")
	}
	if got := TruncateText("日本語", 7); got != "日本" {
		t.Errorf("got %q, want %q", got, "日本")
	}
	if got := TruncateText("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
	got := TruncateText("ok\xffagent", 512)
	if !utf8.ValidString(got) || got != "okagent" {
		t.Errorf("invalid bytes not dropped: %q", got)
	}
	long := strings.Repeat("ü", 300)
	if got := TruncateText(long, 511); !utf8.ValidString(got) || len(got) != 510 {
		t.Errorf("len = %d, valid = %v", len(got), utf8.ValidString(got))
	}
}

func TestAdminSessionJSONHidesSecrets(t *testing.T) {
	s := AdminSession{
		Token:             "secret-token-value",
		VerificationToken: "secret-verifier",
		AdminID:           "ops@example.com",
		IsActive:          true,
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "secret") {
		t.Errorf("session JSON leaks a secret: %s", b)
	}
}

func TestAssessmentHas(t *testing.T) {
	a := AnomalyAssessment{Anomalies: []AnomalyKind{AnomalyBulkOperations, AnomalyNightAccess}}
	if !a.Has(AnomalyNightAccess) {
		t.Error("expected night_access")
	}
	if a.Has(AnomalyAddressChurn) {
		t.Error("did not expect address_churn")
	}
}

func TestIPBlockActiveAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b := IPBlock{BlockedUntil: now}
	if b.ActiveAt(now) {
		t.Error("block ending exactly now must be inactive")
	}
	if !b.ActiveAt(now.Add(-time.Second)) {
		t.Error("block should be active a second earlier")
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"203.0.113.7", "203.0.113.7", false},
		{" 203.0.113.7 ", "203.0.113.7", false},
		{"::ffff:203.0.113.7", "203.0.113.7", false},
		{"2001:DB8::1", "2001:db8::1", false},
		{"203.0.113.7; DROP TABLE ip_blocks", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeIP(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizeIP(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeIP(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
