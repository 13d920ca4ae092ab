package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/adminguard/internal/anomaly"
	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/model"
	"github.com/faucetdb/adminguard/internal/ratelimit"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	truePtr := boolPtr(true)
	if truePtr == nil {
		t.Fatal("boolPtr(true) returned nil")
	}
	if *truePtr != true {
		t.Errorf("*boolPtr(true) = %v, want true", *truePtr)
	}

	falsePtr := boolPtr(false)
	if falsePtr == nil {
		t.Fatal("boolPtr(false) returned nil")
	}
	if *falsePtr != false {
		t.Errorf("*boolPtr(false) = %v, want false", *falsePtr)
	}

	// Verify they are distinct pointers
	if truePtr == falsePtr {
		t.Error("boolPtr(true) and boolPtr(false) should return distinct pointers")
	}
}

func TestReadOnlyAnnotation(t *testing.T) {
	ann := readOnlyAnnotation()

	if ann.ReadOnlyHint == nil {
		t.Fatal("ReadOnlyHint should not be nil for readOnlyAnnotation")
	}
	if *ann.ReadOnlyHint != true {
		t.Errorf("ReadOnlyHint = %v, want true", *ann.ReadOnlyHint)
	}
}

func TestMutatingAnnotation(t *testing.T) {
	ann := mutatingAnnotation()

	if ann.ReadOnlyHint == nil {
		t.Fatal("ReadOnlyHint should not be nil for mutatingAnnotation")
	}
	if *ann.ReadOnlyHint != false {
		t.Errorf("ReadOnlyHint = %v, want false", *ann.ReadOnlyHint)
	}
}

func TestServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{model.Invalid("bad ip %q", "x"), "bad ip"},
		{model.ErrNotFound, "not found"},
		{&model.StoreError{Op: "select", Err: errors.New("locked")}, "unavailable"},
		{errors.New("boom"), "unexpected error: boom"},
	}
	for _, tt := range tests {
		res, err := serviceError(tt.err)
		if err != nil {
			t.Fatalf("serviceError returned protocol error %v", err)
		}
		if !res.IsError {
			t.Errorf("%v: expected IsError", tt.err)
		}
		if got := resultText(t, res); !strings.Contains(got, tt.want) {
			t.Errorf("%v: text = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Tool handlers against a real store
// ---------------------------------------------------------------------------

var start = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *MCPServer
	store   *config.Store
	limiter *ratelimit.Limiter
	tracker *incident.Tracker
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
	sc := config.DefaultSecurityConfig()
	tr := incident.NewTracker(s, clk, logger)
	l := ratelimit.New(s, tr, clk, ratelimit.ConfigFrom(sc), logger)
	d := anomaly.NewDetector(s, clk, anomaly.ConfigFrom(sc), nil, logger)
	return &fixture{
		srv:     NewMCPServer(l, tr, d, "test", logger),
		store:   s,
		limiter: l,
		tracker: tr,
		clock:   clk,
	}
}

func (f *fixture) block(t *testing.T, ip string) {
	t.Helper()
	for i := 0; i < 5; i++ {
		if _, err := f.limiter.RecordFailure(context.Background(), ip, model.FailureInvalidCredentials, "ops@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestCheckIPAndUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.7"
	f.block(t, ip)

	res, err := f.srv.handleCheckIP(ctx, callRequest(map[string]interface{}{"ip": ip}))
	if err != nil {
		t.Fatal(err)
	}
	var check struct {
		Blocked   bool                  `json:"blocked"`
		Block     *model.IPBlock        `json:"block"`
		Incidents []model.BlockIncident `json:"incidents"`
	}
	decodeResult(t, res, &check)
	if !check.Blocked || check.Block == nil || len(check.Incidents) != 1 {
		t.Fatalf("check = %+v", check)
	}
	if check.Block.IncidentID != check.Incidents[0].IncidentID {
		t.Errorf("block incident %q != history %q", check.Block.IncidentID, check.Incidents[0].IncidentID)
	}

	res, _ = f.srv.handleUnblockIP(ctx, callRequest(map[string]interface{}{"ip": ip, "operator": "root@example.com"}))
	var unblock struct {
		Unblocked bool `json:"unblocked"`
	}
	decodeResult(t, res, &unblock)
	if !unblock.Unblocked {
		t.Fatal("expected unblocked=true")
	}

	blocked, err := f.limiter.IsBlocked(ctx, ip)
	if err != nil || blocked {
		t.Fatalf("IsBlocked after unblock = %v, %v", blocked, err)
	}

	res, _ = f.srv.handleUnblockIP(ctx, callRequest(map[string]interface{}{"ip": ip, "operator": "root@example.com"}))
	decodeResult(t, res, &unblock)
	if unblock.Unblocked {
		t.Error("second unblock should report unblocked=false")
	}
}

func TestUnblockRequiresOperator(t *testing.T) {
	f := newFixture(t)
	res, err := f.srv.handleUnblockIP(context.Background(), callRequest(map[string]interface{}{"ip": "203.0.113.7"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "operator") {
		t.Errorf("expected missing operator error, got %q", resultText(t, res))
	}
}

func TestCheckIPRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	res, _ := f.srv.handleCheckIP(context.Background(), callRequest(map[string]interface{}{"ip": "not-an-ip"}))
	if !res.IsError {
		t.Fatalf("expected tool error, got %s", resultText(t, res))
	}
}

func TestPendingFindAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.block(t, "203.0.113.7")
	f.clock.Advance(time.Second)
	f.block(t, "198.51.100.9")

	res, _ := f.srv.handleListPending(ctx, callRequest(map[string]interface{}{"limit": float64(10)}))
	var pending struct {
		Count     int                   `json:"count"`
		Incidents []model.BlockIncident `json:"incidents"`
	}
	decodeResult(t, res, &pending)
	if pending.Count != 2 {
		t.Fatalf("pending count = %d, want 2", pending.Count)
	}
	id := pending.Incidents[0].IncidentID

	res, _ = f.srv.handleFindIncident(ctx, callRequest(map[string]interface{}{"incident_id": id}))
	var found model.BlockIncident
	decodeResult(t, res, &found)
	if found.IncidentID != id {
		t.Errorf("found %q, want %q", found.IncidentID, id)
	}

	res, _ = f.srv.handleResolveIncident(ctx, callRequest(map[string]interface{}{
		"incident_id": id,
		"operator":    "root@example.com",
		"notes":       "known scanner",
	}))
	var resolved struct {
		Resolved bool `json:"resolved"`
	}
	decodeResult(t, res, &resolved)
	if !resolved.Resolved {
		t.Fatal("expected resolved=true")
	}

	res, _ = f.srv.handleListPending(ctx, callRequest(nil))
	decodeResult(t, res, &pending)
	if pending.Count != 1 {
		t.Errorf("pending after resolve = %d, want 1", pending.Count)
	}
}

func TestFindIncidentRejectsMalformedID(t *testing.T) {
	f := newFixture(t)
	res, _ := f.srv.handleFindIncident(context.Background(), callRequest(map[string]interface{}{"incident_id": "'; DROP TABLE"}))
	if !res.IsError {
		t.Fatalf("expected tool error, got %s", resultText(t, res))
	}
}

func TestAssessAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		err := f.store.InsertAction(ctx, &model.AdminActionRecord{
			AdminID:    "ops@example.com",
			ActionType: model.ActionView,
			RiskLevel:  model.RiskLow,
			IPAddress:  "203.0.113.7",
			Success:    true,
			CreatedAt:  start.Add(-time.Hour).Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertAction: %v", err)
		}
	}

	res, _ := f.srv.handleAssessAdmin(ctx, callRequest(map[string]interface{}{"admin_id": "ops@example.com"}))
	var out struct {
		Assessment model.AnomalyAssessment `json:"assessment"`
		Severity   model.Severity          `json:"severity"`
	}
	decodeResult(t, res, &out)
	if !out.Assessment.Has(model.AnomalyBulkOperations) {
		t.Errorf("anomalies = %v, want bulk_operations", out.Assessment.Anomalies)
	}
	if out.Severity == "" {
		t.Error("severity missing")
	}

	res, _ = f.srv.handleAssessAdmin(ctx, callRequest(nil))
	if !res.IsError {
		t.Error("missing admin_id should be a tool error")
	}
}

func TestPendingResource(t *testing.T) {
	f := newFixture(t)
	f.block(t, "203.0.113.7")

	var req mcp.ReadResourceRequest
	req.Params.URI = uriPendingIncidents
	contents, err := f.srv.handlePendingResource(context.Background(), req)
	if err != nil {
		t.Fatalf("handlePendingResource: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T", contents[0])
	}
	if !strings.Contains(tc.Text, "203.0.113.7") {
		t.Errorf("resource text missing ip: %s", tc.Text)
	}
}

func TestIncidentResourceBadURI(t *testing.T) {
	f := newFixture(t)
	var req mcp.ReadResourceRequest
	req.Params.URI = "adminguard://other"
	if _, err := f.srv.handleIncidentResource(context.Background(), req); err == nil {
		t.Error("expected error for malformed URI")
	}
}
