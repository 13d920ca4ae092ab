package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJob(t *testing.T) {
	ok := ScheduledJobRuns.WithLabelValues("test_job", "success")
	failed := ScheduledJobRuns.WithLabelValues("test_job", "error")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	RecordJob("test_job", nil)
	RecordJob("test_job", errors.New("store down"))

	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
}

func TestRecordVerificationLabels(t *testing.T) {
	c := SessionVerifications.WithLabelValues("false", "high", "false")
	before := testutil.ToFloat64(c)
	RecordVerification(false, "high", false)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequestsTotal.WithLabelValues("GET", "/healthz", "200")
	before := testutil.ToFloat64(c)
	RecordAPIRequest("GET", "/healthz", 200, 3*time.Millisecond)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
}
