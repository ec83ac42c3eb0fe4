package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerServesExpositionFormat(t *testing.T) {
	PushTokensIssued.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty metrics body")
	}
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(PushTokensIssued)
	PushTokensIssued.Inc()
	after := testutil.ToFloat64(PushTokensIssued)
	if after != before+1 {
		t.Fatalf("PushTokensIssued = %v, want %v", after, before+1)
	}
}

func TestSyncOperationsTotalLabeled(t *testing.T) {
	before := testutil.ToFloat64(SyncOperationsTotal.WithLabelValues("z", "ok"))
	SyncOperationsTotal.WithLabelValues("z", "ok").Inc()
	after := testutil.ToFloat64(SyncOperationsTotal.WithLabelValues("z", "ok"))
	if after != before+1 {
		t.Fatalf("SyncOperationsTotal{z,ok} = %v, want %v", after, before+1)
	}
}

func TestTimerObservesIntoHistogram(t *testing.T) {
	countBefore := testutil.CollectAndCount(SyncOperationDuration)
	timer := NewTimer()
	timer.ObserveSeconds(SyncOperationDuration, "test-tag")
	countAfter := testutil.CollectAndCount(SyncOperationDuration)
	if countAfter <= countBefore {
		t.Fatalf("expected a new histogram observation, before=%d after=%d", countBefore, countAfter)
	}
}
