package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	before := testutil.ToFloat64(notifications.WithLabelValues("sent"))
	AddNotifications("sent", 3)
	AddNotifications("sent", 0)
	if got := testutil.ToFloat64(notifications.WithLabelValues("sent")) - before; got != 3 {
		t.Fatalf("sent delta = %v, want 3", got)
	}

	IncFetchError("")
	if got := testutil.ToFloat64(updateFetchErrors.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("empty kind must be counted as unknown, got %v", got)
	}

	SetPendingLeaks(7)
	if got := testutil.ToFloat64(pendingLeaks); got != 7 {
		t.Fatalf("pending = %v, want 7", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	IncUpdate()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "leakbot_updates_total") {
		t.Fatalf("metrics output missing leakbot_updates_total")
	}
}

func TestServeDisabledReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Serve(ctx, ""); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
