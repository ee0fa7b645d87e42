package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telekom/mcauth/pkg/autherr"
)

func TestObserveHopIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(HopRequests.WithLabelValues(HopXSTS, "ok"))
	ObserveHop(HopXSTS, "ok", time.Now().Add(-10*time.Millisecond))
	if v := testutil.ToFloat64(HopRequests.WithLabelValues(HopXSTS, "ok")); v != before+1 {
		t.Fatalf("expected HopRequests to grow by 1, got %v -> %v", before, v)
	}
	if n := testutil.CollectAndCount(HopDuration); n < 1 {
		t.Fatalf("expected HopDuration to have samples, got %d", n)
	}
}

func TestRefreshAndLoginCountersExist(t *testing.T) {
	TokenRefreshes.WithLabelValues("test-outcome").Inc()
	if v := testutil.ToFloat64(TokenRefreshes.WithLabelValues("test-outcome")); v < 1 {
		t.Fatalf("expected TokenRefreshes >= 1, got %v", v)
	}

	Logins.WithLabelValues("test-outcome").Add(2)
	if v := testutil.ToFloat64(Logins.WithLabelValues("test-outcome")); v < 2 {
		t.Fatalf("expected Logins >= 2, got %v", v)
	}

	DevicePolls.WithLabelValues("pending").Inc()
	if v := testutil.ToFloat64(DevicePolls.WithLabelValues("pending")); v < 1 {
		t.Fatalf("expected DevicePolls >= 1, got %v", v)
	}
}

func TestMetricsHandlerServesRegisteredMetrics(t *testing.T) {
	Logins.WithLabelValues("Completed").Inc()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mcauth_logins_total") {
		t.Fatalf("expected mcauth_logins_total in output")
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":           nil,
		"cancelled":    fmt.Errorf("poll: %w", context.Canceled),
		"NetworkError": autherr.Network("xbl", errors.New("reset")),
		"XstsRejected": &autherr.Error{Kind: autherr.KindXstsRejected},
		"Unknown":      errors.New("plain"),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
