package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telekom/mcauth/pkg/autherr"
)

// Hop labels. Keep in sync with the pipeline stages.
const (
	HopDeviceCode = "device_code"
	HopMSAToken   = "msa_token"
	HopRefresh    = "msa_refresh"
	HopXBL        = "xbl"
	HopXSTS       = "xsts"
	HopIdentity   = "mc_identity"
	HopProfile    = "mc_profile"
	HopEntitle    = "mc_entitlement"
)

var (
	HopRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_hop_requests_total",
		Help: "Total number of requests per federated hop grouped by outcome kind",
	}, []string{"hop", "outcome"})
	HopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcauth_hop_duration_seconds",
		Help:    "Latency of federated hop requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"hop"})
	DevicePolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_device_polls_total",
		Help: "Total number of device-code token polls grouped by result",
	}, []string{"result"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_token_refresh_total",
		Help: "Total number of stored account refreshes grouped by outcome",
	}, []string{"outcome"})
	// Logins counts finished login attempts. The outcome label is the
	// terminal state name, bounded by the state machine.
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcauth_logins_total",
		Help: "Total number of device-code login attempts grouped by terminal state",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(HopRequests)
	prometheus.MustRegister(HopDuration)
	prometheus.MustRegister(DevicePolls)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(Logins)
}

// ObserveHop records one request of hop that started at start. outcome is
// "ok" or the error kind name.
func ObserveHop(hop, outcome string, start time.Time) {
	HopRequests.WithLabelValues(hop, outcome).Inc()
	HopDuration.WithLabelValues(hop).Observe(time.Since(start).Seconds())
}

// Outcome maps an error to a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return autherr.KindOf(err).String()
	}
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
