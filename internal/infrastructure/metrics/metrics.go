// Package metrics exposes Prometheus collectors for sessiond.
//
// Collectors live in package variables and are registered once with the
// default registry by Init. Recording helpers are safe to call before Init;
// the values are simply not exported until registration.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiond"

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Credential metrics.
var (
	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_redemptions_total",
			Help:      "Refresh credential redemptions by outcome.",
		},
		[]string{"outcome"},
	)

	revocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Account revocations by policy and reason.",
		},
		[]string{"policy", "reason"},
	)

	stampChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stamp_checks_total",
			Help:      "Security stamp validations by result.",
		},
		[]string{"result"},
	)

	authorizationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Permission checks by permission and decision.",
		},
		[]string{"permission", "decision"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			redemptionsTotal, revocationsTotal, stampChecksTotal, authorizationDecisionsTotal,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRedemption counts one refresh redemption. outcome is "success" or an error kind.
func ObserveRedemption(outcome string) {
	redemptionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRevocation counts one soft or hard revocation.
func ObserveRevocation(policy, reason string) {
	revocationsTotal.WithLabelValues(policy, reason).Inc()
}

// ObserveStampCheck counts one stamp validation: "legacy", "valid", "mismatch" or "error".
func ObserveStampCheck(result string) {
	stampChecksTotal.WithLabelValues(result).Inc()
}

// ObserveAuthorization counts one permission decision.
func ObserveAuthorization(permission string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisionsTotal.WithLabelValues(permission, decision).Inc()
}

// Instrument measures request count, latency and in-flight requests.
// The route label is the chi route pattern so path parameters do not
// explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routePattern(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// routePattern returns the matched chi pattern, or "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
