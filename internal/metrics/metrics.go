package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_admin_login_attempts_total",
			Help: "Admin login attempts by result.",
		},
		[]string{"result"},
	)

	AuthzDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_admin_authz_denials_total",
			Help: "Requests rejected by the access guard or hierarchy policy, by rule.",
		},
		[]string{"rule"},
	)

	AuditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_admin_audit_writes_total",
			Help: "Audit log appends by module and result.",
		},
		[]string{"module", "result"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cms_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cms_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register adds every collector to reg. Collectors work unregistered, so
// tests never need to call it.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		LoginAttempts,
		AuthzDenials,
		AuditWrites,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestStarted marks a request in flight and returns the callback that
// records its outcome.
func RequestStarted(method string) func(path string, status int) {
	httpInFlight.Inc()
	start := time.Now()

	return func(path string, status int) {
		code := strconv.Itoa(status)
		httpRequestDuration.WithLabelValues(method, path, code).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, code).Inc()
		httpInFlight.Dec()
	}
}
