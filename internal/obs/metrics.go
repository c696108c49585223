package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	DonationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karuna_donations_created_total",
			Help: "Donation records created, by payment method.",
		},
		[]string{"method"},
	)

	DonationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karuna_donation_transitions_total",
			Help: "Donation status transitions.",
		},
		[]string{"from", "to"},
	)

	KYCSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karuna_kyc_submissions_total",
			Help: "KYC applications submitted, by applicant kind.",
		},
		[]string{"kind"},
	)

	LoginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karuna_login_failures_total",
			Help: "Rejected credential checks, by identity system and reason.",
		},
		[]string{"system", "reason"},
	)

	SchedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karuna_recurring_scan_runs_total",
			Help: "Recurring donation scans, by result.",
		},
		[]string{"result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "karuna_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			DonationsCreated, DonationTransitions, KYCSubmissions, LoginFailures, SchedulerRuns,
			readyGauge,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// canonicalRoutes maps a fixed route prefix to the number of trailing
// identifier segments it carries.
var canonicalRoutes = []struct {
	prefix string
	params []string
}{
	{"/api/kyc/status/", []string{":type", ":id"}},
	{"/api/kyc/review/", []string{":type", ":id"}},
	{"/api/direct-payment/verify/", []string{":txn"}},
	{"/api/direct-payment/refund/", []string{":txn"}},
	{"/api/direct-payment/fail/", []string{":txn"}},
	{"/api/direct-payment/status/", []string{":txn"}},
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, route := range canonicalRoutes {
		if !strings.HasPrefix(p, route.prefix) {
			continue
		}
		rest := strings.Split(strings.Trim(strings.TrimPrefix(p, route.prefix), "/"), "/")
		if len(rest) != len(route.params) || rest[0] == "" {
			return p
		}
		return route.prefix + strings.Join(route.params, "/")
	}
	if strings.HasPrefix(p, "/api/ngo/") {
		rest := strings.TrimPrefix(p, "/api/ngo/")
		if rest != "" && rest != "all" && !strings.Contains(rest, "/") {
			return "/api/ngo/:id"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
