package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	signInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_sign_in_total",
			Help: "Sign-in attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	sessionEndTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_session_end_total",
			Help: "Authenticated sessions ended, by reason.",
		},
		[]string{"reason"},
	)

	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_gateway_requests_total",
			Help: "Requests sent to the backend API.",
		},
		[]string{"method", "status"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_gateway_request_duration_seconds",
			Help:    "Backend API latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	consoleInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "console_build_info",
			Help: "Running console release; always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// Init registers the collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			signInTotal, sessionEndTotal, gatewayRequestsTotal, gatewayDuration,
			consoleInfo,
		)
	})
}

// SetBuildInfo publishes the running release. Only the latest call is
// exported.
func SetBuildInfo(version, commit string) {
	consoleInfo.Reset()
	consoleInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSignIn counts a sign-in outcome ("success" or an error kind).
func ObserveSignIn(provider, outcome string) {
	signInTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveSessionEnd counts a transition out of the authenticated state.
func ObserveSessionEnd(reason string) {
	sessionEndTotal.WithLabelValues(reason).Inc()
}

// ObserveGateway records one backend round trip. status is "error" when no
// response was received.
func ObserveGateway(method, status string, d time.Duration) {
	gatewayRequestsTotal.WithLabelValues(method, status).Inc()
	gatewayDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Instrument measures request count, latency and in-flight requests.
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

var fixedRoots = map[string]bool{
	"auth":    true,
	"session": true,
	"login":   true,
	"logout":  true,
	"metrics": true,
	"healthz": true,
	"readyz":  true,
	"static":  true,
}

// CanonicalPath collapses record identifiers so metric label cardinality
// stays bounded: /users/42/view becomes /users/:id/view.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	switch {
	case parts[0] == "avatar" && len(parts) == 2:
		parts[1] = ":seed"
	case fixedRoots[parts[0]]:
	case len(parts) >= 2 && len(parts) <= 3 && parts[1] != "new":
		parts[1] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
