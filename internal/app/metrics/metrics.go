package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fount",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fount",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fount",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	spellResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fount",
			Subsystem: "spells",
			Name:      "resolutions_total",
			Help:      "Total number of spell resolutions by outcome.",
		},
		[]string{"spell", "outcome"},
	)

	mpSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fount",
			Subsystem: "economy",
			Name:      "mp_spent_total",
			Help:      "Total MP debited across successful spell casts.",
		},
	)

	nineumMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fount",
			Subsystem: "economy",
			Name:      "nineum_minted_total",
			Help:      "Total nineum identifiers minted.",
		},
	)

	forwardingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fount",
			Subsystem: "spells",
			Name:      "forwarding_errors_total",
			Help:      "Total spell fan-outs that had at least one failed stop.",
		},
		[]string{"spell"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		spellResolutions,
		mpSpent,
		nineumMinted,
		forwardingErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// SpellResolved counts one completed resolution by outcome.
func SpellResolved(spell string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	spellResolutions.WithLabelValues(spellLabel(spell), outcome).Inc()
}

// SpellRejected counts a resolution refused before any side effect.
func SpellRejected(spell string) {
	spellResolutions.WithLabelValues(spellLabel(spell), "rejected").Inc()
}

// MPSpent records MP debited from a caster's pool.
func MPSpent(amount int) {
	if amount > 0 {
		mpSpent.Add(float64(amount))
	}
}

// NineumMinted records freshly minted identifiers.
func NineumMinted(count int) {
	if count > 0 {
		nineumMinted.Add(float64(count))
	}
}

// ForwardingError counts a fan-out with at least one failed destination.
func ForwardingError(spell string) {
	forwardingErrors.WithLabelValues(spellLabel(spell)).Inc()
}

func spellLabel(spell string) string {
	if spell == "" {
		return "unknown"
	}
	return spell
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifier segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "user":
		if len(parts) == 1 {
			return "/user"
		}
		if parts[1] == "create" {
			return "/user/create"
		}
		if parts[1] == "pubKey" {
			return "/user/pubKey/:pubKey"
		}
		if len(parts) == 2 {
			return "/user/:uuid"
		}
		return "/user/:uuid/" + strings.Join(parts[2:], "/")
	case "resolve":
		return "/resolve/:spellName"
	}
	return "/" + parts[0]
}
