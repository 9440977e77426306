package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatusNetworkError labels requests that got no response.
const StatusNetworkError = "network_error"

// Metrics records outbound request counts and latencies.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of backend API requests by outcome.",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Duration of backend API requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "endpoint"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(method, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := StatusNetworkError
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, endpoint, label).Inc()
	m.duration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// canonicalEndpoint collapses identifiers so label cardinality stays
// bounded: /transactions/abc becomes /transactions/:id.
func canonicalEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if segments[i-1] == "transactions" && segments[i] != "" {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}
