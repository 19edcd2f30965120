package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection outcomes for the connections_total counter.
const (
	OutcomeOK        = "ok"
	OutcomeHandshake = "handshake_error"
	OutcomeIO        = "io_error"
)

var (
	registerOnce sync.Once

	connectionsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caretd",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Connections served to completion, by outcome.",
		},
		[]string{"outcome"},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caretd",
			Subsystem: "server",
			Name:      "bytes_received_total",
			Help:      "Bytes read from peers, delimiters and noise included.",
		},
	)
	bytesEchoed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caretd",
			Subsystem: "server",
			Name:      "bytes_echoed_total",
			Help:      "Payload bytes echoed back incremented, greeting excluded.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caretd",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin plane HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "caretd",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin plane HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connectionsServed, bytesReceived, bytesEchoed, httpRequests, httpDuration)
	})
}

// RecordConnection accounts one finished connection. received counts every
// byte read from the peer; echoed counts protocol output after the greeting.
func RecordConnection(outcome string, received, echoed uint64) {
	RegisterMetrics()
	connectionsServed.WithLabelValues(outcome).Inc()
	bytesReceived.Add(float64(received))
	bytesEchoed.Add(float64(echoed))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
