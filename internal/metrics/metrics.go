package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// RequestsTotal counts HTTP requests by route, method and status.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests, labeled by route, method and status code.",
	}, []string{"path", "method", "status"})

	// RequestDuration measures handler latency; for /stream this covers the whole stream.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatbot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving an HTTP request.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"path"})

	StreamFragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatbot",
		Name:      "stream_fragments_total",
		Help:      "Total number of non-empty text fragments received from the model stream.",
	})

	// UpstreamErrorsTotal counts model failures by operation (generate, stream, stream_recv, search).
	UpstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbot",
		Name:      "upstream_errors_total",
		Help:      "Total number of upstream model or agent failures.",
	}, []string{"operation"})

	SearchToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatbot",
		Name:      "search_tool_calls_total",
		Help:      "Total number of retrieval tool invocations by the search agent, labeled by tool and result.",
	}, []string{"tool", "result"})
)

// Register registers collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			StreamFragmentsTotal,
			UpstreamErrorsTotal,
			SearchToolCallsTotal,
		)
	})
}
