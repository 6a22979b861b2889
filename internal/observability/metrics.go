package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the C10 middleware records
// against on every request, matching spec.md §4.10's counters/histograms/
// gauges trio (gauge used for in-flight request count).
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	ToolInvocations  *prometheus.CounterVec
	TemplateExecutes *prometheus.CounterVec
	Registry         *prometheus.Registry
}

// NewMetrics builds a fresh metrics set registered against its own
// registry (not the global default), so a test process can construct more
// than one Metrics without a "duplicate metrics collector" panic.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by path, method, and status class.",
		}, []string{"path", "method", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_requests_in_flight", Help: "Requests currently being handled.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_invocations_total", Help: "Dispatcher tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		TemplateExecutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "query_template_executions_total", Help: "SQL template executions by template name and outcome.",
		}, []string{"template", "outcome"}),
		Registry: reg,
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.InFlight, m.ToolInvocations, m.TemplateExecutes)
	return m
}
