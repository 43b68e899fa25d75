package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InflightRequests *prometheus.GaugeVec

	// Backend metrics
	BackendUp *prometheus.GaugeVec

	// Prober metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec

	// Failover metrics
	FailoversTotal    *prometheus.CounterVec
	RetryBudgetTokens prometheus.Gauge

	// Listener metrics
	RateLimitedTotal prometheus.Counter
}

// NewCollector creates all metrics, registering them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fremisn_proxy_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"backend", "method", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fremisn_proxy_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "method"},
		),

		InflightRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fremisn_proxy_inflight_requests",
				Help: "In-flight requests per backend",
			},
			[]string{"backend"},
		),

		BackendUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fremisn_proxy_backend_up",
				Help: "Backend health state (1=UP, 0=DOWN)",
			},
			[]string{"backend", "role"},
		),

		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fremisn_proxy_probes_total",
				Help: "Total number of health probes",
			},
			[]string{"backend", "result"},
		),

		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fremisn_proxy_probe_duration_seconds",
				Help:    "Health probe duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),

		FailoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fremisn_proxy_failovers_total",
				Help: "Total number of failover attempts",
			},
			[]string{"reason"},
		),

		RetryBudgetTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fremisn_proxy_retry_budget_tokens",
				Help: "Available failover budget tokens",
			},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fremisn_proxy_rate_limited_total",
				Help: "Requests rejected by the inbound rate limiter",
			},
		),
	}
}
