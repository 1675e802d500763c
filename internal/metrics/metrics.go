package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifriend_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aifriend_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifriend_admission_decisions_total",
			Help: "Inbound admission decisions by outcome (allowed, too_long, rate_limited).",
		},
		[]string{"outcome"},
	)

	RateLimitedWindowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifriend_rate_limited_window_total",
			Help: "Rate-limited denials by the first exhausted window.",
		},
		[]string{"window"},
	)

	PlatformSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aifriend_platform_sends_total",
			Help: "Outbound platform send attempts by outcome (success, flood_wait, burst_limited, timeout, unreachable, provider_error, internal_error, abandoned).",
		},
		[]string{"outcome"},
	)

	BurstDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aifriend_burst_denials_total",
			Help: "Sends denied by the per-conversation burst guard.",
		},
	)

	TokenBucketWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aifriend_token_bucket_wait_seconds",
			Help:    "Time spent waiting for a token before an outbound send.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionDecisionsTotal,
		RateLimitedWindowTotal,
		PlatformSendsTotal,
		BurstDenialsTotal,
		TokenBucketWaitSeconds,
	)
}
