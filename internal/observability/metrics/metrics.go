package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	confirmations   *prometheus.CounterVec
	creditsGranted  prometheus.Counter
	creditsConsumed prometheus.Counter
	chainRPCCalls   *prometheus.CounterVec
	rateLimitDenied prometheus.Counter
}

// New registers the domain instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		confirmations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "creditgate_confirmations_total",
			Help: "Payment confirmation attempts by outcome.",
		}, []string{"outcome"}),
		creditsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "creditgate_credits_granted_total",
			Help: "Credits granted through confirmed payments.",
		}),
		creditsConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "creditgate_credits_consumed_total",
			Help: "Credits consumed by launches.",
		}),
		chainRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "creditgate_chain_rpc_requests_total",
			Help: "Upstream RPC requests by method and result.",
		}, []string{"method", "result"}),
		rateLimitDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "creditgate_rate_limit_denied_total",
			Help: "Requests rejected by the confirm rate limiter.",
		}),
	}
}

func (m *Metrics) RecordConfirmation(outcome string) {
	if m == nil {
		return
	}
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		outcome = "unknown"
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCreditsGranted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.creditsGranted.Add(float64(n))
}

func (m *Metrics) RecordCreditsConsumed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.creditsConsumed.Add(float64(n))
}

func (m *Metrics) RecordChainRPC(method, result string) {
	if m == nil {
		return
	}
	m.chainRPCCalls.WithLabelValues(method, result).Inc()
}

func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}
