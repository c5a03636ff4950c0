package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus instruments. One instance per
// process, registered on the default registry.
type Metrics struct {
	OrdersSubmitted prometheus.Counter
	OrdersRejected  *prometheus.CounterVec
	OrderOutcomes   *prometheus.CounterVec
	ContextDegraded prometheus.Counter
	BreakerState    prometheus.Gauge
	ExchangeLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		OrdersSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "orders_submitted_total",
			Help:      "Orders admitted into the dispatch queue.",
		}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "orders_rejected_total",
			Help:      "Orders vetoed before dispatch, by reason code.",
		}, []string{"reason"}),
		OrderOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "order_outcomes_total",
			Help:      "Terminal order outcomes, by final state.",
		}, []string{"state"}),
		ContextDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "context_degraded_total",
			Help:      "Market context computations that fell back to conservative defaults.",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "trend_engine",
			Name:      "circuit_breaker_state",
			Help:      "Exchange circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trend_engine",
			Name:      "exchange_latency_seconds",
			Help:      "Round-trip latency of exchange REST calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
	}
}
