package debate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the orchestrator's Prometheus instruments.
type Metrics struct {
	ActiveDebates prometheus.Gauge
	TurnsTotal    *prometheus.CounterVec
	TurnErrors    *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	TokensTotal   *prometheus.CounterVec
	CostTotal     prometheus.Counter
}

// NewMetrics registers the orchestrator metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveDebates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quorum_active_debates",
			Help: "Number of debates currently held in the registry.",
		}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_debate_turns_total",
			Help: "Completed participant turns by model.",
		}, []string{"model"}),
		TurnErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_debate_turn_errors_total",
			Help: "Failed participant turns by model.",
		}, []string{"model"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_debate_turn_duration_seconds",
			Help:    "Wall clock duration of one participant turn.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_debate_tokens_total",
			Help: "Tokens consumed by model.",
		}, []string{"model"}),
		CostTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorum_debate_cost_usd_total",
			Help: "Estimated LLM spend in USD.",
		}),
	}
}
