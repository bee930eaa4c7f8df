package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Records         *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	BasketsSkipped  *prometheus.CounterVec
	Targets         *prometheus.CounterVec
	RegimeCount     *prometheus.CounterVec
	RiskTransitions *prometheus.CounterVec
	Rolls           *prometheus.CounterVec
	PortfolioNAV    prometheus.Gauge
	PortfolioDD     prometheus.Gauge
	BasketNAV       *prometheus.GaugeVec
	ActivePositions prometheus.Gauge
}

// NewMetrics registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_records_total", Help: "Input records accepted"},
			[]string{"kind"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_records_dropped_total", Help: "Input records dropped"},
			[]string{"reason"},
		),
		Cycles: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "engine_cycles_total", Help: "Cycles evaluated"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "engine_cycle_duration_seconds", Help: "Cycle evaluation latency", Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14)},
		),
		BasketsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_baskets_skipped_total", Help: "Basket evaluations skipped"},
			[]string{"reason"},
		),
		Targets: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_targets_emitted_total", Help: "Target positions emitted"},
			[]string{"instrument", "signal"},
		),
		RegimeCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_regime_evaluations_total", Help: "Basket evaluations by regime"},
			[]string{"regime"},
		),
		RiskTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_risk_transitions_total", Help: "Risk state transitions"},
			[]string{"scope", "to"},
		),
		Rolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "engine_contract_rolls_total", Help: "Contract rolls applied"},
			[]string{"market"},
		),
		PortfolioNAV: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "engine_portfolio_net_value", Help: "Portfolio net value"},
		),
		PortfolioDD: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "engine_portfolio_drawdown_ratio", Help: "Portfolio drawdown from peak"},
		),
		BasketNAV: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "engine_basket_net_value", Help: "Basket net value"},
			[]string{"instrument"},
		),
		ActivePositions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "engine_active_positions", Help: "Baskets holding a position"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Records, m.Dropped, m.Cycles, m.CycleDuration, m.BasketsSkipped,
		m.Targets, m.RegimeCount, m.RiskTransitions, m.Rolls,
		m.PortfolioNAV, m.PortfolioDD, m.BasketNAV, m.ActivePositions,
	)
	return m
}

// Gatherer exposes the private registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
