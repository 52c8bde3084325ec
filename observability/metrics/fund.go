package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type FundMetrics struct {
	requestsSubmitted *prometheus.CounterVec
	requestsSettled   *prometheus.CounterVec
	batchesProcessed  *prometheus.CounterVec
	disbursements     prometheus.Counter
	aumValue          prometheus.Gauge
	tokenPrice        prometheus.Gauge
	theoreticalSupply prometheus.Gauge
}

var (
	fundOnce     sync.Once
	fundRegistry *FundMetrics
)

func Fund() *FundMetrics {
	fundOnce.Do(func() {
		fundRegistry = &FundMetrics{
			requestsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fund_requests_submitted_total",
				Help: "Count of deposit/withdrawal requests accepted into a queue.",
			}, []string{"kind"}),
			requestsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fund_requests_settled_total",
				Help: "Count of requests moved to a terminal status by the processor.",
			}, []string{"kind", "status"}),
			batchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fund_batches_processed_total",
				Help: "Count of settlement batches executed by the task runner.",
			}, []string{"kind"}),
			disbursements: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "fund_disbursements_total",
				Help: "Count of period-end participant disbursements.",
			}),
			aumValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "fund_aum_value",
				Help: "Last recorded assets-under-management value.",
			}),
			tokenPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "fund_token_price",
				Help: "Claim token price implied by AUM and supply.",
			}),
			theoreticalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "fund_theoretical_supply",
				Help: "Theoretical claim token supply after the last AUM recording.",
			}),
		}
		prometheus.MustRegister(
			fundRegistry.requestsSubmitted,
			fundRegistry.requestsSettled,
			fundRegistry.batchesProcessed,
			fundRegistry.disbursements,
			fundRegistry.aumValue,
			fundRegistry.tokenPrice,
			fundRegistry.theoreticalSupply,
		)
	})
	return fundRegistry
}

func (m *FundMetrics) ObserveRequestSubmitted(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.requestsSubmitted.WithLabelValues(kind).Inc()
}

func (m *FundMetrics) ObserveRequestSettled(kind, status string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.requestsSettled.WithLabelValues(kind, status).Inc()
}

func (m *FundMetrics) ObserveBatch(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.batchesProcessed.WithLabelValues(kind).Inc()
}

func (m *FundMetrics) IncDisbursement() {
	if m == nil {
		return
	}
	m.disbursements.Inc()
}

func (m *FundMetrics) SetAumValue(v float64) {
	if m == nil {
		return
	}
	m.aumValue.Set(v)
}

func (m *FundMetrics) SetTokenPrice(v float64) {
	if m == nil {
		return
	}
	m.tokenPrice.Set(v)
}

func (m *FundMetrics) SetTheoreticalSupply(v float64) {
	if m == nil {
		return
	}
	m.theoreticalSupply.Set(v)
}
