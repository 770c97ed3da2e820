package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors for the router.
type Metrics struct {
	StatementsTotal        *prometheus.CounterVec
	ExtractionsTotal       *prometheus.CounterVec
	CandidatesPerStatement prometheus.Histogram
	QuestionsTotal         *prometheus.CounterVec
	MemoryOpsTotal         *prometheus.CounterVec
	SessionsActive         prometheus.Gauge
}

// Default returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - dnm_statements_total{destination}
//   - dnm_extractions_total{method}
//   - dnm_candidates_per_statement
//   - dnm_questions_total{outcome} - asked, yes, no, skip, previous, memory, auto
//   - dnm_memory_ops_total{op,result}
//   - dnm_sessions_active
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StatementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dnm_statements_total",
				Help: "Statements routed, by final destination",
			}, []string{"destination"}),
			ExtractionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dnm_extractions_total",
				Help: "Name extractions, by cascade method",
			}, []string{"method"}),
			CandidatesPerStatement: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "dnm_candidates_per_statement",
				Help:    "Roster candidates above threshold per statement",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
			}),
			QuestionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dnm_questions_total",
				Help: "Review question outcomes",
			}, []string{"outcome"}),
			MemoryOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dnm_memory_ops_total",
				Help: "Decision memory operations, by result",
			}, []string{"op", "result"}),
			SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "dnm_sessions_active",
				Help: "Open review sessions",
			}),
		}
	})
	return globalMetrics
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
