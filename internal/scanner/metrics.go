package scanner

import (
	"github.com/prometheus/client_golang/prometheus"

	"screener/pkg/model"
)

// Metrics holds the pipeline's Prometheus collectors
type Metrics struct {
	Runs         prometheus.Counter
	RunDuration  prometheus.Histogram
	Symbols      *prometheus.CounterVec
	Grades       *prometheus.GaugeVec
	CacheLookups *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_runs_total",
			Help: "Total number of pipeline runs",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_run_duration_seconds",
			Help:    "Duration of a full pipeline run in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_symbols_total",
			Help: "Symbols processed by outcome (ok or skip reason)",
		}, []string{"outcome"}),
		Grades: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screener_grade_count",
			Help: "Records per grade in the latest run",
		}, []string{"grade"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_cache_lookups_total",
			Help: "Bar cache lookups by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Runs, m.RunDuration, m.Symbols, m.Grades, m.CacheLookups)
	return m
}

// ObserveRun records one finished run
func (m *Metrics) ObserveRun(rs *model.ResultSet) {
	m.Runs.Inc()
	m.RunDuration.Observe(rs.Duration.Seconds())
	m.Symbols.WithLabelValues("ok").Add(float64(len(rs.Records)))
	for reason, n := range rs.SkipReasons {
		m.Symbols.WithLabelValues(string(reason)).Add(float64(n))
	}
	for _, g := range model.AllGrades {
		m.Grades.WithLabelValues(g.String()).Set(float64(rs.CountGrade(g)))
	}
}

// ObserveCache counts a cache hit or miss
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}
