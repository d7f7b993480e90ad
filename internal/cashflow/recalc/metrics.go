package recalc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

// Metrics exposes Prometheus collectors for recompute passes.
type Metrics struct {
	passes    *prometheus.CounterVec
	failures  prometheus.Counter
	coalesced prometheus.Counter
	cascade   prometheus.Counter
	anomalies *prometheus.CounterVec
	duration  prometheus.Histogram
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the recompute metrics. A nil registerer uses the default
// Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func (m *Metrics) observePass(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
		m.failures.Inc()
	}
	m.passes.WithLabelValues(kind, status).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) addCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) addCascade(hops int) {
	if m == nil || hops <= 0 {
		return
	}
	m.cascade.Add(float64(hops))
}

func (m *Metrics) addAnomalies(list []sign.Anomaly) {
	if m == nil {
		return
	}
	for _, a := range list {
		m.anomalies.WithLabelValues(string(a.Kind)).Inc()
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	passes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_recalc_passes_total",
		Help: "Recompute passes partitioned by trigger and status.",
	}, []string{"trigger", "status"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cashflow_recalc_failures_total",
		Help: "Recompute passes that failed after the raw change was saved.",
	})
	coalesced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cashflow_recalc_coalesced_total",
		Help: "Mutations folded into an already queued trailing pass.",
	})
	cascade := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cashflow_recalc_cascade_hops_total",
		Help: "Forward days recomputed because a closing balance moved.",
	})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_recalc_anomalies_total",
		Help: "Normalization anomalies met while recomputing.",
	}, []string{"kind"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashflow_recalc_pass_duration_seconds",
		Help:    "Duration in seconds of a single recompute pass.",
		Buckets: prometheus.DefBuckets,
	})
	registerer.MustRegister(passes, failures, coalesced, cascade, anomalies, duration)
	return &Metrics{
		passes:    passes,
		failures:  failures,
		coalesced: coalesced,
		cascade:   cascade,
		anomalies: anomalies,
		duration:  duration,
	}
}
