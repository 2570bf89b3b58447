// Package metrics exposes mailbot's prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailbot"

// Delivery and cycle result labels.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultAbandoned = "abandoned"

	CycleOK      = "ok"
	CycleAborted = "aborted"
	CyclePanic   = "panic"
)

type Metrics struct {
	reg *prometheus.Registry

	FiringsTotal    *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	DueSchedules    prometheus.Gauge
	KeywordAccess   *prometheus.CounterVec
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		FiringsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "firings_total", Help: "Campaign firings by schedule kind"},
			[]string{"kind"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "deliveries_total", Help: "Per-recipient delivery attempts by result"},
			[]string{"result"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "scheduler_cycles_total", Help: "Scheduler poll cycles by result"},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_cycle_seconds",
			Help:      "Time spent processing one scheduler cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		DueSchedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "due_schedules", Help: "Schedules found due in the last cycle",
		}),
		KeywordAccess: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "keyword_access_total", Help: "Keyword deep-link accesses by result"},
			[]string{"result"},
		),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FiringsTotal, m.DeliveriesTotal, m.CyclesTotal, m.CycleDuration, m.DueSchedules, m.KeywordAccess,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Firing(kind string) {
	if m == nil {
		return
	}
	m.FiringsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Deliveries(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeliveriesTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Cycle(result string, dur time.Duration, due int) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(dur.Seconds())
	if due >= 0 {
		m.DueSchedules.Set(float64(due))
	}
}

func (m *Metrics) Keyword(result string) {
	if m == nil {
		return
	}
	m.KeywordAccess.WithLabelValues(result).Inc()
}
