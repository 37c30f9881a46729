// Package metrics exports the job manager's load and status transitions
// in the Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CZERTAINLY/jobber/internal/manager"
	"github.com/CZERTAINLY/jobber/internal/model"
)

const namespace = "jobber"

type Metrics struct {
	reg         *prometheus.Registry
	transitions *prometheus.CounterVec
}

// New registers gauges reading stats on every scrape.
func New(stats func() manager.Stats) *Metrics {
	reg := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_status_transitions_total",
			Help:      "Number of job status transitions split by the new status.",
		},
		[]string{"status"},
	)
	reg.MustRegister(
		transitions,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Number of jobs waiting for a free execution slot.",
		}, func() float64 { return float64(stats().Queued) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of jobs being executed.",
		}, func() float64 { return float64(stats().Running) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{reg: reg, transitions: transitions}
}

func (m *Metrics) Observe(e model.JobEvent) {
	m.transitions.WithLabelValues(e.Status.String()).Inc()
}

// Run observes events until the channel is closed or ctx is done.
func (m *Metrics) Run(ctx context.Context, events <-chan model.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
