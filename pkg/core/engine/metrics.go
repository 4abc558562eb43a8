package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics 引擎指标
type metrics struct {
	gatherer prometheus.Gatherer

	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	steps             *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	recovered         prometheus.Counter
	activeWorkflows   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		workflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "workflows_started_total",
			Help:      "Workflow executions started, including recovered ones.",
		}, []string{"workflow"}),
		workflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "workflows_finished_total",
			Help:      "Workflow executions that reached a terminal status.",
		}, []string{"workflow", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "steps_total",
			Help:      "Step invocations by outcome (executed, failed, replayed).",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durable",
			Name:      "step_duration_seconds",
			Help:      "Duration of executed (non-replayed) steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "durable",
			Name:      "workflows_recovered_total",
			Help:      "Workflows resumed by the recovery sweep.",
		}),
		activeWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "durable",
			Name:      "active_workflows",
			Help:      "Workflows currently executing in this process.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.workflowsStarted, m.workflowsFinished, m.steps, m.stepDuration, m.recovered, m.activeWorkflows,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}
