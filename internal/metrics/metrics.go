// Package metrics exposes Prometheus collectors for runs and steps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

const namespace = "agency"

// Collector records run and step outcomes. It implements orchestrator.Observer.
type Collector struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec
	activeRuns   prometheus.Gauge
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Runs whose drive loop started, by mode.",
		}, []string{"mode"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to terminal status.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"mode", "status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step outcomes by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Generation time per step, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"step"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Step re-invocations after a failure.",
		}, []string{"step"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently driven by this process.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.runsStarted, c.runsFinished, c.runDuration,
		c.stepsTotal, c.stepDuration, c.stepRetries, c.activeRuns,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterStreamGauge exports the number of open event stream subscriptions.
func RegisterStreamGauge(reg prometheus.Registerer, count func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_subscribers",
		Help:      "Open run event stream subscriptions.",
	}, func() float64 { return float64(count()) }))
}

// RunStarted implements orchestrator.Observer.
func (c *Collector) RunStarted(mode types.RunMode) {
	c.runsStarted.WithLabelValues(string(mode)).Inc()
	c.activeRuns.Inc()
}

// RunFinished implements orchestrator.Observer.
func (c *Collector) RunFinished(mode types.RunMode, status types.RunStatus, elapsed time.Duration) {
	c.runsFinished.WithLabelValues(string(mode), string(status)).Inc()
	c.runDuration.WithLabelValues(string(mode), string(status)).Observe(elapsed.Seconds())
	c.activeRuns.Dec()
}

// StepFinished implements orchestrator.Observer.
func (c *Collector) StepFinished(step string, status types.StepStatus, elapsed time.Duration) {
	c.stepsTotal.WithLabelValues(step, string(status)).Inc()
	if status != types.StepSkipped {
		c.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	}
}

// StepRetried implements orchestrator.Observer.
func (c *Collector) StepRetried(step string) {
	c.stepRetries.WithLabelValues(step).Inc()
}
