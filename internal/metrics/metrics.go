// Package metrics exposes runner and pool state as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "demandd"

// Metrics holds the runner collectors.
type Metrics struct {
	reg        prometheus.Registerer
	registered *prometheus.CounterVec
	exits      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	runOne     *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates the runner collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		registered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_registered_total",
			Help:      "Service payloads registered, by flavour.",
		}, []string{"flavour"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_exits_total",
			Help:      "Service payload exits, by flavour and exit kind.",
		}, []string{"flavour", "exit"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_failures_total",
			Help:      "Runners that failed because of a payload, by flavour.",
		}, []string{"flavour"}),
		runOne: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_one_duration_seconds",
			Help:      "Duration of synchronous one-off payloads.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"flavour", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.registered, m.exits, m.failures, m.runOne} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns runner hooks feeding the collectors.
func (m *Metrics) Hooks() runner.Hooks {
	return runner.Hooks{
		OnRegister: func(f runner.Flavour, payload string) {
			m.registered.WithLabelValues(f.String()).Inc()
		},
		OnPayloadExit: func(f runner.Flavour, payload string, exit runner.Exit) {
			m.exits.WithLabelValues(f.String(), exit.String()).Inc()
		},
		OnFailure: func(failure *runner.Failure) {
			m.failures.WithLabelValues(failure.Flavour.String()).Inc()
		},
		OnRunOne: func(f runner.Flavour, elapsed time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.runOne.WithLabelValues(f.String(), outcome).Observe(elapsed.Seconds())
		},
	}
}

// RegisterPool exports the demand and signals of p as gauges.
func (m *Metrics) RegisterPool(p pool.Pool) error {
	gauges := []prometheus.Collector{
		gauge("pool_demand", "Demand requested at the head of the pipeline.", p.Demand),
		gauge("pool_supply", "Resources currently provided by the pool.", p.Supply),
		gauge("pool_utilisation", "Fraction of the supply in use.", p.Utilisation),
		gauge("pool_allocation", "Fraction of the supply allocated.", p.Allocation),
	}
	var errs []error
	for _, g := range gauges {
		errs = append(errs, m.reg.Register(g))
	}
	return errors.Join(errs...)
}

func gauge(name, help string, value func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, value)
}
