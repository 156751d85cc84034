// metrics.go: Prometheus stage metrics
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports stage timings and outcomes.
//
// Metrics:
//   - entrypoint_stage_duration_seconds{app, stage}: histogram
//   - entrypoint_stage_failures_total{app, stage}: counter
//   - entrypoint_runs_total{app, outcome}: counter, outcome is completed or failed
type MetricsObserver struct {
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	Runs          *prometheus.CounterVec
}

// NewMetricsObserver registers the metrics on reg, or on the default
// registerer when reg is nil. Collectors already registered are reused.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entrypoint",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each startup stage.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"app", "stage"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entrypoint",
		Name:      "stage_failures_total",
		Help:      "Number of failed startup stages.",
	}, []string{"app", "stage"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entrypoint",
		Name:      "runs_total",
		Help:      "Number of finished pipeline runs by outcome.",
	}, []string{"app", "outcome"})

	var err error
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	if failures, err = registerOrReuse(reg, failures); err != nil {
		return nil, err
	}
	if runs, err = registerOrReuse(reg, runs); err != nil {
		return nil, err
	}

	return &MetricsObserver{StageDuration: duration, StageFailures: failures, Runs: runs}, nil
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if goerrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, ErrCodeAudit, "failed to register metrics: "+err.Error())
	}
	return c, nil
}

// ObserveStage implements Observer.
func (m *MetricsObserver) ObserveStage(e StageEvent) error {
	stage := e.Stage.String()
	m.StageDuration.WithLabelValues(e.App, stage).Observe(e.Duration.Seconds())

	switch e.State {
	case StateFailed:
		m.StageFailures.WithLabelValues(e.App, stage).Inc()
		m.Runs.WithLabelValues(e.App, "failed").Inc()
	case StateCompleted:
		m.Runs.WithLabelValues(e.App, "completed").Inc()
	}
	return nil
}
