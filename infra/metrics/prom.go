package metrics

import (
	coremetrics "github.com/raftaar/ambudispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	outcomes    *prometheus.CounterVec
	assignments prometheus.Counter
	waitTime    *prometheus.HistogramVec
	attempts    prometheus.Histogram
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_entry_outcomes_total",
		Help: "Queue entry resolutions by terminal status and ingestion source",
	}, []string{"status", "source"})
	assignments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_assigned_total",
		Help: "Bookings successfully bound to a driver",
	})
	waitTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_wait_seconds",
		Help:    "Time between call placement and outcome resolution",
		Buckets: []float64{5, 15, 30, 60, 120, 300},
	}, []string{"status"})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assignment_attempts",
		Help:    "Queue position of the accepting driver",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	})

	if err := register(reg, &outcomes); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &assignments); err != nil {
		return nil, err
	}
	if err := registerHistVec(reg, &waitTime); err != nil {
		return nil, err
	}
	if err := registerHist(reg, &attempts); err != nil {
		return nil, err
	}
	return &PromSink{outcomes: outcomes, assignments: assignments, waitTime: waitTime, attempts: attempts}, nil
}

func register(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*c = are.ExistingCollector.(*prometheus.CounterVec)
			return nil
		}
		return err
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.Counter) error {
	if err := reg.Register(*c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*c = are.ExistingCollector.(prometheus.Counter)
			return nil
		}
		return err
	}
	return nil
}

func registerHistVec(reg prometheus.Registerer, h **prometheus.HistogramVec) error {
	if err := reg.Register(*h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*h = are.ExistingCollector.(*prometheus.HistogramVec)
			return nil
		}
		return err
	}
	return nil
}

func registerHist(reg prometheus.Registerer, h *prometheus.Histogram) error {
	if err := reg.Register(*h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*h = are.ExistingCollector.(prometheus.Histogram)
			return nil
		}
		return err
	}
	return nil
}

// RecordCallOutcome increments the outcome counter and wait-time histogram.
func (s *PromSink) RecordCallOutcome(ev coremetrics.CallOutcome) error {
	s.outcomes.WithLabelValues(string(ev.Status), ev.Source).Inc()
	if ev.WaitSeconds > 0 {
		s.waitTime.WithLabelValues(string(ev.Status)).Observe(ev.WaitSeconds)
	}
	return nil
}

// RecordAssignment increments the assignment counter and attempts histogram.
func (s *PromSink) RecordAssignment(ev coremetrics.Assignment) error {
	s.assignments.Inc()
	if ev.Attempts > 0 {
		s.attempts.Observe(float64(ev.Attempts))
	}
	return nil
}
