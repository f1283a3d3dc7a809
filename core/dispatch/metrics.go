package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsPlaced   prometheus.Counter
	callFailures  prometheus.Counter
	entryOutcomes *prometheus.CounterVec
	queueExhausts prometheus.Counter
	webhookEvents *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, prometheus.Counter, *prometheus.CounterVec, prometheus.Counter, *prometheus.CounterVec) {
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_calls_placed_total",
		Help: "Number of outbound driver calls placed",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_call_failures_total",
		Help: "Number of call placements that failed at the provider boundary",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_entry_outcomes_total",
		Help: "Queue entry resolutions by terminal status and source",
	}, []string{"status", "source"})
	exhausts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_queue_exhausted_total",
		Help: "Bookings for which every candidate was tried without acceptance",
	})
	webhook := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_webhook_events_total",
		Help: "Webhook completion events by resulting action",
	}, []string{"action"})
	return placed, failures, outcomes, exhausts, webhook
}

func init() {
	callsPlaced, callFailures, entryOutcomes, queueExhausts, webhookEvents = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{callsPlaced, callFailures, entryOutcomes, queueExhausts, webhookEvents} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
