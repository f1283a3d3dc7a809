package metrics

import (
	"time"

	"github.com/raftaar/ambudispatch/core/model"
)

// CallOutcome records the resolution of one queue entry.
type CallOutcome struct {
	BookingID   string
	EntryID     string
	DriverID    string
	Position    int
	Status      model.EntryStatus
	Verdict     string
	Source      string // poll or webhook
	WaitSeconds float64
	Time        time.Time
}

// Assignment records the terminal binding of a driver to a booking.
type Assignment struct {
	BookingID  string
	DriverID   string
	DistanceKM float64
	Attempts   int // queue position of the accepting driver
	Time       time.Time
}

// Sink records dispatch events for observability purposes.
type Sink interface {
	RecordCallOutcome(ev CallOutcome) error
	RecordAssignment(ev Assignment) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordCallOutcome(CallOutcome) error { return nil }
func (NopSink) RecordAssignment(Assignment) error   { return nil }

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}
