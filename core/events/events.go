package events

import (
	"time"

	"github.com/raftaar/ambudispatch/core/classify"
	"github.com/raftaar/ambudispatch/core/model"
)

// CallPlacedEvent is published when an outbound call to a candidate starts.
type CallPlacedEvent struct {
	BookingID   string    `json:"booking_id"`
	EntryID     string    `json:"entry_id"`
	DriverID    string    `json:"driver_id"`
	Position    int       `json:"position"`
	ExecutionID string    `json:"execution_id"`
	Time        time.Time `json:"time"`
}

// OutcomeEvent is published when an entry reaches a terminal status.
type OutcomeEvent struct {
	BookingID string            `json:"booking_id"`
	EntryID   string            `json:"entry_id"`
	DriverID  string            `json:"driver_id"`
	Status    model.EntryStatus `json:"status"`
	Verdict   classify.Verdict  `json:"verdict"`
	Source    string            `json:"source"` // "poll" or "webhook"
	Time      time.Time         `json:"time"`
}

// AssignedEvent is published once when a booking is bound to a driver.
type AssignedEvent struct {
	BookingID  string    `json:"booking_id"`
	DriverID   string    `json:"driver_id"`
	DistanceKM float64   `json:"distance_km"`
	Time       time.Time `json:"time"`
}

// ExhaustedEvent is published when every candidate has been tried without an
// acceptance.
type ExhaustedEvent struct {
	BookingID string    `json:"booking_id"`
	Tried     int       `json:"tried"`
	Time      time.Time `json:"time"`
}
