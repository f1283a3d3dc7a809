package model

import (
	"fmt"
	"time"
)

// EntryStatus is the state of one candidate's dispatch attempt.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCalling   EntryStatus = "calling"
	EntryAccepted  EntryStatus = "accepted"
	EntryRejected  EntryStatus = "rejected"
	EntryNoAnswer  EntryStatus = "no_answer"
	EntryUnclear   EntryStatus = "unclear"
	EntryCancelled EntryStatus = "cancelled"
	EntryFailed    EntryStatus = "failed"
)

// Terminal reports whether no further transition may occur from the status.
// Only pending and calling entries can still move.
func (s EntryStatus) Terminal() bool {
	return s != EntryPending && s != EntryCalling
}

// QueueEntry records one candidate's attempt for one booking. Position is
// assigned at queue creation and never changes; CallID is set on the
// transition to calling and serves as the idempotence key for completion
// events arriving from the voice provider.
type QueueEntry struct {
	ID          string      `json:"id"`
	BookingID   string      `json:"booking_id"`
	DriverID    string      `json:"driver_id"`
	Position    int         `json:"position"`
	Status      EntryStatus `json:"status"`
	CallID      string      `json:"call_id,omitempty"`
	Response    string      `json:"response,omitempty"` // normalized outcome tag: yes|no|timeout|unclear|...
	Analysis    string      `json:"analysis,omitempty"` // serialized classifier verdict, for audit
	DistanceKM  float64     `json:"distance_km"`
	CalledAt    time.Time   `json:"called_at"`
	RespondedAt time.Time   `json:"responded_at"`
}

// DistanceLabel formats the travel distance the way it is spoken to the
// driver and shown on the dashboard.
func (e QueueEntry) DistanceLabel() string {
	return fmt.Sprintf("%.1f km", e.DistanceKM)
}
