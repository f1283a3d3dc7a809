package queue

import (
	"context"
	"errors"

	"github.com/raftaar/ambudispatch/core/model"
)

var (
	// ErrQueueExists is returned when a queue was already created for a booking.
	ErrQueueExists = errors.New("queue already exists for booking")
	// ErrNotFound is returned when a booking, driver or entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for a state change the entry cannot make.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyTerminal guards against double resolution of an entry.
	ErrAlreadyTerminal = errors.New("entry already terminal")
	// ErrAlreadyAssigned guards against a second driver being bound to a booking.
	ErrAlreadyAssigned = errors.New("booking already assigned")
)

// Store is the persistence contract for bookings, drivers and queue entries.
// Every mutating operation must be atomic with respect to concurrent callers:
// the engine runs without an external lock manager and relies entirely on the
// conditional guards below.
type Store interface {
	// SaveBooking inserts or updates a booking record.
	SaveBooking(ctx context.Context, b model.Booking) error
	GetBooking(ctx context.Context, bookingID string) (model.Booking, error)
	// SetBookingStatus updates the booking lifecycle status.
	SetBookingStatus(ctx context.Context, bookingID string, status model.BookingStatus) error
	// AppendBookingRemark adds a timestamped line to the booking audit trail.
	AppendBookingRemark(ctx context.Context, bookingID, remark string) error
	// MarkWhatsAppSent records the terminal notification side effect.
	MarkWhatsAppSent(ctx context.Context, bookingID string) error

	SaveDriver(ctx context.Context, d model.Driver) error
	GetDriver(ctx context.Context, driverID string) (model.Driver, error)

	// CreateQueue inserts one pending entry per candidate with increasing
	// position. Fails with ErrQueueExists if the booking already has a queue.
	CreateQueue(ctx context.Context, bookingID string, candidates []model.Candidate) ([]model.QueueEntry, error)
	// MarkCalling transitions pending -> calling and stores the provider call
	// id. Any other current status yields ErrInvalidTransition.
	MarkCalling(ctx context.Context, entryID, callID string) error
	// SetEntryCallID stores the provider execution id on a calling entry.
	SetEntryCallID(ctx context.Context, entryID, callID string) error
	// RecordOutcome moves a calling (or pending, for timeout edge cases) entry
	// to a terminal status. An already-terminal entry yields ErrAlreadyTerminal
	// and no change; this is the idempotence guard both ingestion paths rely on.
	RecordOutcome(ctx context.Context, entryID string, status model.EntryStatus, response, analysis string) error
	// CancelOthers moves every non-terminal entry of the booking except
	// keepEntryID to cancelled.
	CancelOthers(ctx context.Context, bookingID, keepEntryID string) error
	// NextPending returns the lowest-position entry still pending.
	NextPending(ctx context.Context, bookingID string) (model.QueueEntry, bool, error)
	// IsBookingAssigned is the single source of truth consulted before any
	// queue advancement or finalization.
	IsBookingAssigned(ctx context.Context, bookingID string) (bool, error)
	// FinalizeAssignment sets driver_id and the assigned status, conditional on
	// driver_id being currently unset. It is the only code path that ever
	// writes driver_id; a lost race yields ErrAlreadyAssigned.
	FinalizeAssignment(ctx context.Context, bookingID, driverID string, distanceKM float64) error
	// FindCallingByCallID resolves a webhook completion event to the calling
	// entry holding that provider execution id.
	FindCallingByCallID(ctx context.Context, callID string) (model.QueueEntry, bool, error)
	GetEntry(ctx context.Context, entryID string) (model.QueueEntry, error)
	// ListEntries returns all entries of a booking ordered by position.
	ListEntries(ctx context.Context, bookingID string) ([]model.QueueEntry, error)
}
