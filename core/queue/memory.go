package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raftaar/ambudispatch/core/model"
)

// MemoryStore is a mutex-guarded in-memory Store used in tests and local
// development. All guards behave exactly like the SQL-backed stores.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]model.Booking
	drivers  map[string]model.Driver
	entries  map[string]model.QueueEntry
	byBookng map[string][]string // booking id -> entry ids in position order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: map[string]model.Booking{},
		drivers:  map[string]model.Driver{},
		entries:  map[string]model.QueueEntry{},
		byBookng: map[string][]string{},
	}
}

func (s *MemoryStore) SaveBooking(_ context.Context, b model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, bookingID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	return b, nil
}

func (s *MemoryStore) SetBookingStatus(_ context.Context, bookingID string, status model.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	b.Status = status
	s.bookings[bookingID] = b
	return nil
}

func (s *MemoryStore) AppendBookingRemark(_ context.Context, bookingID, remark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), remark)
	if b.Remarks == "" {
		b.Remarks = line
	} else {
		b.Remarks += "\n" + line
	}
	s.bookings[bookingID] = b
	return nil
}

func (s *MemoryStore) MarkWhatsAppSent(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	b.WhatsAppSent = true
	b.WhatsAppSentAt = time.Now().UTC()
	s.bookings[bookingID] = b
	return nil
}

func (s *MemoryStore) SaveDriver(_ context.Context, d model.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDriver(_ context.Context, driverID string) (model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok {
		return model.Driver{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) CreateQueue(_ context.Context, bookingID string, candidates []model.Candidate) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byBookng[bookingID]) > 0 {
		return nil, fmt.Errorf("booking %s: %w", bookingID, ErrQueueExists)
	}
	created := make([]model.QueueEntry, 0, len(candidates))
	for i, c := range candidates {
		e := model.QueueEntry{
			ID:         uuid.NewString(),
			BookingID:  bookingID,
			DriverID:   c.Driver.ID,
			Position:   i + 1,
			Status:     model.EntryPending,
			DistanceKM: c.DistanceKM,
		}
		s.entries[e.ID] = e
		s.byBookng[bookingID] = append(s.byBookng[bookingID], e.ID)
		created = append(created, e)
	}
	return created, nil
}

func (s *MemoryStore) MarkCalling(_ context.Context, entryID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if e.Status != model.EntryPending {
		return fmt.Errorf("entry %s is %s: %w", entryID, e.Status, ErrInvalidTransition)
	}
	e.Status = model.EntryCalling
	e.CallID = callID
	e.CalledAt = time.Now().UTC()
	s.entries[entryID] = e
	return nil
}

func (s *MemoryStore) SetEntryCallID(_ context.Context, entryID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if e.Status != model.EntryCalling {
		return fmt.Errorf("entry %s is %s: %w", entryID, e.Status, ErrInvalidTransition)
	}
	e.CallID = callID
	s.entries[entryID] = e
	return nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, entryID string, status model.EntryStatus, response, analysis string) error {
	if !status.Terminal() {
		return fmt.Errorf("outcome %s is not terminal: %w", status, ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if e.Status.Terminal() {
		return fmt.Errorf("entry %s is %s: %w", entryID, e.Status, ErrAlreadyTerminal)
	}
	e.Status = status
	e.Response = response
	e.Analysis = analysis
	e.RespondedAt = time.Now().UTC()
	s.entries[entryID] = e
	return nil
}

func (s *MemoryStore) CancelOthers(_ context.Context, bookingID, keepEntryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byBookng[bookingID] {
		if id == keepEntryID {
			continue
		}
		e := s.entries[id]
		if e.Status.Terminal() {
			continue
		}
		e.Status = model.EntryCancelled
		e.RespondedAt = time.Now().UTC()
		s.entries[id] = e
	}
	return nil
}

func (s *MemoryStore) NextPending(_ context.Context, bookingID string) (model.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best model.QueueEntry
	found := false
	for _, id := range s.byBookng[bookingID] {
		e := s.entries[id]
		if e.Status != model.EntryPending {
			continue
		}
		if !found || e.Position < best.Position {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) IsBookingAssigned(_ context.Context, bookingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return false, fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	return b.DriverID != "", nil
}

func (s *MemoryStore) FinalizeAssignment(_ context.Context, bookingID, driverID string, distanceKM float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	if b.DriverID != "" {
		return fmt.Errorf("booking %s has driver %s: %w", bookingID, b.DriverID, ErrAlreadyAssigned)
	}
	b.DriverID = driverID
	b.Status = model.BookingAssigned
	b.DistanceKM = distanceKM
	s.bookings[bookingID] = b
	return nil
}

func (s *MemoryStore) FindCallingByCallID(_ context.Context, callID string) (model.QueueEntry, bool, error) {
	// Entries reserved by MarkCalling carry an empty call id until the
	// provider accepts the call; they must never match a lookup.
	if callID == "" {
		return model.QueueEntry{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.CallID == callID && e.Status == model.EntryCalling {
			return e, true, nil
		}
	}
	return model.QueueEntry{}, false, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, entryID string) (model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return model.QueueEntry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	return e, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, bookingID string) ([]model.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byBookng[bookingID]
	out := make([]model.QueueEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}
