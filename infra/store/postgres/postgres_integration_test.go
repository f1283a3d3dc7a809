package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
)

var _ queue.Store = (*Store)(nil)

// Integration tests run only against a real database, selected by
// AMBU_TEST_POSTGRES_DSN. Unique ids per test keep runs independent.
func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AMBU_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AMBU_TEST_POSTGRES_DSN not set")
	}
	s, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedQueue(t *testing.T, s *Store) (string, []model.QueueEntry) {
	t.Helper()
	ctx := context.Background()
	bookingID := uuid.NewString()
	d1, d2 := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SaveBooking(ctx, model.Booking{ID: bookingID, Code: "RFT-IT", Status: model.BookingPending}))
	require.NoError(t, s.SaveDriver(ctx, model.Driver{ID: d1, FirstName: "Ramesh", Phone: "9822200010"}))
	require.NoError(t, s.SaveDriver(ctx, model.Driver{ID: d2, FirstName: "Sunil", Phone: "9822200011"}))
	entries, err := s.CreateQueue(ctx, bookingID, []model.Candidate{
		{Driver: model.Driver{ID: d1}, DistanceKM: 1.2},
		{Driver: model.Driver{ID: d2}, DistanceKM: 3.4},
	})
	require.NoError(t, err)
	return bookingID, entries
}

func TestLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	bookingID, entries := seedQueue(t, s)

	require.NoError(t, s.MarkCalling(ctx, entries[0].ID, "exec-it-1"))
	got, ok, err := s.FindCallingByCallID(ctx, "exec-it-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries[0].ID, got.ID)

	require.NoError(t, s.RecordOutcome(ctx, entries[0].ID, model.EntryRejected, "no", "{}"))
	assert.ErrorIs(t, s.RecordOutcome(ctx, entries[0].ID, model.EntryAccepted, "yes", ""),
		queue.ErrAlreadyTerminal)

	next, ok, err := s.NextPending(ctx, bookingID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries[1].ID, next.ID)

	require.NoError(t, s.FinalizeAssignment(ctx, bookingID, next.DriverID, next.DistanceKM))
	assert.ErrorIs(t, s.FinalizeAssignment(ctx, bookingID, entries[0].DriverID, 1.2),
		queue.ErrAlreadyAssigned)

	booking, err := s.GetBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingAssigned, booking.Status)
	assert.Equal(t, next.DriverID, booking.DriverID)
}

func TestFinalizeAssignmentConcurrent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	bookingID, entries := seedQueue(t, s)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, e := range entries {
		wg.Add(1)
		go func(driverID string, km float64) {
			defer wg.Done()
			errs <- s.FinalizeAssignment(ctx, bookingID, driverID, km)
		}(e.DriverID, e.DistanceKM)
	}
	wg.Wait()
	close(errs)

	wins, losses := 0, 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, queue.ErrAlreadyAssigned)
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

func TestRemarksAndWhatsAppMarks(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	bookingID, _ := seedQueue(t, s)

	require.NoError(t, s.AppendBookingRemark(ctx, bookingID, "first note"))
	require.NoError(t, s.AppendBookingRemark(ctx, bookingID, "second note"))
	require.NoError(t, s.MarkWhatsAppSent(ctx, bookingID))

	booking, err := s.GetBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Contains(t, booking.Remarks, "first note")
	assert.Contains(t, booking.Remarks, "second note")
	assert.True(t, booking.WhatsAppSent)
	assert.False(t, booking.WhatsAppSentAt.IsZero())
}
