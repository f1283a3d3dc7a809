package bookings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
)

func seed(t *testing.T) *queue.MemoryStore {
	t.Helper()
	store := queue.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveBooking(ctx, model.Booking{ID: "b1", Code: "RFT-1001", Status: model.BookingPending}))
	require.NoError(t, store.SaveDriver(ctx, model.Driver{ID: "d1", FirstName: "Ramesh", Phone: "9822200010"}))
	_, err := store.CreateQueue(ctx, "b1", []model.Candidate{
		{Driver: model.Driver{ID: "d1"}, DistanceKM: 1.2},
	})
	require.NoError(t, err)
	return store
}

func TestQueueHandler(t *testing.T) {
	h := NewQueueHandler(seed(t), "")
	req := httptest.NewRequest(http.MethodGet, "/api/bookings/queue?booking_id=b1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view queueView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "RFT-1001", view.Booking.Code)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "d1", view.Entries[0].DriverID)
	assert.Equal(t, model.EntryPending, view.Entries[0].Status)
}

func TestQueueHandlerMissingParam(t *testing.T) {
	h := NewQueueHandler(seed(t), "")
	req := httptest.NewRequest(http.MethodGet, "/api/bookings/queue", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueHandlerUnknownBooking(t *testing.T) {
	h := NewQueueHandler(seed(t), "")
	req := httptest.NewRequest(http.MethodGet, "/api/bookings/queue?booking_id=ghost", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueHandlerAuth(t *testing.T) {
	h := NewQueueHandler(seed(t), "tok")

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/queue?booking_id=b1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/bookings/queue?booking_id=b1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
