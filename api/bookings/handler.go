// Package bookings exposes read-only dispatch state for diagnosis.
package bookings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
)

type queueView struct {
	Booking model.Booking      `json:"booking"`
	Entries []model.QueueEntry `json:"entries"`
}

// NewQueueHandler returns an HTTP handler exposing a booking's queue state via
// GET with a booking_id query parameter. Requests must include an
// Authorization header with "Bearer <token>" when token is non-empty.
func NewQueueHandler(store queue.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		bookingID := r.URL.Query().Get("booking_id")
		if bookingID == "" {
			http.Error(w, "booking_id is required", http.StatusBadRequest)
			return
		}
		booking, err := store.GetBooking(r.Context(), bookingID)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				http.Error(w, "booking not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		entries, err := store.ListEntries(r.Context(), bookingID)
		if err != nil && !errors.Is(err, queue.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(queueView{Booking: booking, Entries: entries}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
