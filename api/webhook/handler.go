// Package webhook exposes the voice provider's completion callback endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raftaar/ambudispatch/core/dispatch"
	"github.com/raftaar/ambudispatch/core/logger"
)

// Engine resolves canonicalized completion events.
type Engine interface {
	HandleCompletion(ctx context.Context, ev dispatch.CompletionEvent) (dispatch.Outcome, error)
}

// Payload is the provider's completion callback body. The transcript can
// arrive in any of three places depending on agent configuration.
type Payload struct {
	ExecutionID      string `json:"execution_id"`
	Status           string `json:"status"`
	CallStatus       string `json:"call_status,omitempty"`
	ConversationData *struct {
		DriverResponse string `json:"driver_response,omitempty"`
	} `json:"conversation_data,omitempty"`
	ExtractedData *struct {
		Transcript []struct {
			Message string `json:"message"`
			Speaker string `json:"speaker"`
		} `json:"transcript,omitempty"`
	} `json:"extracted_data,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Transcript extracts the driver's words from whichever field is populated:
// the structured driver_response, the user lines of the transcript array, or
// the call summary.
func (p Payload) Transcript() string {
	if p.ConversationData != nil && p.ConversationData.DriverResponse != "" {
		return strings.ToLower(p.ConversationData.DriverResponse)
	}
	if p.ExtractedData != nil && len(p.ExtractedData.Transcript) > 0 {
		var user []string
		for _, line := range p.ExtractedData.Transcript {
			if line.Speaker == "user" {
				user = append(user, line.Message)
			}
		}
		if len(user) > 0 {
			return strings.ToLower(strings.Join(user, " "))
		}
	}
	return strings.ToLower(p.Summary)
}

// Event converts the raw payload into the engine's canonical form.
func (p Payload) Event() dispatch.CompletionEvent {
	return dispatch.CompletionEvent{
		ExecutionID: p.ExecutionID,
		Status:      p.Status,
		CallStatus:  p.CallStatus,
		Transcript:  p.Transcript(),
	}
}

type response struct {
	Action    dispatch.Action `json:"action"`
	BookingID string          `json:"booking_id,omitempty"`
	EntryID   string          `json:"entry_id,omitempty"`
	DriverID  string          `json:"driver_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewHandler returns the POST handler for provider completion callbacks.
// Requests must include "Bearer <token>" when token is non-empty. Replayed
// and unknown execution ids answer 404 with action not_found.
func NewHandler(engine Engine, token string, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, response{Error: "invalid payload: " + err.Error()})
			return
		}
		if payload.ExecutionID == "" {
			writeJSON(w, http.StatusBadRequest, response{Error: "missing execution_id"})
			return
		}

		out, err := engine.HandleCompletion(r.Context(), payload.Event())
		if err != nil {
			log.Errorf("webhook %s: %v", payload.ExecutionID, err)
			writeJSON(w, http.StatusInternalServerError, response{Error: err.Error()})
			return
		}
		status := http.StatusOK
		if out.Action == dispatch.ActionNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, response{
			Action:    out.Action,
			BookingID: out.BookingID,
			EntryID:   out.EntryID,
			DriverID:  out.DriverID,
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
