package call

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Context carries the booking details spoken to the driver by the voice agent.
type Context struct {
	AlertType      string    `json:"alert_type"`
	DriverName     string    `json:"driver_name"`
	BookingCode    string    `json:"booking_id"`
	VictimLocation string    `json:"victim_location"`
	NearbyHospital string    `json:"nearby_hospital"`
	ContactPhone   string    `json:"phone_number"`
	Distance       string    `json:"distance"`
	Timestamp      time.Time `json:"timestamp"`
}

// Request describes an outbound call to place.
type Request struct {
	Phone   string
	Context Context
}

// Provider is the outbound voice-call service. PlaceCall returns the
// provider's execution identifier, which later keys completion events.
type Provider interface {
	PlaceCall(ctx context.Context, req Request) (string, error)
	GetExecution(ctx context.Context, executionID string) (Execution, error)
}

// Execution is a call record as reported by the provider. The transcript may
// live in any of three fields depending on provider version, so extraction is
// defensive and degrades to an empty string.
type Execution struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	HangupBy         *string         `json:"hangup_by"`
	Transcript       string          `json:"transcript,omitempty"`
	ConversationData json.RawMessage `json:"conversation_data,omitempty"`
	Messages         json.RawMessage `json:"messages,omitempty"`
	DurationSeconds  float64         `json:"duration_in_seconds,omitempty"`
}

// Completed reports whether the call reached a terminal state. The provider
// marks status completed before the hangup reason lands, so both are required.
func (e Execution) Completed() bool {
	return strings.EqualFold(e.Status, "completed") && e.HangupBy != nil
}

// ExtractTranscript pulls the transcript out of whichever field is populated.
func (e Execution) ExtractTranscript() string {
	if len(e.ConversationData) > 0 {
		if t := transcriptFromConversationData(e.ConversationData); t != "" {
			return t
		}
	}
	if e.Transcript != "" {
		return e.Transcript
	}
	if len(e.Messages) > 0 {
		return string(e.Messages)
	}
	return ""
}

func transcriptFromConversationData(raw json.RawMessage) string {
	// Shape 1: a JSON string, possibly containing a nested JSON object.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var nested struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal([]byte(s), &nested); err == nil && nested.Transcript != "" {
			return nested.Transcript
		}
		return s
	}
	// Shape 2: an object with a transcript field.
	var obj struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Transcript != "" {
		return obj.Transcript
	}
	// Shape 3: any other object, serialized verbatim for the classifier.
	return string(raw)
}
