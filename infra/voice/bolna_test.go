package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftaar/ambudispatch/core/call"
	"github.com/raftaar/ambudispatch/infra/logger"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		AgentID: "agent-1",
	}, logger.NopLogger{})
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesCredentials(t *testing.T) {
	_, err := NewClient(Config{AgentID: "agent-1"}, logger.NopLogger{})
	assert.ErrorContains(t, err, "api_key")

	_, err = NewClient(Config{APIKey: "secret"}, logger.NopLogger{})
	assert.ErrorContains(t, err, "agent_id")
}

func TestPlaceCall(t *testing.T) {
	var got callPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/call", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"status": "queued", "execution_id": "exec-9"})
	}))
	defer srv.Close()

	client := testClient(t, srv)
	execID, err := client.PlaceCall(context.Background(), call.Request{
		Phone: "+919822200010",
		Context: call.Context{
			AlertType:      "Ambulance Alert",
			DriverName:     "Ramesh",
			BookingCode:    "RFT-1001",
			VictimLocation: "12 MG Road, Pune",
			Distance:       "1.2 km",
			Timestamp:      time.Now().UTC(),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-9", execID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "+919822200010", got.RecipientPhone)
	assert.Equal(t, "RFT-1001", got.UserData.BookingCode)
	assert.Equal(t, "1.2 km", got.UserData.Distance)
}

func TestPlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"message": "insufficient balance"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv).PlaceCall(context.Background(), call.Request{Phone: "+919822200010"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 402")
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestPlaceCallMissingExecutionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv).PlaceCall(context.Background(), call.Request{Phone: "+919822200010"})
	assert.ErrorContains(t, err, "execution_id")
}

func TestGetExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/executions/exec-9", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"status":              "completed",
			"hangup_by":           "user",
			"transcript":          "yes i will come",
			"duration_in_seconds": 21.5,
		})
	}))
	defer srv.Close()

	exec, err := testClient(t, srv).GetExecution(context.Background(), "exec-9")
	require.NoError(t, err)
	assert.True(t, exec.Completed())
	assert.Equal(t, "exec-9", exec.ID)
	assert.Equal(t, "yes i will come", exec.ExtractTranscript())
	assert.Equal(t, 21.5, exec.DurationSeconds)
}

func TestGetExecutionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
