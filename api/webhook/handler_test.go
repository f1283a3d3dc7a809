package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftaar/ambudispatch/core/dispatch"
	"github.com/raftaar/ambudispatch/infra/logger"
)

type fakeEngine struct {
	got dispatch.CompletionEvent
	out dispatch.Outcome
	err error
}

func (f *fakeEngine) HandleCompletion(_ context.Context, ev dispatch.CompletionEvent) (dispatch.Outcome, error) {
	f.got = ev
	return f.out, f.err
}

func post(t *testing.T, h http.Handler, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/call-complete", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTranscriptExtraction(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "driver response field",
			body: `{"execution_id":"e1","conversation_data":{"driver_response":"YES"}}`,
			want: "yes",
		},
		{
			name: "transcript array keeps user lines only",
			body: `{"execution_id":"e1","extracted_data":{"transcript":[
				{"speaker":"assistant","message":"Can you take this booking?"},
				{"speaker":"user","message":"Haan"},
				{"speaker":"user","message":"I will come"}]}}`,
			want: "haan i will come",
		},
		{
			name: "summary fallback",
			body: `{"execution_id":"e1","summary":"Driver declined the trip"}`,
			want: "driver declined the trip",
		},
		{
			name: "driver response wins over transcript",
			body: `{"execution_id":"e1","conversation_data":{"driver_response":"no"},
				"extracted_data":{"transcript":[{"speaker":"user","message":"yes"}]}}`,
			want: "no",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(tc.body), &p))
			assert.Equal(t, tc.want, p.Transcript())
		})
	}
}

func TestHandlerHappyPath(t *testing.T) {
	engine := &fakeEngine{out: dispatch.Outcome{
		Action:    dispatch.ActionAssigned,
		BookingID: "b1",
		DriverID:  "d1",
	}}
	h := NewHandler(engine, "", logger.NopLogger{})

	rec := post(t, h, "", map[string]any{
		"execution_id": "exec-9",
		"status":       "completed",
		"conversation_data": map[string]string{
			"driver_response": "yes i will come",
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dispatch.ActionAssigned, resp.Action)
	assert.Equal(t, "b1", resp.BookingID)
	assert.Equal(t, "d1", resp.DriverID)

	assert.Equal(t, "exec-9", engine.got.ExecutionID)
	assert.Equal(t, "yes i will come", engine.got.Transcript)
}

func TestHandlerMissingExecutionID(t *testing.T) {
	h := NewHandler(&fakeEngine{}, "", logger.NopLogger{})
	rec := post(t, h, "", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "execution_id")
}

func TestHandlerNotFoundAction(t *testing.T) {
	engine := &fakeEngine{out: dispatch.Outcome{Action: dispatch.ActionNotFound}}
	h := NewHandler(engine, "", logger.NopLogger{})
	rec := post(t, h, "", map[string]string{"execution_id": "exec-gone"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHandlerAuth(t *testing.T) {
	engine := &fakeEngine{out: dispatch.Outcome{Action: dispatch.ActionNotFound}}
	h := NewHandler(engine, "s3cret", logger.NopLogger{})

	rec := post(t, h, "", map[string]string{"execution_id": "exec-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, h, "s3cret", map[string]string{"execution_id": "exec-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerEngineError(t *testing.T) {
	engine := &fakeEngine{err: fmt.Errorf("store unavailable")}
	h := NewHandler(engine, "", logger.NopLogger{})
	rec := post(t, h, "", map[string]string{"execution_id": "exec-1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlerRejectsGet(t *testing.T) {
	h := NewHandler(&fakeEngine{}, "", logger.NopLogger{})
	req := httptest.NewRequest(http.MethodGet, "/webhook/call-complete", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
