package call

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func TestExecution_Completed(t *testing.T) {
	assert.False(t, Execution{Status: "in-progress"}.Completed())
	assert.False(t, Execution{Status: "completed"}.Completed())
	assert.True(t, Execution{Status: "completed", HangupBy: strptr("agent")}.Completed())
	assert.True(t, Execution{Status: "Completed", HangupBy: strptr("callee")}.Completed())
}

func TestExecution_ExtractTranscript(t *testing.T) {
	tests := []struct {
		name string
		exec Execution
		want string
	}{
		{
			"conversation data as plain string",
			Execution{ConversationData: json.RawMessage(`"yes I am coming"`)},
			"yes I am coming",
		},
		{
			"conversation data as string-wrapped json",
			Execution{ConversationData: json.RawMessage(`"{\"transcript\":\"no too far\"}"`)},
			"no too far",
		},
		{
			"conversation data as object",
			Execution{ConversationData: json.RawMessage(`{"transcript":"haan thik hai"}`)},
			"haan thik hai",
		},
		{
			"direct transcript field",
			Execution{Transcript: "okay fine"},
			"okay fine",
		},
		{
			"message list serialized",
			Execution{Messages: json.RawMessage(`[{"speaker":"user","message":"busy"}]`)},
			`[{"speaker":"user","message":"busy"}]`,
		},
		{
			"nothing populated",
			Execution{},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.exec.ExtractTranscript())
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"9876543210", "+919876543210", false},
		{"919876543210", "+919876543210", false},
		{"+919876543210", "+919876543210", false},
		{"098 7654 3210", "+919876543210", false},
		{"98-76-54-32-10", "+919876543210", false},
		{"12345", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in, "91")
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPhone, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
