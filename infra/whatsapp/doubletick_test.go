package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftaar/ambudispatch/infra/logger"
)

func TestWhatsAppNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"9822200010", "919822200010"},
		{"919822200010", "919822200010"},
		{"+919822200010", "919822200010"},
		{"98222-00010", "919822200010"},
		{"+1 415 555 0100", "14155550100"},
		{"12345", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, whatsAppNumber(tc.in), "input %q", tc.in)
	}
}

func TestSendTemplate(t *testing.T) {
	var got struct {
		Messages []templateMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"messageId": "msg-77", "status": "SENT"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, APIKey: "api-key-1", TemplateName: "alert_v2"}, logger.NopLogger{})
	require.NoError(t, err)

	id, err := client.SendTemplate(context.Background(), "+919822200010",
		[3]string{"12 MG Road, Pune", "Ruby Hall Clinic", "9812345678"})
	require.NoError(t, err)
	assert.Equal(t, "msg-77", id)

	require.Len(t, got.Messages, 1)
	msg := got.Messages[0]
	assert.Equal(t, "919822200010", msg.To)
	assert.Equal(t, "alert_v2", msg.Content.TemplateName)
	assert.Equal(t, "en", msg.Content.Language)
	assert.Equal(t, []string{"12 MG Road, Pune", "Ruby Hall Clinic", "9812345678"},
		msg.Content.TemplateData.Body.Placeholders)
}

func TestSendTemplateProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, APIKey: "bad"}, logger.NopLogger{})
	require.NoError(t, err)

	_, err = client.SendTemplate(context.Background(), "9822200010", [3]string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestSendTemplateRejectsBadPhone(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k"}, logger.NopLogger{})
	require.NoError(t, err)

	_, err = client.SendTemplate(context.Background(), "12345", [3]string{"a", "b", "c"})
	assert.ErrorContains(t, err, "invalid phone")
}
