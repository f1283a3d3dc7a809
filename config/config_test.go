package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validJSON = `{
  "store": {"backend": "sqlite", "path": "queue.db"},
  "voice": {"api_key": "vk", "agent_id": "agent-1", "from_number": "+918800000000"},
  "messaging": {"api_key": "wk", "template_name": "alert_v2"},
  "dispatch": {"max_wait_seconds": 60, "poll_interval_seconds": 2},
  "api": {"addr": ":9090", "token": "tok"}
}`

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", validJSON))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "queue.db", cfg.Store.Path)
	assert.Equal(t, "vk", cfg.Voice.APIKey)
	assert.Equal(t, "agent-1", cfg.Voice.AgentID)
	assert.Equal(t, "alert_v2", cfg.Messaging.TemplateName)
	assert.Equal(t, 60, cfg.Dispatch.MaxWaitSeconds)
	assert.Equal(t, ":9090", cfg.API.Addr)

	// Defaults fill in what the file omits.
	assert.Equal(t, 2, cfg.Dispatch.PollIntervalSeconds)
	assert.Equal(t, 5, cfg.Dispatch.AdvanceDelaySeconds)
	assert.Equal(t, "91", cfg.Dispatch.CountryCode)
	assert.Equal(t, "https://api.bolna.ai", cfg.Voice.BaseURL)
	assert.Equal(t, "ambudispatch.events", cfg.Events.Exchange)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", `
store:
  backend: memory
voice:
  api_key: vk
  agent_id: agent-1
`))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoadRejectsMissingVoiceCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "config.json", `{"store": {"backend": "memory"}}`))
	assert.ErrorContains(t, err, "voice")
}

func TestLoadRejectsBadStoreBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "config.json", `{
  "store": {"backend": "etcd"},
  "voice": {"api_key": "vk", "agent_id": "agent-1"}
}`))
	assert.ErrorContains(t, err, "unknown backend")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AMBU_VOICE__AGENT_ID", "agent-env")
	cfg, err := Load(writeConfig(t, "config.json", validJSON))
	require.NoError(t, err)
	assert.Equal(t, "agent-env", cfg.Voice.AgentID)
}
