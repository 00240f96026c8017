package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UPSTREAM_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("UPSTREAM_API_VERSION", "2024-10-01-preview")
	t.Setenv("UPSTREAM_DEPLOYMENT", "gpt-4o-realtime-preview")
	t.Setenv("UPSTREAM_API_KEY", "test-key")
	t.Setenv("DOCSTORE_ENDPOINT", "mongodb://localhost:27017")
	t.Setenv("DOCSTORE_DATABASE", "callcenter")
}

func TestConfig_Load_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, DefaultCredentialScope, cfg.Credential.Scope)
	assert.Equal(t, "ai_conversations", cfg.Docstore.ConversationsCollection)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.Server.FrontendOrigins)
	assert.Equal(t, "English", cfg.Language)
}

func TestConfig_Load_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOOL_CALL_TIMEOUT_SECONDS", "30")
	t.Setenv("FRONTEND_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("GATEWAY_LANGUAGE", "German")
	t.Setenv("DOCSTORE_AI_CONVERSATIONS_CONTAINER", "conversations_v2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.Server.FrontendOrigins)
	assert.Equal(t, "German", cfg.Language)
	assert.Equal(t, "conversations_v2", cfg.Docstore.ConversationsCollection)
}

func TestConfig_Load_InvalidTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOOL_CALL_TIMEOUT_SECONDS", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate_MissingUpstream(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UPSTREAM_ENDPOINT", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "UPSTREAM_ENDPOINT")
}

func TestConfig_Validate_MissingCredential(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UPSTREAM_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestConfig_Validate_ClientCredentialsAccepted(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UPSTREAM_API_KEY", "")
	t.Setenv("CREDENTIAL_TOKEN_URL", "https://login.example.com/oauth2/v2.0/token")
	t.Setenv("CREDENTIAL_CLIENT_ID", "client")
	t.Setenv("CREDENTIAL_CLIENT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestParseAgentsFile_Valid(t *testing.T) {
	data := []byte(`
agents:
  - id: Assistant_Web_Agent
    description: Searches the public web.
    system_message: You search the web and answer in {language}.
    tools:
      - web_search
`)
	file, err := ParseAgentsFile(data)
	require.NoError(t, err)
	require.Len(t, file.Agents, 1)

	a := file.Agents[0]
	assert.Equal(t, "Assistant_Web_Agent", a.ID)
	assert.False(t, a.Root)
	assert.Equal(t, []string{"web_search"}, a.Tools)
}

func TestParseAgentsFile_EnvExpansion(t *testing.T) {
	t.Setenv("COMPANY_NAME", "Contoso")

	data := []byte(`
agents:
  - id: Assistant_Concierge
    description: Front desk.
    system_message: You are the ${COMPANY_NAME} concierge.
    root: true
`)
	file, err := ParseAgentsFile(data)
	require.NoError(t, err)
	require.Len(t, file.Agents, 1)
	assert.Equal(t, "You are the Contoso concierge.", file.Agents[0].SystemMessage)
	assert.True(t, file.Agents[0].Root)
}

func TestParseAgentsFile_DuplicateID(t *testing.T) {
	data := []byte(`
agents:
  - id: Assistant_A
    system_message: a
  - id: Assistant_A
    system_message: b
`)
	_, err := ParseAgentsFile(data)
	assert.ErrorContains(t, err, "declared twice")
}

func TestParseAgentsFile_TwoRoots(t *testing.T) {
	data := []byte(`
agents:
  - id: Assistant_A
    system_message: a
    root: true
  - id: Assistant_B
    system_message: b
    root: true
`)
	_, err := ParseAgentsFile(data)
	assert.ErrorContains(t, err, "at most one agent")
}

func TestParseAgentsFile_MissingSystemMessage(t *testing.T) {
	data := []byte(`
agents:
  - id: Assistant_A
    description: no prompt
`)
	_, err := ParseAgentsFile(data)
	assert.ErrorContains(t, err, "system_message is required")
}
