package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromBytes_OverridesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  addr: ":9000"
model:
  name: gpt-4o-mini
rate_limit:
  token_limit: 5000
  window: 30s
history:
  memory_limit: 4
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, 5000, cfg.RateLimit.TokenLimit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 4, cfg.History.MemoryLimit)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultMaxToolRounds, cfg.Model.MaxToolRounds)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Files.MaxFileSize)
}

func TestLoadFromBytes_EnvWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("RBCHAT_MODEL", "gpt-4.1")
	t.Setenv("RBCHAT_TOKEN_LIMIT", "123")

	cfg, err := LoadFromBytes([]byte(`
model:
  api_key: sk-from-file
  name: gpt-4o
rate_limit:
  token_limit: 999
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.Model.Name)
	assert.Equal(t, 123, cfg.RateLimit.TokenLimit)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
rate_limit:
  window: -5s
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.window")
}

func TestLoadFromBytes_BadYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("server: [not a map"))
	require.Error(t, err)
}
