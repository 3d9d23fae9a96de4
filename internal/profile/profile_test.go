package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	require.Equal(t, "openai", p.LLMProvider)
	require.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	require.Equal(t, "gpt-4o", p.LLMModel)
	require.Equal(t, 300, p.StreamRetentionSeconds)
	require.Equal(t, 60, p.GenerationTimeoutSeconds)
	require.False(t, p.IsSearchEnabled())
	require.False(t, p.IsTracingEnabled())
}

func TestFromEnvProviderDefaults(t *testing.T) {
	t.Setenv("DEEPSEARCH_LLM_PROVIDER", "deepseek")

	p := &Profile{}
	p.FromEnv()
	require.Equal(t, "https://api.deepseek.com", p.LLMBaseURL)
	require.Equal(t, "deepseek-chat", p.LLMModel)
}

func TestFromEnvUnknownProviderFallsBack(t *testing.T) {
	t.Setenv("DEEPSEARCH_LLM_PROVIDER", "mystery")

	p := &Profile{}
	p.FromEnv()
	require.Equal(t, "openai", p.LLMProvider)
}

func TestValidateJWTSecret(t *testing.T) {
	p := &Profile{Mode: "prod", Driver: "postgres", DSN: "postgres://x"}
	require.Error(t, p.Validate())

	p = &Profile{Mode: "dev", Driver: "postgres", DSN: "postgres://x"}
	require.NoError(t, p.Validate())
	require.NotEmpty(t, p.JWTSecret)
}

func TestValidateDriver(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "mysql"}
	require.Error(t, p.Validate())

	p = &Profile{Mode: "dev", Driver: "postgres"}
	require.Error(t, p.Validate()) // dsn required

	p = &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
	require.NoError(t, p.Validate())
	require.Contains(t, p.DSN, "deepsearch_dev.db")
}
