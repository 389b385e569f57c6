package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
  format: json
retry:
  default:
    retries: 2
    delay_ms: 100
  profiles:
    oauth:
      retries: 5
      delay_ms: 1000
      exponential_backoff: true
      timeout_ms: 10000
oauth:
  token_url: https://auth.example.com/oauth/token
  client_id: bff
  client_secret: ${BFF_TEST_CLIENT_SECRET}
  scopes: [profile, avatars]
storage:
  bucket: avatars
  region: eu-west-1
llm:
  api_key: ${BFF_TEST_LLM_KEY}
  model: gpt-4o
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bffkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("BFF_TEST_CLIENT_SECRET", "s3cr3t")
	t.Setenv("BFF_TEST_LLM_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "s3cr3t", cfg.OAuth.ClientSecret)
	assert.Equal(t, []string{"profile", "avatars"}, cfg.OAuth.Scopes)
	assert.Equal(t, 30*time.Second, cfg.OAuth.ExpirySkew(), "default skew kept")
	assert.Equal(t, "avatars", cfg.Storage.Bucket)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)

	oauth := cfg.Retry.Profile("oauth")
	assert.Equal(t, 5, oauth.Retries)
	assert.Equal(t, time.Second, oauth.Delay())
	assert.Equal(t, 10*time.Second, oauth.Timeout())

	assert.Equal(t, cfg.Retry.Default, cfg.Retry.Profile("storage"))

	_, ok := cfg.Retry.Lookup("storage")
	assert.False(t, ok)
	_, ok = cfg.Retry.Lookup("oauth")
	assert.True(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDecode_DollarLiterals(t *testing.T) {
	t.Setenv("BFF_TEST_CLIENT_ID", "bff")
	t.Setenv("cd1", "expanded")
	t.Setenv("USD", "expanded")

	cfg, err := Decode(strings.NewReader(`
oauth:
  token_url: https://auth.example.com/token
  client_id: ${BFF_TEST_CLIENT_ID}
  client_secret: "ab$cd1"
llm:
  system_prompt: "Prices are in $USD, never ${BFF_TEST_UNSET}quote $$ amounts"
`))
	require.NoError(t, err)

	assert.Equal(t, "bff", cfg.OAuth.ClientID)
	assert.Equal(t, "ab$cd1", cfg.OAuth.ClientSecret)
	assert.Equal(t, "Prices are in $USD, never quote $$ amounts", cfg.LLM.SystemPrompt)
}

func TestDecode_Empty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "log:\n  colour: red\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"negative retries", "retry:\n  default:\n    retries: -1\n"},
		{"negative profile delay", "retry:\n  profiles:\n    llm:\n      delay_ms: -5\n"},
		{"negative timeout", "retry:\n  default:\n    timeout_ms: -1\n"},
		{"client id missing", "oauth:\n  token_url: https://auth.example.com/token\n"},
		{"bad token url", "oauth:\n  token_url: not a url\n  client_id: x\n"},
		{"negative skew", "oauth:\n  expiry_skew_ms: -1\n"},
		{"bad llm url", "llm:\n  base_url: '::'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestPolicyFor(t *testing.T) {
	policy := PolicyFor[string](RetryConfig{
		Retries:            4,
		DelayMs:            250,
		ExponentialBackoff: true,
		TimeoutMs:          2000,
	})

	assert.Equal(t, 4, policy.Retries)
	assert.Equal(t, 250*time.Millisecond, policy.Delay)
	assert.True(t, policy.ExponentialBackoff)
	assert.Equal(t, 2*time.Second, policy.Timeout)
	assert.Nil(t, policy.RetryOnError)
	assert.Nil(t, policy.RetryOnResult)
	assert.Equal(t, 500*time.Millisecond, policy.DelayFor(2))
}
