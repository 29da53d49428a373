// Package config_test tests the configuration loading for the render-gateway.
package config_test

import (
	"testing"
	"time"

	"github.com/book-expert/render-gateway/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[gateway]
listen_addr = ":9000"

[render]
api_base = "https://render.example.com/accounts/"
account_id = "acct-1"
api_token = "toml-token"
probe_timeout_seconds = 5

[speech]
endpoint = "https://tts.example.com/run"
default_voice = "aura"
max_chars = 100

[cache]
redis_url = "redis://127.0.0.1:6379/0"
ttl_seconds = 30
cache_html = false

[nats]
url = "nats://127.0.0.1:4222"
audio_object_store_bucket = "AUDIO"
speech_job_subject = "speech.jobs"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Gateway.ListenAddr)
	assert.Equal(t, "acct-1", cfg.Render.AccountID)
	assert.Equal(t, 5, cfg.Render.ProbeTimeoutSeconds)
	assert.Equal(t, "aura", cfg.Speech.DefaultVoice)
	assert.Equal(t, 30, cfg.Cache.TTLSeconds)
	require.NotNil(t, cfg.Cache.CacheHTML)
	assert.False(t, *cfg.Cache.CacheHTML)
	assert.Equal(t, "speech.jobs", cfg.NATS.SpeechJobSubject)

	settings := config.Resolve(&cfg, nil)

	assert.Equal(t, "https://render.example.com/accounts", settings.RenderAPIBase)
	assert.Equal(t, 5*time.Second, settings.ProbeTimeout)
	assert.Equal(t, 100, settings.MaxChars)
	assert.Equal(t, 30*time.Second, settings.CacheTTL)
	assert.False(t, settings.CacheHTML)

	endpoint, err := settings.RenderEndpoint("screenshot")
	require.NoError(t, err)
	assert.Equal(t, "https://render.example.com/accounts/acct-1/browser-rendering/screenshot", endpoint)
}

func TestResolve_Defaults(t *testing.T) {
	t.Parallel()

	settings := config.Resolve(nil, nil)

	assert.Equal(t, config.DefaultRenderAPIBase, settings.RenderAPIBase)
	assert.Equal(t, config.DefaultProbeTimeout, settings.ProbeTimeout)
	assert.Equal(t, config.DefaultMaxChars, settings.MaxChars)
	assert.Equal(t, config.DefaultVoice, settings.DefaultVoice)
	assert.Equal(t, config.DefaultFormat, settings.DefaultFormat)
	assert.Equal(t, config.DefaultCacheTTL, settings.CacheTTL)
	assert.True(t, settings.CacheHTML)

	_, err := settings.RenderEndpoint("pdf")
	require.ErrorIs(t, err, config.ErrMissingAccountID)
	require.ErrorIs(t, settings.SpeechConfigured(), config.ErrMissingSpeechTarget)
}

func TestResolve_LayerPriority(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CONFIG_SECRET":       `{"CF_API_TOKEN":"secret-token","BR_ACCOUNT_ID":"secret-acct","MAX_CHARS":42}`,
		"CF_API_TOKEN":        "env-token",
		"BR_ACCOUNT_ID":       "env-acct",
		"WORKERS_AI_ENDPOINT": "https://tts.example.com",
	}
	lookup := func(key string) string { return env[key] }

	settings := config.Resolve(&config.Config{}, lookup)

	assert.Equal(t, "secret-token", settings.RenderToken)
	assert.Equal(t, "secret-acct", settings.AccountID)
	assert.Equal(t, 42, settings.MaxChars)
	assert.Equal(t, "https://tts.example.com", settings.SpeechEndpoint)
	assert.Equal(t, "secret-token", settings.SpeechToken)
	require.NoError(t, settings.SpeechConfigured())

	fromToml := config.Resolve(&config.Config{Render: config.RenderConfig{APIToken: "toml-token"}}, lookup)
	assert.Equal(t, "toml-token", fromToml.RenderToken)
}

func TestResolve_MalformedSecretFallsBackToEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CONFIG_SECRET": `{not json`,
		"BR_API_TOKEN":  "br-token",
		"ACCOUNT_ID":    "acct",
		"MAX_CHARS":     "250",
	}

	settings := config.Resolve(&config.Config{}, func(key string) string { return env[key] })

	assert.Equal(t, "br-token", settings.RenderToken)
	assert.Equal(t, "acct", settings.AccountID)
	assert.Equal(t, 250, settings.MaxChars)

	_, err := settings.RenderEndpoint("content")
	require.NoError(t, err)
}
