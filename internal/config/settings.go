package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Defaults applied when no layer provides a value.
const (
	DefaultRenderAPIBase    = "https://api.cloudflare.com/client/v4/accounts"
	DefaultListenAddr       = ":8787"
	DefaultProbeTimeout     = 20 * time.Second
	DefaultSpeechTimeout    = 60 * time.Second
	DefaultMaxBodyBytes     = 32 << 20
	DefaultMaxChars         = 8000
	DefaultVoice            = "default"
	DefaultFormat           = "mp3"
	DefaultCacheTTL         = 60 * time.Second
	DefaultAudioBucket      = "AUDIO_FILES"
	DefaultTextBucket       = "TEXT_FILES"
	DefaultSpeechJobSubject = "speech.job.requested"
)

// Environment variables consulted after the TOML document.
const (
	envConfigSecret   = "CONFIG_SECRET"
	envConfigFallback = "CONFIG"
	envCFAPIToken     = "CF_API_TOKEN"
	envBRAPIToken     = "BR_API_TOKEN"
	envWorkersAIKey   = "WORKERS_AI_KEY"
	envBRAccountID    = "BR_ACCOUNT_ID"
	envAccountID      = "ACCOUNT_ID"
	envBRAPIBase      = "BR_API_BASE"
	envWorkersAIURL   = "WORKERS_AI_ENDPOINT"
	envTTSEndpoint    = "TTS_ENDPOINT"
	envTTSKey         = "TTS_KEY"
	envMaxChars       = "MAX_CHARS"
	envRedisURL       = "REDIS_URL"
	envNATSURL        = "NATS_URL"
)

// Misconfiguration errors. Their text is the wire code returned to callers.
var (
	ErrMissingAccountID    = errors.New("server_misconfigured: missing BR account id")
	ErrMissingRenderToken  = errors.New("server_misconfigured: missing API token (set as secret)")
	ErrMissingSpeechTarget = errors.New("server_misconfigured: missing TTS endpoint or token")
)

// LookupFunc reads one environment variable. os.Getenv satisfies it.
type LookupFunc func(key string) string

// Settings is the resolved, immutable configuration used by request handlers.
type Settings struct {
	ListenAddr       string
	GinMode          string
	RenderAPIBase    string
	AccountID        string
	RenderToken      string
	ProbeTimeout     time.Duration
	MaxBodyBytes     int64
	SpeechEndpoint   string
	SpeechToken      string
	SpeechTimeout    time.Duration
	DefaultVoice     string
	DefaultFormat    string
	MaxChars         int
	CacheTTL         time.Duration
	CacheHTML        bool
	RedisURL         string
	NATSURL          string
	AudioBucket      string
	TextBucket       string
	SpeechJobSubject string
	BaseLogsDir      string
}

// Resolve layers the CONFIG_SECRET JSON document and individual environment
// variables over cfg and fills defaults. The first non-empty layer wins:
// TOML, then CONFIG_SECRET, then the individual variables.
func Resolve(cfg *Config, lookup LookupFunc) Settings {
	if cfg == nil {
		cfg = &Config{}
	}

	if lookup == nil {
		lookup = func(string) string { return "" }
	}

	secret := parseSecret(lookup)

	settings := Settings{
		ListenAddr: firstNonEmpty(cfg.Gateway.ListenAddr, DefaultListenAddr),
		GinMode:    cfg.Gateway.GinMode,
		RenderAPIBase: strings.TrimRight(firstNonEmpty(
			cfg.Render.APIBase, secret.Get("BR_API_BASE").String(), lookup(envBRAPIBase), DefaultRenderAPIBase,
		), "/"),
		AccountID: firstNonEmpty(
			cfg.Render.AccountID, secret.Get("BR_ACCOUNT_ID").String(), lookup(envBRAccountID), lookup(envAccountID),
		),
		RenderToken: firstNonEmpty(
			cfg.Render.APIToken, secret.Get("CF_API_TOKEN").String(),
			lookup(envCFAPIToken), lookup(envBRAPIToken), lookup(envWorkersAIKey),
		),
		ProbeTimeout: secondsOr(cfg.Render.ProbeTimeoutSeconds, DefaultProbeTimeout),
		MaxBodyBytes: cfg.Render.MaxBodyBytes,
		SpeechEndpoint: firstNonEmpty(
			cfg.Speech.Endpoint, secret.Get("WORKERS_AI_ENDPOINT").String(), lookup(envWorkersAIURL), lookup(envTTSEndpoint),
		),
		SpeechToken: firstNonEmpty(
			cfg.Speech.APIToken, secret.Get("CF_API_TOKEN").String(),
			lookup(envCFAPIToken), lookup(envWorkersAIKey), lookup(envTTSKey),
		),
		SpeechTimeout:    secondsOr(cfg.Speech.TimeoutSeconds, DefaultSpeechTimeout),
		DefaultVoice:     firstNonEmpty(cfg.Speech.DefaultVoice, DefaultVoice),
		DefaultFormat:    strings.ToLower(firstNonEmpty(cfg.Speech.DefaultFormat, DefaultFormat)),
		MaxChars:         cfg.Speech.MaxChars,
		CacheTTL:         secondsOr(cfg.Cache.TTLSeconds, DefaultCacheTTL),
		CacheHTML:        cfg.Cache.CacheHTML == nil || *cfg.Cache.CacheHTML,
		RedisURL:         firstNonEmpty(cfg.Cache.RedisURL, lookup(envRedisURL)),
		NATSURL:          firstNonEmpty(cfg.NATS.URL, lookup(envNATSURL)),
		AudioBucket:      firstNonEmpty(cfg.NATS.AudioObjectStoreBucket, DefaultAudioBucket),
		TextBucket:       firstNonEmpty(cfg.NATS.TextObjectStoreBucket, DefaultTextBucket),
		SpeechJobSubject: firstNonEmpty(cfg.NATS.SpeechJobSubject, DefaultSpeechJobSubject),
		BaseLogsDir:      cfg.Paths.BaseLogsDir,
	}

	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if settings.MaxChars <= 0 {
		settings.MaxChars = maxCharsFrom(secret, lookup)
	}

	return settings
}

// RenderEndpoint returns the upstream URL for action, or a misconfiguration
// error when the account id or token is missing.
func (s Settings) RenderEndpoint(action string) (string, error) {
	if s.AccountID == "" {
		return "", ErrMissingAccountID
	}

	if s.RenderToken == "" {
		return "", ErrMissingRenderToken
	}

	return fmt.Sprintf("%s/%s/browser-rendering/%s", s.RenderAPIBase, s.AccountID, action), nil
}

// SpeechConfigured reports whether the synthesis upstream can be called.
func (s Settings) SpeechConfigured() error {
	if s.SpeechEndpoint == "" || s.SpeechToken == "" {
		return ErrMissingSpeechTarget
	}

	return nil
}

// parseSecret reads CONFIG_SECRET (or CONFIG). Values that are not a JSON
// object are ignored so the individual variables still apply.
func parseSecret(lookup LookupFunc) gjson.Result {
	raw := strings.TrimSpace(firstNonEmpty(lookup(envConfigSecret), lookup(envConfigFallback)))
	if !strings.HasPrefix(raw, "{") || !gjson.Valid(raw) {
		return gjson.Result{}
	}

	return gjson.Parse(raw)
}

func maxCharsFrom(secret gjson.Result, lookup LookupFunc) int {
	if v := secret.Get("MAX_CHARS"); v.Exists() && v.Int() > 0 {
		return int(v.Int())
	}

	if n, err := strconv.Atoi(lookup(envMaxChars)); err == nil && n > 0 {
		return n
	}

	return DefaultMaxChars
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}

	return time.Duration(seconds) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	return ""
}
