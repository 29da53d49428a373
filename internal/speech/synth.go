package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/tidwall/gjson"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Error messages.
const (
	errFmtServiceNonOKStatus = "TTS service returned non-OK status: %s, body: %s"
	errFmtSendFailed         = "failed to send request to TTS service at %s: %w"

	maxErrorPreview = 1000
)

var (
	// ErrSynthNotConfigured is returned when the endpoint or token is empty.
	ErrSynthNotConfigured = errors.New("TTS not configured")
	// ErrTextCannotBeEmpty rejects empty input before any network call.
	ErrTextCannotBeEmpty = errors.New("text cannot be empty")
	// ErrUnparsableJSON is returned for JSON replies that fail to parse.
	ErrUnparsableJSON = errors.New("TTS returned unparsable JSON")
	// ErrMissingAudioField is returned for JSON replies without audio.
	ErrMissingAudioField = errors.New("TTS JSON response missing audio field")
	// ErrDecodeFailed is returned when embedded base64 audio is corrupt.
	ErrDecodeFailed = errors.New("TTS base64 decode failed")
)

// audioFields are the JSON paths that may hold base64 audio, in priority order.
var audioFields = []string{"audio_base64", "result", "data.0.b64", "base64"}

// synthRequest is the JSON body sent to the synthesis endpoint.
type synthRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// SynthClient calls a bearer-authenticated text-to-speech HTTP endpoint.
type SynthClient struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// NewSynthClient creates a client for endpoint. The timeout applies to each
// request.
func NewSynthClient(endpoint, token string, timeout time.Duration) *SynthClient {
	return &SynthClient{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize returns encoded audio for text. The reply may be JSON carrying
// base64 audio, bare base64 text, or the audio bytes themselves.
func (c *SynthClient) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if c.endpoint == "" || c.token == "" {
		return nil, ErrSynthNotConfigured
	}

	if text == "" {
		return nil, ErrTextCannotBeEmpty
	}

	requestBody, err := json.Marshal(synthRequest{Text: text, Voice: voice, Format: format})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAuthorization, "Bearer "+c.token)
	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendFailed, c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		preview := body
		if len(preview) > maxErrorPreview {
			preview = preview[:maxErrorPreview]
		}

		return nil, fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(preview))
	}

	return decodeAudio(resp.Header.Get(headerContentType), body)
}

func decodeAudio(contentType string, body []byte) ([]byte, error) {
	text := string(body)

	if strings.Contains(strings.ToLower(contentType), contentTypeJSON) || normalize.LooksLikeJSON(text) {
		if !gjson.ValidBytes(body) {
			return nil, ErrUnparsableJSON
		}

		doc := gjson.ParseBytes(body)

		for _, path := range audioFields {
			field := doc.Get(path)
			if !field.Exists() || field.String() == "" {
				continue
			}

			audio, err := normalize.DecodeBase64(field.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
			}

			return audio, nil
		}

		return nil, ErrMissingAudioField
	}

	if normalize.IsLikelyBase64(text) {
		audio, err := normalize.DecodeBase64(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
		}

		return audio, nil
	}

	return body, nil
}
