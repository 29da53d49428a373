package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/config"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/render"
	"github.com/book-expert/render-gateway/internal/target"
	"github.com/tidwall/gjson"
)

// Wire codes reported by the speech path.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeNoTextProvided   = "no_text_provided"
	CodeExtractionFailed = "extraction_failed"
	CodeTTSFailed        = "tts_failed"
	CodeTTSNoAudio       = "tts_no_audio"
	CodeNotFound         = "not_found"
	CodeStorageError     = "storage_error"
)

const (
	logDedupHit       = "speech %s served from store"
	logDedupCheck     = "speech dedup check for %s failed, synthesizing: %v"
	logStoreFallback  = "speech store for %s failed, returning audio inline: %v"
	logSynthesized    = "speech %s synthesized (%d bytes, voice %s, format %s)"
	logExtractionFail = "speech extraction from %s failed: %v"
)

var (
	// ErrUnparsableExtraction is returned when a JSON rendering reply fails to parse.
	ErrUnparsableExtraction = errors.New("rendering reply is not valid JSON")
	// ErrNotStored is returned by Speak when audio could not be persisted.
	ErrNotStored = errors.New("audio was synthesized but not stored")
)

// Fetcher performs one rendering call with a fixed payload.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint, token string, payload render.Candidate) (*normalize.Response, error)
}

// TalkRequest is the body of a talk call. URL and Selector are used only
// when Text is blank.
type TalkRequest struct {
	Text     string `json:"text"`
	URL      string `json:"url"`
	Selector string `json:"selector"`
	Voice    string `json:"voice"`
	Format   string `json:"format"`
}

// TalkResult describes synthesized audio. When the store rejected the audio,
// Inline is set and Audio carries the bytes for direct delivery.
type TalkResult struct {
	Key           string  `json:"key"`
	ExtractedText *string `json:"extractedText"`

	Deduplicated bool   `json:"-"`
	Inline       bool   `json:"-"`
	Audio        []byte `json:"-"`
	ContentType  string `json:"-"`
}

// Service runs the talk flow.
type Service struct {
	settings config.Settings
	fetcher  Fetcher
	synth    core.Synthesizer
	dedup    *Dedup
	log      *logger.Logger
}

// NewService wires the talk flow.
func NewService(
	settings config.Settings,
	fetcher Fetcher,
	synth core.Synthesizer,
	store core.ObjectStore,
	log *logger.Logger,
) *Service {
	return &Service{
		settings: settings,
		fetcher:  fetcher,
		synth:    synth,
		dedup:    NewDedup(store),
		log:      log,
	}
}

// Talk resolves the text to speak, then synthesizes it unless audio for the
// same voice, format and text already exists.
func (s *Service) Talk(ctx context.Context, req TalkRequest) (*TalkResult, error) {
	text := strings.TrimSpace(req.Text)

	var extracted *string

	if text == "" && strings.TrimSpace(req.URL) != "" {
		if _, err := target.Validate(req.URL); err != nil {
			return nil, core.NewAPIError(http.StatusBadRequest, err.Error(), err)
		}

		got, err := s.extract(ctx, req.URL, req.Selector)
		if err != nil {
			s.log.Error(logExtractionFail, req.URL, err)

			return nil, core.NewAPIError(http.StatusBadGateway, CodeExtractionFailed, err)
		}

		extracted = &got
		text = got
	}

	if text == "" {
		return nil, core.NewAPIError(http.StatusBadRequest, CodeNoTextProvided, nil)
	}

	result, err := s.Speak(ctx, text, req.Voice, req.Format)
	if err != nil && !errors.Is(err, ErrNotStored) {
		return nil, err
	}

	result.ExtractedText = extracted

	return result, nil
}

// Speak sanitizes and caps text, then returns the content-hash key of its
// audio, synthesizing and storing it when needed. Blank voice and format
// fall back to the configured defaults.
//
// When storing fails the result carries the audio inline and the error is
// ErrNotStored.
func (s *Service) Speak(ctx context.Context, text, voice, format string) (*TalkResult, error) {
	text = Cap(Sanitize(text), s.settings.MaxChars)
	if text == "" {
		return nil, core.NewAPIError(http.StatusBadRequest, CodeNoTextProvided, nil)
	}

	voice = firstNonEmpty(voice, s.settings.DefaultVoice)
	format = strings.ToLower(firstNonEmpty(format, s.settings.DefaultFormat))
	key := KeyOf(voice, format, text)
	contentType := MimeForFormat(format)

	exists, err := s.dedup.Exists(ctx, key)
	if err != nil {
		s.log.Warn(logDedupCheck, key, err)
	}

	if exists {
		s.log.Info(logDedupHit, key)

		return &TalkResult{Key: key, Deduplicated: true, ContentType: contentType}, nil
	}

	audio, err := s.synth.Synthesize(ctx, text, voice, format)
	if err != nil {
		return nil, core.NewAPIError(http.StatusBadGateway, CodeTTSFailed, err)
	}

	if len(audio) == 0 {
		return nil, core.NewAPIError(http.StatusBadGateway, CodeTTSNoAudio, nil)
	}

	s.log.Info(logSynthesized, key, len(audio), voice, format)

	if err := s.dedup.Put(ctx, key, audio, contentType); err != nil {
		s.log.Error(logStoreFallback, key, err)

		return &TalkResult{Key: key, Inline: true, Audio: audio, ContentType: contentType},
			fmt.Errorf("%w: %w", ErrNotStored, err)
	}

	return &TalkResult{Key: key, ContentType: contentType}, nil
}

// Audio returns stored audio for key.
func (s *Service) Audio(ctx context.Context, key string) (*core.Object, error) {
	obj, err := s.dedup.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewAPIError(http.StatusNotFound, CodeNotFound, err)
	}

	if err != nil {
		return nil, core.NewAPIError(http.StatusInternalServerError, CodeStorageError, err)
	}

	return obj, nil
}

// extract renders the page once and reduces the reply to text. A selector
// switches from whole-page content to a scrape of the matching elements.
func (s *Service) extract(ctx context.Context, rawURL, selector string) (string, error) {
	action := render.ActionContent
	payload := render.Candidate{"url": rawURL}

	if selector = strings.TrimSpace(selector); selector != "" {
		action = render.ActionScrape
		payload["elements"] = []any{map[string]any{"selector": selector}}
	}

	endpoint, err := s.settings.RenderEndpoint(string(action))
	if err != nil {
		return "", err
	}

	resp, err := s.fetcher.Fetch(ctx, endpoint, s.settings.RenderToken, payload)
	if err != nil {
		return "", err
	}

	contentType := strings.ToLower(resp.Header.Get(headerContentType))
	if strings.Contains(contentType, contentTypeJSON) && !gjson.ValidBytes(resp.Body) {
		return "", ErrUnparsableExtraction
	}

	return ExtractText(resp.Body), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	return ""
}
