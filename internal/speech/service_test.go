package speech_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/config"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/objectstore"
	"github.com/book-expert/render-gateway/internal/render"
	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockSynth = errors.New("mock synth error")
	errMockFetch = errors.New("mock fetch error")
	errMockStore = errors.New("mock store error")
)

type mockSynth struct {
	mu         sync.Mutex
	calls      int
	shouldFail bool
	audio      []byte
	lastText   string
}

func (m *mockSynth) Synthesize(_ context.Context, text, _, _ string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastText = text

	if m.shouldFail {
		return nil, errMockSynth
	}

	return m.audio, nil
}

type mockFetcher struct {
	shouldFail  bool
	contentType string
	body        string
	endpoint    string
	payload     render.Candidate
}

func (m *mockFetcher) Fetch(_ context.Context, endpoint, _ string, payload render.Candidate) (*normalize.Response, error) {
	m.endpoint = endpoint
	m.payload = payload

	if m.shouldFail {
		return nil, errMockFetch
	}

	header := http.Header{}
	header.Set("Content-Type", m.contentType)

	return &normalize.Response{Status: http.StatusOK, Header: header, Body: []byte(m.body)}, nil
}

// mockObjectStore wraps a memory store with failure switches.
type mockObjectStore struct {
	*objectstore.Memory

	headShouldFail bool
	putShouldFail  bool
	getShouldFail  bool
}

func (m *mockObjectStore) Head(ctx context.Context, key string) (bool, error) {
	if m.headShouldFail {
		return false, errMockStore
	}

	return m.Memory.Head(ctx, key)
}

func (m *mockObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.putShouldFail {
		return errMockStore
	}

	return m.Memory.Put(ctx, key, data, contentType)
}

func (m *mockObjectStore) Get(ctx context.Context, key string) (*core.Object, error) {
	if m.getShouldFail {
		return nil, errMockStore
	}

	return m.Memory.Get(ctx, key)
}

func testSettings() config.Settings {
	return config.Resolve(&config.Config{
		Render: config.RenderConfig{AccountID: "acct", APIToken: "render-token", APIBase: "https://render.test/accounts"},
		Speech: config.SpeechConfig{MaxChars: 20},
	}, nil)
}

func newService(
	t *testing.T,
	fetcher speech.Fetcher,
	synth core.Synthesizer,
	store core.ObjectStore,
) *speech.Service {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return speech.NewService(testSettings(), fetcher, synth, store, log)
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()

	apiErr, ok := core.AsAPIError(err)
	require.True(t, ok, "expected an API error, got %v", err)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
}

func TestTalk_DedupShortCircuitsSynthesis(t *testing.T) {
	t.Parallel()

	synth := &mockSynth{audio: []byte("audio")}
	store := objectstore.NewMemory()
	service := newService(t, &mockFetcher{}, synth, store)

	first, err := service.Talk(context.Background(), speech.TalkRequest{Text: "  Hello \n world  "})
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.Nil(t, first.ExtractedText)
	assert.Equal(t, speech.KeyOf("default", "mp3", "Hello world"), first.Key)

	second, err := service.Talk(context.Background(), speech.TalkRequest{Text: "Hello world", Voice: "default", Format: "MP3"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, synth.calls)

	obj, err := store.Get(context.Background(), first.Key)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", obj.ContentType)
}

func TestTalk_CapsBeforeHashing(t *testing.T) {
	t.Parallel()

	synth := &mockSynth{audio: []byte("audio")}
	service := newService(t, &mockFetcher{}, synth, objectstore.NewMemory())

	result, err := service.Talk(context.Background(), speech.TalkRequest{Text: "0123456789012345678901234567890", Format: "wav"})
	require.NoError(t, err)

	assert.Equal(t, "01234567890123456789...", synth.lastText)
	assert.Equal(t, speech.KeyOf("default", "wav", "01234567890123456789..."), result.Key)
}

func TestTalk_VoiceIsTrimmedBeforeHashing(t *testing.T) {
	t.Parallel()

	synth := &mockSynth{audio: []byte("audio")}
	service := newService(t, &mockFetcher{}, synth, objectstore.NewMemory())

	padded, err := service.Talk(context.Background(), speech.TalkRequest{Text: "Hello", Voice: " aura "})
	require.NoError(t, err)
	assert.Equal(t, speech.KeyOf("aura", "mp3", "Hello"), padded.Key)

	plain, err := service.Talk(context.Background(), speech.TalkRequest{Text: "Hello", Voice: "aura"})
	require.NoError(t, err)
	assert.True(t, plain.Deduplicated)
	assert.Equal(t, padded.Key, plain.Key)
	assert.Equal(t, 1, synth.calls)
}

func TestTalk_ExtractsFromURL(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{
		contentType: "application/json",
		body:        `{"result":[{"results":[{"text":"Headline"}]}]}`,
	}
	synth := &mockSynth{audio: []byte("audio")}
	service := newService(t, fetcher, synth, objectstore.NewMemory())

	result, err := service.Talk(context.Background(), speech.TalkRequest{URL: "https://example.com/post", Selector: "h1"})
	require.NoError(t, err)

	require.NotNil(t, result.ExtractedText)
	assert.Equal(t, "Headline", *result.ExtractedText)
	assert.Equal(t, "Headline", synth.lastText)
	assert.Equal(t, "https://render.test/accounts/acct/browser-rendering/scrape", fetcher.endpoint)
	assert.Equal(t, render.Candidate{
		"url":      "https://example.com/post",
		"elements": []any{map[string]any{"selector": "h1"}},
	}, fetcher.payload)
}

func TestTalk_ExtractsContentWithoutSelector(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{contentType: "text/html", body: "<html><body><p>Page body</p></body></html>"}
	service := newService(t, fetcher, &mockSynth{audio: []byte("a")}, objectstore.NewMemory())

	result, err := service.Talk(context.Background(), speech.TalkRequest{URL: "https://example.com/post"})
	require.NoError(t, err)

	assert.Equal(t, "Page body", *result.ExtractedText)
	assert.Equal(t, "https://render.test/accounts/acct/browser-rendering/content", fetcher.endpoint)
}

func TestTalk_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        speech.TalkRequest
		fetcher    *mockFetcher
		synth      *mockSynth
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no text",
			req:        speech.TalkRequest{Text: "   "},
			wantStatus: http.StatusBadRequest,
			wantCode:   "no_text_provided",
		},
		{
			name:       "invalid url",
			req:        speech.TalkRequest{URL: "ftp://example.com"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_url",
		},
		{
			name:       "private url",
			req:        speech.TalkRequest{URL: "http://10.0.0.8/"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "forbidden_target",
		},
		{
			name:       "extraction fails",
			req:        speech.TalkRequest{URL: "https://example.com"},
			fetcher:    &mockFetcher{shouldFail: true},
			wantStatus: http.StatusBadGateway,
			wantCode:   "extraction_failed",
		},
		{
			name:       "extraction reply is broken json",
			req:        speech.TalkRequest{URL: "https://example.com"},
			fetcher:    &mockFetcher{contentType: "application/json", body: "{broken"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "extraction_failed",
		},
		{
			name:       "extraction yields nothing",
			req:        speech.TalkRequest{URL: "https://example.com"},
			fetcher:    &mockFetcher{contentType: "application/json", body: `{"result":"   "}`},
			wantStatus: http.StatusBadRequest,
			wantCode:   "no_text_provided",
		},
		{
			name:       "synthesis fails",
			req:        speech.TalkRequest{Text: "hi"},
			synth:      &mockSynth{shouldFail: true},
			wantStatus: http.StatusBadGateway,
			wantCode:   "tts_failed",
		},
		{
			name:       "synthesis returns nothing",
			req:        speech.TalkRequest{Text: "hi"},
			synth:      &mockSynth{},
			wantStatus: http.StatusBadGateway,
			wantCode:   "tts_no_audio",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fetcher := testCase.fetcher
			if fetcher == nil {
				fetcher = &mockFetcher{}
			}

			synth := testCase.synth
			if synth == nil {
				synth = &mockSynth{audio: []byte("audio")}
			}

			service := newService(t, fetcher, synth, objectstore.NewMemory())

			_, err := service.Talk(context.Background(), testCase.req)
			requireAPIError(t, err, testCase.wantStatus, testCase.wantCode)
		})
	}
}

func TestTalk_StoreFailureReturnsAudioInline(t *testing.T) {
	t.Parallel()

	store := &mockObjectStore{Memory: objectstore.NewMemory(), headShouldFail: true, putShouldFail: true}
	service := newService(t, &mockFetcher{}, &mockSynth{audio: []byte("audio")}, store)

	result, err := service.Talk(context.Background(), speech.TalkRequest{Text: "hi", Format: "ogg"})
	require.NoError(t, err)

	assert.True(t, result.Inline)
	assert.Equal(t, []byte("audio"), result.Audio)
	assert.Equal(t, "audio/ogg", result.ContentType)

	_, err = service.Speak(context.Background(), "hi", "", "ogg")
	require.ErrorIs(t, err, speech.ErrNotStored)
}

func TestAudio(t *testing.T) {
	t.Parallel()

	store := &mockObjectStore{Memory: objectstore.NewMemory()}
	require.NoError(t, store.Put(context.Background(), "typed", []byte("w"), "audio/wav"))
	require.NoError(t, store.Put(context.Background(), "untyped", []byte("m"), ""))

	service := newService(t, &mockFetcher{}, &mockSynth{}, store)

	obj, err := service.Audio(context.Background(), "typed")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", obj.ContentType)

	obj, err = service.Audio(context.Background(), "untyped")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", obj.ContentType)

	_, err = service.Audio(context.Background(), "missing")
	requireAPIError(t, err, http.StatusNotFound, "not_found")

	store.getShouldFail = true
	_, err = service.Audio(context.Background(), "typed")
	requireAPIError(t, err, http.StatusInternalServerError, "storage_error")
}
