// Package client provides a Go client for the render gateway's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API paths.
const (
	apiStatus = "/status"
	apiTalk   = "/talk"
	apiAudio  = "/audio/"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtGatewayError     = "gateway error (%d): %s"
	errFmtGatewayNonOK     = "gateway returned non-OK status: %s, body: %s"
	errFmtRequestFailed    = "failed to send request to gateway at %s: %w"
	errFmtUnexpectedStatus = "unexpected status reply: %s"
)

var (
	// ErrTextOrURLRequired is returned when a talk request has nothing to speak.
	ErrTextOrURLRequired = errors.New("either text or url must be provided")
	// ErrKeyCannotBeEmpty is returned by Audio for a blank key.
	ErrKeyCannotBeEmpty = errors.New("audio key cannot be empty")
	// ErrEmptyBody is returned when the gateway answers 200 with no payload.
	ErrEmptyBody = errors.New("received empty response body")
)

// API is a client for one gateway.
type API struct {
	httpClient *http.Client
	baseURL    string
}

// ErrorResponse is the gateway's error envelope.
type ErrorResponse struct {
	Code    string          `json:"error"`
	Status  int             `json:"status"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf(errFmtGatewayError+" %s", e.Status, e.Code, e.Details)
	}

	return fmt.Sprintf(errFmtGatewayError, e.Status, e.Code)
}

// StatusReply is the body of the status endpoint.
type StatusReply struct {
	OK bool  `json:"ok"`
	TS int64 `json:"ts"`
}

// Rendered is the payload of a rendering action.
type Rendered struct {
	ContentType string
	Body        []byte
}

// TalkRequest is the body sent to the talk endpoint.
type TalkRequest struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Format   string `json:"format,omitempty"`
}

// TalkReply is the talk result. Audio is set only when the gateway could not
// store the audio and returned it directly.
type TalkReply struct {
	Key           string  `json:"key"`
	ExtractedText *string `json:"extractedText"`

	Audio       []byte `json:"-"`
	ContentType string `json:"-"`
}

// NewAPI creates a client for the gateway at baseURL.
func NewAPI(baseURL string, timeout time.Duration) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status checks that the gateway is up.
func (a *API) Status(ctx context.Context) (*StatusReply, error) {
	body, _, err := a.do(ctx, http.MethodGet, apiStatus, nil)
	if err != nil {
		return nil, err
	}

	var reply StatusReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode status reply: %w", err)
	}

	if !reply.OK {
		return nil, fmt.Errorf(errFmtUnexpectedStatus, string(body))
	}

	return &reply, nil
}

// Render runs action against target. params carries the optional query
// parameters such as width, height or elements.
func (a *API) Render(ctx context.Context, action, target string, params url.Values) (*Rendered, error) {
	query := url.Values{}
	for name, values := range params {
		query[name] = append([]string(nil), values...)
	}

	if target != "" {
		query.Set("url", target)
	}

	path := "/" + strings.TrimPrefix(action, "/")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	body, contentType, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	return &Rendered{ContentType: contentType, Body: body}, nil
}

// Talk asks the gateway to synthesize speech.
func (a *API) Talk(ctx context.Context, req TalkRequest) (*TalkReply, error) {
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.URL) == "" {
		return nil, ErrTextOrURLRequired
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, contentType, err := a.do(ctx, http.MethodPost, apiTalk, payload)
	if err != nil {
		return nil, err
	}

	if !isJSON(contentType) {
		return &TalkReply{Audio: body, ContentType: contentType}, nil
	}

	var reply TalkReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode talk reply: %w", err)
	}

	return &reply, nil
}

// Audio downloads stored audio by key.
func (a *API) Audio(ctx context.Context, key string) ([]byte, string, error) {
	if key == "" {
		return nil, "", ErrKeyCannotBeEmpty
	}

	body, contentType, err := a.do(ctx, http.MethodGet, apiAudio+url.PathEscape(key), nil)
	if err != nil {
		return nil, "", err
	}

	if len(body) == 0 {
		return nil, "", ErrEmptyBody
	}

	return body, contentType, nil
}

func (a *API) do(ctx context.Context, method, path string, payload []byte) ([]byte, string, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtRequestFailed, a.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", parseErrorResponse(resp, body)
	}

	return body, resp.Header.Get(headerContentType), nil
}

// parseErrorResponse decodes the gateway's error envelope, falling back to
// the raw body for anything else.
func parseErrorResponse(resp *http.Response, body []byte) error {
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Code != "" {
		if errorResp.Status == 0 {
			errorResp.Status = resp.StatusCode
		}

		return &errorResp
	}

	return fmt.Errorf(errFmtGatewayNonOK, resp.Status, string(body))
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)

	return err == nil && mediaType == contentTypeJSON
}
