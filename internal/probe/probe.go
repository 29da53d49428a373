// Package probe negotiates with an upstream whose request schema is not known
// in advance. It posts candidate payloads one after another and returns the
// first response the classifier accepts.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/render"
)

// Log and error message formats.
const (
	logAttempt       = "probe %s candidate %d/%d: status %d"
	logAttemptFailed = "probe %s candidate %d/%d: %v"
	logMatched       = "probe %s matched candidate %d as %s"

	errFmtMarshal   = "failed to marshal candidate %d: %w"
	errFmtRequest   = "failed to create request for candidate %d: %w"
	errFmtTooLarge  = "upstream body exceeds %d bytes"
	errFmtExhausted = "%s after %d attempts"
	errFmtStatus    = "%w: %d: %s"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
	contentTypeJSON     = "application/json"

	// maxRecordedBody bounds the upstream body kept for diagnostics.
	maxRecordedBody = 2000
)

// ErrSchemaMismatch is the code reported when no candidate was accepted.
var ErrSchemaMismatch = errors.New("upstream_schema_mismatch")

// ErrBodyTooLarge is recorded when an upstream body exceeds the size cap.
var ErrBodyTooLarge = errors.New("upstream body too large")

// ErrUpstreamStatus is returned by Fetch for non-2xx replies.
var ErrUpstreamStatus = errors.New("upstream returned non-success status")

// Attempt records one failed candidate.
type Attempt struct {
	CandidateIndex int         `json:"candidate"`
	Status         int         `json:"status,omitempty"`
	Body           string      `json:"body,omitempty"`
	Header         http.Header `json:"headers,omitempty"`
	Err            error       `json:"-"`
}

// MarshalJSON renders the attempt with its error as text.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt

	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(a)}

	if a.Err != nil {
		out.Error = a.Err.Error()
	}

	return json.Marshal(out)
}

// Failure is returned when every candidate missed. Last holds the final
// attempt.
type Failure struct {
	Last     *Attempt
	Attempts int
	TimedOut bool
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf(errFmtExhausted, ErrSchemaMismatch, f.Attempts)
	if f.TimedOut {
		msg += " (deadline exceeded)"
	}

	return msg
}

func (f *Failure) Unwrap() error {
	return ErrSchemaMismatch
}

// Runner posts candidates sequentially under one shared deadline.
type Runner struct {
	httpClient *http.Client
	classifier *normalize.Classifier
	timeout    time.Duration
	maxBody    int64
	log        *logger.Logger
}

// NewRunner creates a Runner. timeout bounds the whole candidate sequence
// and maxBody caps each upstream body.
func NewRunner(
	httpClient *http.Client,
	classifier *normalize.Classifier,
	timeout time.Duration,
	maxBody int64,
	log *logger.Logger,
) *Runner {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Runner{
		httpClient: httpClient,
		classifier: classifier,
		timeout:    timeout,
		maxBody:    maxBody,
		log:        log,
	}
}

// Probe tries candidates in order against endpoint and returns the first
// classified result. Once the deadline passes no further candidate is sent.
func (r *Runner) Probe(
	ctx context.Context,
	endpoint, token string,
	candidates []render.Candidate,
) (*normalize.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	failure := &Failure{}

	for index, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		failure.Attempts++

		result, attempt := r.attempt(ctx, endpoint, token, index, len(candidates), candidate)
		if attempt == nil {
			r.log.Info(logMatched, endpoint, index+1, result.Kind)

			return result, nil
		}

		failure.Last = attempt
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		failure.TimedOut = true
	}

	return nil, failure
}

// attempt sends one candidate. Exactly one of the returns is non-nil.
func (r *Runner) attempt(
	ctx context.Context,
	endpoint, token string,
	index, total int,
	candidate render.Candidate,
) (*normalize.Result, *Attempt) {
	record := &Attempt{CandidateIndex: index}

	resp, err := r.send(ctx, endpoint, token, index, candidate)
	if err != nil {
		r.log.Warn(logAttemptFailed, endpoint, index+1, total, err)
		record.Err = err

		return nil, record
	}
	defer resp.Body.Close()

	record.Status = resp.StatusCode
	record.Header = reportedHeader(resp.Header)

	body, err := r.readBody(resp.Body)
	if err != nil {
		r.log.Warn(logAttemptFailed, endpoint, index+1, total, err)
		record.Err = err

		return nil, record
	}

	r.log.Info(logAttempt, endpoint, index+1, total, resp.StatusCode)

	result, ok := r.classifier.Classify(normalize.Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	})
	if ok {
		return result, nil
	}

	record.Body = truncate(body, maxRecordedBody)

	return nil, record
}

// reportedHeader keeps the upstream headers that are safe to echo back to
// callers in a failure report.
func reportedHeader(header http.Header) http.Header {
	reported := http.Header{}

	for _, name := range []string{headerContentType, headerContentLength} {
		if values := header.Values(name); len(values) > 0 {
			reported[name] = append([]string(nil), values...)
		}
	}

	return reported
}

// Fetch posts a single known-good payload and returns the raw reply. It
// shares the runner's deadline, auth and body cap but skips classification.
func (r *Runner) Fetch(
	ctx context.Context,
	endpoint, token string,
	payload render.Candidate,
) (*normalize.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.send(ctx, endpoint, token, 0, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := r.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		r.log.Warn(logAttemptFailed, endpoint, 1, 1, resp.Status)

		return nil, fmt.Errorf(errFmtStatus, ErrUpstreamStatus, resp.StatusCode, truncate(body, maxRecordedBody))
	}

	return &normalize.Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (r *Runner) send(
	ctx context.Context,
	endpoint, token string,
	index int,
	payload render.Candidate,
) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf(errFmtMarshal, index, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf(errFmtRequest, index, err)
	}

	req.Header.Set(headerAuthorization, "Bearer "+token)
	req.Header.Set(headerContentType, contentTypeJSON)

	return r.httpClient.Do(req)
}

func (r *Runner) readBody(body io.Reader) ([]byte, error) {
	if r.maxBody <= 0 {
		return io.ReadAll(body)
	}

	data, err := io.ReadAll(io.LimitReader(body, r.maxBody+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > r.maxBody {
		return nil, fmt.Errorf("%w: "+errFmtTooLarge, ErrBodyTooLarge, r.maxBody)
	}

	return data, nil
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}

	return string(body[:limit])
}
