package normalize

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
	headerCacheControl  = "Cache-Control"

	jsonMediaType = "application/json"
	htmlMediaType = "text/html"
)

// Policy controls the cacheable flag of classified results.
type Policy struct {
	// CacheHTML permits caching of successful HTML results.
	CacheHTML bool
}

// Response is one upstream reply as seen by the classifier.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// matcher inspects a parsed JSON reply. ok=false hands over to the next one.
type matcher func(resp Response, doc gjson.Result) (result *Result, ok bool)

// Classifier turns upstream replies into Results.
type Classifier struct {
	policy Policy
	chain  []matcher
}

// NewClassifier creates a classifier applying policy.
func NewClassifier(policy Policy) *Classifier {
	return &Classifier{
		policy: policy,
		chain: []matcher{
			matchResultString,
			matchResultObject,
			matchDocument,
		},
	}
}

// Classify normalizes one reply. ok=false is a miss: the reply carried no
// usable shape and the caller should try its next candidate.
//
// JSON replies (declared or sniffed) go through the matcher chain first. A
// body that fails to parse is treated as an opaque stream.
func (c *Classifier) Classify(resp Response) (*Result, bool) {
	contentType := strings.ToLower(resp.Header.Get(headerContentType))

	if strings.Contains(contentType, jsonMediaType) || LooksLikeJSON(string(resp.Body)) {
		if gjson.ValidBytes(resp.Body) {
			doc := gjson.ParseBytes(resp.Body)
			if doc.Type != gjson.Null {
				return c.runChain(resp, doc)
			}
		}
	}

	return c.finish(matchStream(resp))
}

func (c *Classifier) runChain(resp Response, doc gjson.Result) (*Result, bool) {
	for _, match := range c.chain {
		if result, ok := match(resp, doc); ok {
			return c.finish(result, true)
		}
	}

	return nil, false
}

func (c *Classifier) finish(result *Result, ok bool) (*Result, bool) {
	if !ok {
		return nil, false
	}

	if result.Status == 0 {
		result.Status = http.StatusOK
	}

	result.Cacheable = isSuccess(result.Status) && (result.Kind != KindHTML || c.policy.CacheHTML)

	return result, true
}

// matchResultString handles {"result": "<string>"}: HTML, a data URI, plain
// base64, or text, tried in that order.
func matchResultString(_ Response, doc gjson.Result) (*Result, bool) {
	field := doc.Get("result")
	if field.Type != gjson.String {
		return nil, false
	}

	value := strings.TrimSpace(field.String())
	declared := doc.Get("content_type").String()

	if strings.HasPrefix(value, "<") {
		return &Result{Kind: KindHTML, ContentType: ContentTypeHTML, Text: value}, true
	}

	if result, ok := fromDataURI(value); ok {
		return result, true
	}

	if IsLikelyBase64(value) {
		if data, err := DecodeBase64(value); err == nil {
			return &Result{
				Kind:        KindBinary,
				ContentType: firstNonEmpty(declared, ContentTypeOctetStream),
				Bytes:       data,
			}, true
		}
	}

	contentType := firstNonEmpty(declared, ContentTypeHTML)

	return &Result{Kind: textKindFor(contentType), ContentType: contentType, Text: value}, true
}

func fromDataURI(value string) (*Result, bool) {
	if !strings.HasPrefix(value, "data:") {
		return nil, false
	}

	uri, err := ParseDataURI(value)
	if err != nil {
		return nil, false
	}

	data, err := uri.Decode()
	if err != nil {
		return nil, false
	}

	if isTextual(uri.MediaType) {
		return &Result{Kind: textKindFor(uri.MediaType), ContentType: uri.MediaType, Text: string(data)}, true
	}

	return &Result{Kind: KindBinary, ContentType: uri.MediaType, Bytes: data}, true
}

// matchResultObject handles {"result": {...}} and {"result": [...]}. An html
// string inside the object wins; otherwise the result itself is the payload.
func matchResultObject(_ Response, doc gjson.Result) (*Result, bool) {
	field := doc.Get("result")
	if !field.IsObject() && !field.IsArray() {
		return nil, false
	}

	if field.IsObject() {
		if html := field.Get("html"); html.Type == gjson.String {
			return &Result{Kind: KindHTML, ContentType: ContentTypeHTML, Text: html.String()}, true
		}
	}

	return &Result{Kind: KindJSON, ContentType: ContentTypeJSON, Text: field.Raw}, true
}

// matchDocument passes any other JSON through with the upstream status. An
// error reply that explicitly reports success=false is a miss.
func matchDocument(resp Response, doc gjson.Result) (*Result, bool) {
	if !isSuccess(resp.Status) && doc.Get("success").Type == gjson.False {
		return nil, false
	}

	return &Result{
		Kind:        KindJSON,
		ContentType: ContentTypeJSON,
		Status:      resp.Status,
		Text:        string(resp.Body),
	}, true
}

// matchStream forwards a successful non-JSON reply verbatim.
func matchStream(resp Response) (*Result, bool) {
	if !isSuccess(resp.Status) {
		return nil, false
	}

	contentType := firstNonEmpty(resp.Header.Get(headerContentType), ContentTypeOctetStream)

	result := &Result{
		ContentType:   contentType,
		Status:        resp.Status,
		ContentLength: resp.Header.Get(headerContentLength),
		CacheControl:  resp.Header.Get(headerCacheControl),
	}

	if strings.Contains(strings.ToLower(contentType), htmlMediaType) {
		result.Kind = KindHTML
		result.Text = string(resp.Body)
	} else {
		result.Kind = KindBinary
		result.Bytes = resp.Body
	}

	return result, true
}

func textKindFor(contentType string) Kind {
	if strings.Contains(strings.ToLower(contentType), htmlMediaType) {
		return KindHTML
	}

	return KindText
}

func isTextual(mediaType string) bool {
	lower := strings.ToLower(mediaType)

	return strings.HasPrefix(lower, "text/") ||
		strings.Contains(lower, "json") ||
		strings.Contains(lower, "xml")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
