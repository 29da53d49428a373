// Package normalize classifies upstream responses and converts every shape
// they arrive in into one canonical Result.
package normalize

import "net/http"

// Kind tags the payload carried by a Result.
type Kind string

// Result kinds.
const (
	KindBinary Kind = "binary"
	KindHTML   Kind = "html"
	KindText   Kind = "text"
	KindJSON   Kind = "json"
)

// Content types used when the upstream does not declare one.
const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeJSON        = "application/json"
	ContentTypeHTML        = "text/html; charset=utf-8"
)

// Result is the canonical output of classification. Bytes is populated for
// KindBinary, Text for every other kind.
type Result struct {
	Kind        Kind
	ContentType string
	Status      int
	Bytes       []byte
	Text        string
	Cacheable   bool

	// Forwarded from a stream response when present.
	ContentLength string
	CacheControl  string
}

// Body returns the payload as bytes regardless of kind.
func (r *Result) Body() []byte {
	if r.Kind == KindBinary {
		return r.Bytes
	}

	return []byte(r.Text)
}

// IsHTML reports whether the payload should go through the HTML rewriter.
func (r *Result) IsHTML() bool {
	return r.Kind == KindHTML
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
