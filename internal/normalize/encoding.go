package normalize

import (
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrNotDataURI is returned by ParseDataURI for strings without the data: form.
	ErrNotDataURI = errors.New("not a data URI")
	// ErrNotBase64 is returned when a string fails the base64 shape check.
	ErrNotBase64 = errors.New("not base64")
)

var (
	base64Pattern   = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
	dataURIPattern  = regexp.MustCompile(`(?s)^data:([^;,]+)(;base64)?,(.*)$`)
	whitespaceRunes = regexp.MustCompile(`\s+`)
)

// DataURI is a parsed data:<mime>[;base64],<payload> string.
type DataURI struct {
	MediaType string
	Base64    bool
	Payload   string
}

// ParseDataURI splits a data URI into its parts without decoding the payload.
func ParseDataURI(s string) (DataURI, error) {
	match := dataURIPattern.FindStringSubmatch(s)
	if match == nil {
		return DataURI{}, ErrNotDataURI
	}

	mediaType := match[1]
	if mediaType == "" {
		mediaType = ContentTypeOctetStream
	}

	return DataURI{
		MediaType: mediaType,
		Base64:    match[2] != "",
		Payload:   match[3],
	}, nil
}

// Decode returns the payload bytes, base64 decoded or percent decoded.
func (d DataURI) Decode() ([]byte, error) {
	if d.Base64 {
		return DecodeBase64(d.Payload)
	}

	text, err := url.PathUnescape(d.Payload)
	if err != nil {
		return nil, err
	}

	return []byte(text), nil
}

// StripWhitespace removes every whitespace run from s.
func StripWhitespace(s string) string {
	return whitespaceRunes.ReplaceAllString(s, "")
}

// IsLikelyBase64 reports whether s, ignoring whitespace, is non-empty, a
// multiple of four long and uses only the standard alphabet.
func IsLikelyBase64(s string) bool {
	cleaned := StripWhitespace(s)
	if cleaned == "" || len(cleaned)%4 != 0 {
		return false
	}

	return base64Pattern.MatchString(cleaned)
}

// DecodeBase64 decodes standard base64 after stripping embedded whitespace.
func DecodeBase64(s string) ([]byte, error) {
	cleaned := StripWhitespace(s)
	if cleaned == "" {
		return nil, ErrNotBase64
	}

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// LooksLikeJSON reports whether the trimmed text is bracketed like a JSON
// object or array.
func LooksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return false
	}

	first, last := trimmed[0], trimmed[len(trimmed)-1]

	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
