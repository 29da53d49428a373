// Package speech implements the text-to-speech path of the gateway: text
// extraction from rendered pages, content-hash deduplication of synthesized
// audio, and the synthesis client.
package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const ellipsis = "..."

var (
	scriptBlock = regexp.MustCompile(`(?is)<script[\s\S]*?>[\s\S]*?</script>`)
	styleBlock  = regexp.MustCompile(`(?is)<style[\s\S]*?>[\s\S]*?</style>`)
	anyTag      = regexp.MustCompile(`</?[^>]+>`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Entities unescaped by StripHTML, applied in this order.
var entities = [][2]string{
	{"&nbsp;", " "},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&#39;", "'"},
}

// KeyOf is the content hash that names synthesized audio.
func KeyOf(voice, format, text string) string {
	sum := sha256.Sum256([]byte(voice + "|" + format + "|" + text))

	return hex.EncodeToString(sum[:])
}

// Sanitize collapses whitespace runs to single spaces and trims.
func Sanitize(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// Cap truncates text to limit runes and marks the cut with an ellipsis.
func Cap(text string, limit int) string {
	if limit <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + ellipsis
}

// StripHTML reduces markup to its visible text.
func StripHTML(markup string) string {
	text := scriptBlock.ReplaceAllString(markup, "")
	text = styleBlock.ReplaceAllString(text, "")
	text = anyTag.ReplaceAllString(text, " ")
	text = Sanitize(text)

	for _, entity := range entities {
		text = strings.ReplaceAll(text, entity[0], entity[1])
	}

	return text
}

// MimeForFormat maps an audio format name to its content type.
func MimeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// ExtractText pulls readable text out of a rendering reply. Bodies that are
// not JSON are treated as a bare result string. It never fails: when no
// known shape matches, the compacted JSON document itself is returned.
func ExtractText(body []byte) string {
	if !gjson.ValidBytes(body) {
		return fromString(string(body))
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return fromString(string(body))
	}

	result := doc.Get("result")

	if result.IsArray() {
		for _, item := range result.Array() {
			if text := fromEntry(item); text != "" {
				return text
			}
		}
	}

	switch {
	case result.Type == gjson.String:
		return fromString(result.String())
	case result.IsObject():
		if text, ok := fromFields(result); ok {
			return text
		}

		for _, entry := range result.Get("results").Array() {
			if text := fromEntry(entry); text != "" {
				return text
			}
		}
	}

	if text, ok := fromFields(doc); ok {
		return text
	}

	return doc.Get("@ugly").Raw
}

// fromFields reads the first present html, text or content string field.
func fromFields(obj gjson.Result) (string, bool) {
	if html := obj.Get("html"); html.Type == gjson.String {
		return StripHTML(html.String()), true
	}

	if text := obj.Get("text"); text.Type == gjson.String {
		return text.String(), true
	}

	if content := obj.Get("content"); content.Type == gjson.String {
		return StripHTML(content.String()), true
	}

	return "", false
}

// fromEntry extracts text from one scrape entry, preferring non-blank text
// over html over content, then a nested result, then nested results.
func fromEntry(entry gjson.Result) string {
	if entry.Type == gjson.String {
		return fromString(entry.String())
	}

	if !entry.IsObject() {
		return ""
	}

	if text := nonBlankEntryFields(entry); text != "" {
		return text
	}

	nested := entry.Get("result")

	switch {
	case nested.Type == gjson.String:
		if text := fromString(nested.String()); text != "" {
			return text
		}
	case nested.IsObject():
		if text := nonBlankEntryFields(nested); text != "" {
			return text
		}
	}

	for _, child := range entry.Get("results").Array() {
		if text := fromEntry(child); text != "" {
			return text
		}
	}

	return ""
}

func nonBlankEntryFields(obj gjson.Result) string {
	if text := obj.Get("text"); text.Type == gjson.String && strings.TrimSpace(text.String()) != "" {
		return strings.TrimSpace(text.String())
	}

	if html := obj.Get("html"); html.Type == gjson.String && strings.TrimSpace(html.String()) != "" {
		return StripHTML(html.String())
	}

	if content := obj.Get("content"); content.Type == gjson.String && strings.TrimSpace(content.String()) != "" {
		return StripHTML(content.String())
	}

	return ""
}

func fromString(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<") {
		return StripHTML(trimmed)
	}

	return trimmed
}
