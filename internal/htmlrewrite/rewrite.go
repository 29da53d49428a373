// Package htmlrewrite makes rendered pages self-contained when served from
// another origin: relative asset links become absolute against the page URL,
// subresource integrity attributes are dropped, and a <base> element is added
// to <head>.
package htmlrewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

const errWriteFailed = "write rewritten html: %w"

// ErrNilBase is returned when no base URL is supplied.
var ErrNilBase = errors.New("base url is required")

type rule struct {
	attrs         []string
	dropIntegrity bool
}

var rules = map[string]rule{
	"img":    {attrs: []string{"src", "srcset"}},
	"script": {attrs: []string{"src"}, dropIntegrity: true},
	"link":   {attrs: []string{"href"}, dropIntegrity: true},
	"a":      {attrs: []string{"href"}},
	"source": {attrs: []string{"src", "srcset"}},
	"video":  {attrs: []string{"poster", "src"}},
	"audio":  {attrs: []string{"src"}},
}

// Rewrite streams src to dst, rewriting tags as it goes. Text, comments and
// untouched tags are copied byte for byte.
func Rewrite(dst io.Writer, src io.Reader, base *url.URL) error {
	if base == nil {
		return ErrNilBase
	}

	r := &rewriter{dst: dst, base: base, baseTag: baseElement(base)}
	tokenizer := html.NewTokenizer(src)

	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			if err := tokenizer.Err(); !errors.Is(err, io.EOF) {
				return err
			}

			return r.flushPendingBase()
		}

		raw := bytes.Clone(tokenizer.Raw())
		token := tokenizer.Token()

		if err := r.handle(tokenType, raw, token); err != nil {
			return fmt.Errorf(errWriteFailed, err)
		}
	}
}

// RewriteString is Rewrite for in-memory documents.
func RewriteString(document string, base *url.URL) (string, error) {
	var out strings.Builder

	if err := Rewrite(&out, strings.NewReader(document), base); err != nil {
		return "", err
	}

	return out.String(), nil
}

type rewriter struct {
	dst     io.Writer
	base    *url.URL
	baseTag string

	// pendingBase is set right after <head> until the first meaningful token
	// shows whether a <base> element already leads the head.
	pendingBase bool
}

func (r *rewriter) handle(tokenType html.TokenType, raw []byte, token html.Token) error {
	if r.pendingBase {
		switch {
		case tokenType == html.TextToken && strings.TrimSpace(token.Data) == "":
			return r.write(raw)
		case isTag(tokenType) && token.Data == "base":
			r.pendingBase = false
		default:
			if err := r.flushPendingBase(); err != nil {
				return err
			}
		}
	}

	if !isTag(tokenType) {
		return r.write(raw)
	}

	if token.Data == "head" && tokenType == html.StartTagToken {
		r.pendingBase = true

		return r.write(raw)
	}

	if r.rewriteTag(&token) {
		return r.write([]byte(token.String()))
	}

	return r.write(raw)
}

// rewriteTag applies the tag's rule in place and reports whether anything
// changed.
func (r *rewriter) rewriteTag(token *html.Token) bool {
	tagRule, ok := rules[token.Data]
	if !ok {
		return false
	}

	changed := false
	attrs := token.Attr[:0]

	for _, attr := range token.Attr {
		if tagRule.dropIntegrity && (attr.Key == "integrity" || attr.Key == "crossorigin") {
			changed = true

			continue
		}

		if slices.Contains(tagRule.attrs, attr.Key) {
			rewritten := r.absolutize(attr.Key, attr.Val)
			if rewritten != attr.Val {
				attr.Val = rewritten
				changed = true
			}
		}

		attrs = append(attrs, attr)
	}

	token.Attr = attrs

	return changed
}

func (r *rewriter) absolutize(key, value string) string {
	if key == "srcset" {
		return r.absolutizeSrcset(value)
	}

	return resolve(r.base, value)
}

func (r *rewriter) absolutizeSrcset(value string) string {
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))

	for _, item := range items {
		fields := strings.Fields(item)
		if len(fields) == 0 {
			continue
		}

		candidate := resolve(r.base, fields[0])
		if len(fields) > 1 {
			candidate += " " + fields[1]
		}

		out = append(out, candidate)
	}

	return strings.Join(out, ", ")
}

func (r *rewriter) flushPendingBase() error {
	if !r.pendingBase {
		return nil
	}

	r.pendingBase = false

	return r.write([]byte(r.baseTag))
}

func (r *rewriter) write(p []byte) error {
	_, err := r.dst.Write(p)

	return err
}

// resolve returns value made absolute against base. Empty or unparsable
// values come back unchanged.
func resolve(base *url.URL, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return value
	}

	return base.ResolveReference(ref).String()
}

// baseElement points the document at the origin of base. Path and query
// stay out of the tag.
func baseElement(base *url.URL) string {
	origin := base.Scheme + "://" + base.Host

	return `<base href="` + html.EscapeString(origin) + `">`
}

func isTag(tokenType html.TokenType) bool {
	return tokenType == html.StartTagToken || tokenType == html.SelfClosingTagToken
}
