package htmlrewrite_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/book-expert/render-gateway/internal/htmlrewrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
  <link rel="stylesheet" href="/css/site.css" integrity="sha384-abc" crossorigin="anonymous">
  <script src="js/app.js" integrity="sha384-def"></script>
</head>
<body>
  <a href="../up.html">up</a>
  <a href="#top">top</a>
  <img src="c.png" srcset="small.png 1x,  large.png 2x">
  <video poster="poster.jpg" src="/v.mp4"></video>
  <audio src="https://cdn.example.org/a.mp3"></audio>
  <picture><source srcset="s.webp"></picture>
  <p>Text &amp; more</p>
</body>
</html>`

func mustBase(t *testing.T) *url.URL {
	t.Helper()

	base, err := url.Parse("https://example.com/a/b")
	require.NoError(t, err)

	return base
}

func parse(t *testing.T, document string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	require.NoError(t, err)

	return doc
}

func TestRewriteString_AbsolutizesAssets(t *testing.T) {
	t.Parallel()

	out, err := htmlrewrite.RewriteString(testPage, mustBase(t))
	require.NoError(t, err)

	doc := parse(t, out)

	tests := []struct {
		selector string
		attr     string
		want     string
	}{
		{selector: "link", attr: "href", want: "https://example.com/css/site.css"},
		{selector: "script", attr: "src", want: "https://example.com/a/js/app.js"},
		{selector: "a", attr: "href", want: "https://example.com/up.html"},
		{selector: "img", attr: "src", want: "https://example.com/a/c.png"},
		{selector: "img", attr: "srcset", want: "https://example.com/a/small.png 1x, https://example.com/a/large.png 2x"},
		{selector: "video", attr: "poster", want: "https://example.com/a/poster.jpg"},
		{selector: "video", attr: "src", want: "https://example.com/v.mp4"},
		{selector: "audio", attr: "src", want: "https://cdn.example.org/a.mp3"},
		{selector: "source", attr: "srcset", want: "https://example.com/a/s.webp"},
		{selector: "head > base", attr: "href", want: "https://example.com"},
	}

	for _, testCase := range tests {
		value, ok := doc.Find(testCase.selector).First().Attr(testCase.attr)
		require.True(t, ok, "%s[%s] missing", testCase.selector, testCase.attr)
		assert.Equal(t, testCase.want, value, "%s[%s]", testCase.selector, testCase.attr)
	}
}

func TestRewriteString_DropsIntegrity(t *testing.T) {
	t.Parallel()

	out, err := htmlrewrite.RewriteString(testPage, mustBase(t))
	require.NoError(t, err)

	doc := parse(t, out)

	assert.Zero(t, doc.Find("[integrity]").Length())
	assert.Zero(t, doc.Find("[crossorigin]").Length())
}

func TestRewriteString_KeepsTextVerbatim(t *testing.T) {
	t.Parallel()

	out, err := htmlrewrite.RewriteString(testPage, mustBase(t))
	require.NoError(t, err)

	assert.Contains(t, out, "<p>Text &amp; more</p>")
	assert.Contains(t, out, `<!DOCTYPE html>`)
}

func TestRewriteString_Idempotent(t *testing.T) {
	t.Parallel()

	base := mustBase(t)

	once, err := htmlrewrite.RewriteString(testPage, base)
	require.NoError(t, err)

	twice, err := htmlrewrite.RewriteString(once, base)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "<base "))
}

func TestRewriteString_BaseCarriesOriginOnly(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com:8443/deep/page.html?session=abc#top")
	require.NoError(t, err)

	out, err := htmlrewrite.RewriteString(`<html><head><title>t</title></head></html>`, base)
	require.NoError(t, err)

	assert.Contains(t, out, `<base href="https://example.com:8443">`)
	assert.NotContains(t, out, "session=abc")
	assert.NotContains(t, out, "/deep/")
}

func TestRewriteString_ExistingBaseIsKept(t *testing.T) {
	t.Parallel()

	document := `<html><head><base href="https://other.example/"><title>t</title></head></html>`

	out, err := htmlrewrite.RewriteString(document, mustBase(t))
	require.NoError(t, err)

	assert.Equal(t, document, out)
}

func TestRewriteString_NoHeadNoBase(t *testing.T) {
	t.Parallel()

	out, err := htmlrewrite.RewriteString(`<img src="c.png">`, mustBase(t))
	require.NoError(t, err)

	assert.Equal(t, `<img src="https://example.com/a/c.png">`, out)
}

func TestRewrite_NilBase(t *testing.T) {
	t.Parallel()

	_, err := htmlrewrite.RewriteString("<p>x</p>", nil)
	require.ErrorIs(t, err, htmlrewrite.ErrNilBase)
}
