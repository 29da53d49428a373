package speech_test

import (
	"testing"

	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/stretchr/testify/assert"
)

func TestKeyOf(t *testing.T) {
	t.Parallel()

	key := speech.KeyOf("default", "mp3", "hello world")

	assert.Len(t, key, 64)
	assert.Equal(t, key, speech.KeyOf("default", "mp3", "hello world"))
	assert.NotEqual(t, key, speech.KeyOf("default", "wav", "hello world"))
	assert.NotEqual(t, key, speech.KeyOf("alloy", "mp3", "hello world"))
}

func TestSanitizeAndCap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", speech.Sanitize("  a\n\tb   c \r\n"))
	assert.Equal(t, "hél...", speech.Cap("héllo", 3))
	assert.Equal(t, "héllo", speech.Cap("héllo", 5))
	assert.Equal(t, "héllo", speech.Cap("héllo", 0))
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	markup := `<html><head><style>p{color:red}</style><script type="x">var a = "<b>";</script></head>
<body><h1>Fish &amp; Chips</h1><p>Price&nbsp;&lt;5 &quot;only&quot; &#39;today&#39;</p></body></html>`

	assert.Equal(t, `Fish & Chips Price <5 "only" 'today'`, speech.StripHTML(markup))
}

func TestMimeForFormat(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"mp3":  "audio/mpeg",
		"MPEG": "audio/mpeg",
		"wav":  "audio/wav",
		"ogg":  "audio/ogg",
		"opus": "audio/ogg",
		"flac": "application/octet-stream",
	}

	for format, want := range tests {
		assert.Equal(t, want, speech.MimeForFormat(format), format)
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "scrape results array",
			body: `{"success":true,"result":[{"selector":"h1","results":[{"html":"<b>Title</b>","text":"  Title  "}]}]}`,
			want: "Title",
		},
		{
			name: "scrape results with html only",
			body: `{"result":[{"results":[{"text":"  "},{"html":"<i>Second</i>"}]}]}`,
			want: "Second",
		},
		{
			name: "result html string",
			body: `{"result":"<p>Hello <b>there</b></p>"}`,
			want: "Hello there",
		},
		{
			name: "result plain string",
			body: `{"result":"  plain text  "}`,
			want: "plain text",
		},
		{
			name: "result object html wins",
			body: `{"result":{"text":"ignored","html":"<p>markup</p>"}}`,
			want: "markup",
		},
		{
			name: "result object nested results",
			body: `{"result":{"results":[{"content":"<p>deep</p>"}]}}`,
			want: "deep",
		},
		{
			name: "top level text",
			body: `{"text":"top"}`,
			want: "top",
		},
		{
			name: "not json",
			body: `<html><body>raw page</body></html>`,
			want: "raw page",
		},
		{
			name: "unknown shape returns compact json",
			body: "{\"errors\": [ 1, 2 ]}",
			want: `{"errors":[1,2]}`,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, speech.ExtractText([]byte(testCase.body)))
		})
	}
}
