package mimeutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByFileName(t *testing.T) {
	assert.True(t, strings.HasPrefix(ByFileName("a.txt"), "text/plain"))
	assert.True(t, strings.HasPrefix(ByFileName("pic.png"), "image/png"))
	assert.Equal(t, "application/octet-stream", ByFileName("blob"))
	assert.Equal(t, "application/octet-stream", ByFileName("x.unknownext"))
}

func TestIsTextFamily(t *testing.T) {
	for _, name := range []string{"readme.md", "main.go", "conf.yaml", "data.csv", "app.log", "q.sql"} {
		assert.True(t, IsTextFamily(name), name)
	}
	for _, name := range []string{"pic.png", "a.zip", "v.mp4"} {
		assert.False(t, IsTextFamily(name), name)
	}
}

func TestResponseContentType(t *testing.T) {
	// Text-family previews are forced to text/plain.
	assert.Equal(t, "text/plain; charset=UTF-8", ResponseContentType("main.go", true))
	assert.Equal(t, "text/plain; charset=UTF-8", ResponseContentType("notes.md", true))

	// HTML is never previewed as HTML.
	assert.Equal(t, "text/plain; charset=UTF-8", ResponseContentType("page.html", true))

	// Downloads keep the real type; HTML downloads stay HTML.
	ct := ResponseContentType("page.html", false)
	assert.True(t, strings.HasPrefix(ct, "text/html"))
	assert.Contains(t, ct, "charset")

	// Binary passes through unchanged.
	assert.Equal(t, "image/png", ResponseContentType("pic.png", true))
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "inline; filename*=UTF-8''a.txt", ContentDisposition("a.txt", true))
	assert.Equal(t, "attachment; filename*=UTF-8''a.txt", ContentDisposition("a.txt", false))
	assert.Contains(t, ContentDisposition("résumé.pdf", false), "%C3%A9")
	assert.Equal(t, "attachment", ContentDisposition("", false))
}
