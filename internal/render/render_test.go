package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoQueryRenderer_Render(t *testing.T) {
	htmlStr := `<html><head><title>Example</title></head><body>
		<article><h1>Welcome</h1><p>Hello world, this is a test page.</p>
		<ul><li>one</li><li>two</li></ul></article>
		<link rel="alternate" type="application/json" href="/api/data.json">
		<a href="/next">next</a>
	</body></html>`

	r := GoQueryRenderer{}
	out, err := r.Render(htmlStr, "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, "Example", out.Title)
	assert.True(t, out.HasSemanticTag)
	assert.Contains(t, out.Text, "Welcome")
	assert.Contains(t, out.Text, "Hello world")
	assert.Contains(t, out.Markdown, "# Welcome")
	assert.Contains(t, out.Links, "/next")
	require.Len(t, out.APIs, 1)
	assert.Equal(t, "/api/data.json", out.APIs[0].URL)
	assert.Equal(t, "application/json", out.APIs[0].ContentType)
}

func TestGoQueryRenderer_NoSemanticTag(t *testing.T) {
	r := GoQueryRenderer{}
	out, err := r.Render(`<html><body><div>short</div></body></html>`, "")
	require.NoError(t, err)
	assert.False(t, out.HasSemanticTag)
}
