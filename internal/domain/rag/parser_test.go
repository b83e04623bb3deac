package rag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownParserKeepsHeadings(t *testing.T) {
	src := "# Quarterly Report\n\nSome **bold** and *italic* text with a [link](http://x).\n\n\n\n## Results\n\n```go\nfmt.Println(1)\n```\n"
	res, err := (&MarkdownParser{}).Parse(strings.NewReader(src), "r.md")
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report", res.Metadata["title"])
	assert.Contains(t, res.Content, "# Quarterly Report")
	assert.Contains(t, res.Content, "## Results")
	assert.Contains(t, res.Content, "Some bold and italic text with a link.")
	assert.Contains(t, res.Content, "fmt.Println(1)")
	assert.NotContains(t, res.Content, "\n\n\n")

	text, level, ok := DetectHeader("## Results")
	assert.True(t, ok)
	assert.Equal(t, "Results", text)
	assert.Equal(t, 2, level)
}

func TestDocxText(t *testing.T) {
	xml := `<w:body><w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world &amp; co</w:t></w:r></w:p>` +
		`<w:p><w:pPr/></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p></w:body>`
	assert.Equal(t, "Hello world & co\n\nSecond", docxText(xml))
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	reg := NewParserRegistry()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\r\nline two\r\n"), 0o600))
	res, err := reg.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", res.Content)
	assert.Zero(t, res.Pages)

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.txt")},
		{"unsupported", filepath.Join(dir, "image.png")},
		{"no extension", filepath.Join(dir, "README")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ParseFile(tt.path)
			assert.ErrorIs(t, err, ErrSourceUnreadable)
		})
	}

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = reg.ParseFile(empty)
	assert.ErrorIs(t, err, ErrSourceUnreadable)

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 2<<20), 0o600))
	_, err = NewParserRegistry().WithMaxFileSize(1).ParseFile(big)
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestParserRegistrySupports(t *testing.T) {
	reg := NewParserRegistry()
	assert.True(t, reg.Supports("A.PDF"))
	assert.True(t, reg.Supports("b.docx"))
	assert.False(t, reg.Supports("c.exe"))
	assert.Contains(t, reg.SupportedTypes(), ".md")
}
