package rag

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "docrag/internal/platform/log"
)

// ParseResult is the plain text of a source document.
type ParseResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Pages    int               `json:"pages,omitempty"` // 0 when the format has no pages
}

// Parser turns one document format into plain text.
type Parser interface {
	Parse(reader io.Reader, filename string) (*ParseResult, error)
	SupportedTypes() []string
}

// MarkdownParser strips inline markup but keeps heading lines, so the
// section chunker can still see them.
type MarkdownParser struct{}

var (
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(\S.*?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownHTML   = regexp.MustCompile(`<[^>]+>`)
)

func (p *MarkdownParser) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}

func (p *MarkdownParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	text := string(data)

	title := ""
	for _, line := range strings.SplitN(text, "\n", 20) {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "# ") {
			title = strings.TrimPrefix(line, "# ")
			break
		}
	}

	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	})
	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHTML.ReplaceAllString(text, "")

	meta := map[string]string{"format": "markdown"}
	if title != "" {
		meta["title"] = title
	}
	return &ParseResult{
		Content:  strings.TrimSpace(cleanExtraNewlines(text)),
		Metadata: meta,
	}, nil
}

// PlainTextParser reads text-like formats as is.
type PlainTextParser struct{}

func (p *PlainTextParser) SupportedTypes() []string {
	return []string{".txt", ".text", ".csv", ".log", ".json", ".xml", ".yaml", ".yml"}
}

func (p *PlainTextParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &ParseResult{
		Content:  strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n")),
		Metadata: map[string]string{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")},
	}, nil
}

// PDFParser extracts page text. Pages are separated by blank lines.
type PDFParser struct{}

func (p *PDFParser) SupportedTypes() []string {
	return []string{".pdf"}
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf data: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[RAG/PDF] Failed to extract page text", "file", filename, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &ParseResult{
		Content: strings.TrimSpace(cleanExtraNewlines(sb.String())),
		Pages:   pages,
		Metadata: map[string]string{
			"format": "pdf",
			"pages":  strconv.Itoa(pages),
		},
	}, nil
}

// DOCXParser extracts paragraph text from the document XML.
type DOCXParser struct{}

var (
	reDocxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	reDocxText      = regexp.MustCompile(`(?s)<w:t(?: [^>]*)?>(.*?)</w:t>`)
)

func (p *DOCXParser) SupportedTypes() []string {
	return []string{".docx"}
}

func (p *DOCXParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx data: %w", err)
	}
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	return &ParseResult{
		Content:  docxText(r.Editable().GetContent()),
		Metadata: map[string]string{"format": "docx"},
	}, nil
}

// docxText joins the <w:t> runs of each <w:p> into one line and separates
// paragraphs with blank lines.
func docxText(xml string) string {
	var paras []string
	for _, p := range reDocxParagraph.FindAllString(xml, -1) {
		var sb strings.Builder
		for _, m := range reDocxText.FindAllStringSubmatch(p, -1) {
			sb.WriteString(html.UnescapeString(m[1]))
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			paras = append(paras, line)
		}
	}
	return strings.Join(paras, "\n\n")
}

var reMultiNewlines = regexp.MustCompile(`\n{3,}`)

func cleanExtraNewlines(text string) string {
	return reMultiNewlines.ReplaceAllString(text, "\n\n")
}
