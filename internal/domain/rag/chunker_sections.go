package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxHeaderLen = 80

var (
	reMarkdownHeading = regexp.MustCompile(`^(#{1,6})\s+(\S.*)$`)
	reChapterHeading  = regexp.MustCompile(`(?i)^(chapter|part)\s+([0-9]+|[ivxlcdm]+)\b`)
	reSectionHeading  = regexp.MustCompile(`(?i)^section\s+[0-9]+(\.[0-9]+)*\b`)
	reRomanHeading    = regexp.MustCompile(`^[IVXLCDM]+\.\s+\S`)
	reNumberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+\p{Lu}`)
)

// section is a header-delimited rune range. The header line is part of it.
type section struct {
	header     string
	level      int
	start, end int
}

// DetectHeader reports whether a single line looks like a section header and
// returns its display text and level (1 = top).
func DetectHeader(line string) (string, int, bool) {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > maxHeaderLen {
		return "", 0, false
	}

	if m := reMarkdownHeading.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[2]), len(m[1]), true
	}
	if reChapterHeading.MatchString(line) {
		return line, 1, true
	}
	if reSectionHeading.MatchString(line) {
		return line, 2, true
	}
	if reRomanHeading.MatchString(line) {
		return line, 2, true
	}
	if m := reNumberedHeading.FindStringSubmatch(line); m != nil && looksLikeTitle(line) {
		return line, strings.Count(m[1], ".") + 1, true
	}
	if isAllCaps(line) {
		return line, 1, true
	}
	return "", 0, false
}

// looksLikeTitle rejects numbered list items that are really sentences.
func looksLikeTitle(line string) bool {
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	return len(strings.Fields(line)) <= 10
}

func isAllCaps(line string) bool {
	if utf8.RuneCountInString(line) > 60 {
		return false
	}
	letters := 0
	for _, c := range line {
		if unicode.IsLetter(c) {
			if unicode.IsLower(c) {
				return false
			}
			letters++
		}
	}
	return letters >= 3 && !strings.HasSuffix(line, ".")
}

// splitSections segments [lo, hi) at header lines. Text before the first
// header becomes a headerless section.
func splitSections(r []rune, lo, hi int) []section {
	var out []section
	cur := section{start: lo}
	lineStart := lo
	for i := lo; i <= hi; i++ {
		if i < hi && r[i] != '\n' {
			continue
		}
		if h, lvl, ok := DetectHeader(string(r[lineStart:i])); ok {
			if !isBlank(r[cur.start:lineStart]) {
				cur.end = lineStart
				out = append(out, cur)
			}
			cur = section{header: h, level: lvl, start: lineStart}
		}
		lineStart = i + 1
	}
	cur.end = hi
	if !isBlank(r[cur.start:cur.end]) {
		out = append(out, cur)
	}
	return out
}

// mergeSmallSections folds sections shorter than minSize into the following
// section, or into the previous one at the end of the document.
func mergeSmallSections(secs []section, minSize int) []section {
	var out []section
	for i := 0; i < len(secs); i++ {
		s := secs[i]
		for s.end-s.start < minSize && i+1 < len(secs) {
			next := secs[i+1]
			if s.header == "" {
				s.header, s.level = next.header, next.level
			}
			s.end = next.end
			i++
		}
		if s.end-s.start < minSize && len(out) > 0 {
			out[len(out)-1].end = s.end
			continue
		}
		out = append(out, s)
	}
	return out
}

// sectionChunks paragraph-packs each section separately. Continuation chunks
// carry a "[Continued from: <header>]" prefix; offsets still refer to the source.
// A short last chunk of a section is merged into the chunk before it or
// carried into the next section, so only the document's final chunk may be
// under MinSize.
func sectionChunks(r []rune, lo, hi int, o ChunkOptions) []Chunk {
	secs := splitSections(r, lo, hi)
	if len(secs) == 0 || (len(secs) == 1 && secs[0].header == "") {
		return spansToChunks(r, paragraphSpans(r, lo, hi, o.MaxSize, o.MinSize, o.Overlap))
	}
	secs = mergeSmallSections(secs, o.MinSize)

	var chunks []Chunk
	carry := -1
	for i, sec := range secs {
		start := sec.start
		if carry >= 0 {
			start, carry = carry, -1
		}
		prefix := ""
		if sec.header != "" {
			prefix = fmt.Sprintf("[Continued from: %s]\n", sec.header)
		}
		budget := o.MaxSize - utf8.RuneCountInString(prefix)
		if budget <= o.MinSize {
			budget, prefix = o.MaxSize, ""
		}

		spans := paragraphSpans(r, start, sec.end, budget, min(o.MinSize, budget-1), min(o.Overlap, budget-1))
		if n := len(spans); n > 0 && i < len(secs)-1 && spans[n-1].len() < o.MinSize {
			tail := spans[n-1]
			switch {
			case n > 1 && tail.end-spans[n-2].start <= budget:
				spans[n-2].end = tail.end
				spans[n-2].paragraphs += tail.paragraphs
				spans = spans[:n-1]
			case n > 1:
				carry = skipSpace(r, spans[n-2].end, sec.end)
				spans = spans[:n-1]
			default:
				carry = tail.start
				spans = nil
			}
		}

		for j, sp := range spans {
			ch := Chunk{
				Content:        string(r[sp.start:sp.end]),
				StartOffset:    sp.start,
				EndOffset:      sp.end,
				ParagraphCount: max(1, sp.paragraphs),
				Section:        sec.header,
			}
			if j == 0 {
				ch.IsHeader = sec.header != "" && sp.start >= sec.start
				if ch.IsHeader {
					ch.HeaderLevel = sec.level
				}
			} else if prefix != "" {
				ch.Content = prefix + ch.Content
			}
			chunks = append(chunks, ch)
		}
	}
	return chunks
}
