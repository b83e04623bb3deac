package rag

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// sentenceTolerance is how far back a window may retract to end on a sentence.
	sentenceTolerance = 100
	// wordTolerance is how far back a window may retract to end between words.
	wordTolerance = 50
	// minParagraphLen folds shorter paragraphs into their neighbours.
	minParagraphLen = 50
)

// Validate checks the size constraints: maxSize > minSize > 0, 0 <= overlap < maxSize.
func (o ChunkOptions) Validate() error {
	if o.MinSize <= 0 || o.MaxSize <= o.MinSize {
		return fmt.Errorf("%w: need max_size > min_size > 0, got max=%d min=%d",
			ErrInvalidChunkOptions, o.MaxSize, o.MinSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxSize {
		return fmt.Errorf("%w: need 0 <= overlap < max_size, got overlap=%d max=%d",
			ErrInvalidChunkOptions, o.Overlap, o.MaxSize)
	}
	switch o.Strategy {
	case "", StrategyFixed, StrategyParagraph, StrategySection:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidChunkOptions, o.Strategy)
	}
	return nil
}

// Chunker splits document text into bounded segments.
type Chunker struct {
	opts ChunkOptions
}

// NewChunker validates opts. An empty strategy means paragraph-aware.
func NewChunker(opts ChunkOptions) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyParagraph
	}
	return &Chunker{opts: opts}, nil
}

// Chunk splits text. totalPages > 0 enables proportional page estimation and
// overrides opts.TotalPages.
func (c *Chunker) Chunk(text string, totalPages int) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if totalPages <= 0 {
		totalPages = c.opts.TotalPages
	}

	r := []rune(text)
	o := c.opts
	var chunks []Chunk

	s, e := trimSpan(r, 0, len(r))
	switch {
	case e-s < o.MinSize:
		chunks = []Chunk{{
			Content:        string(r[s:e]),
			StartOffset:    s,
			EndOffset:      e,
			ParagraphCount: max(1, len(splitParagraphs(r, s, e))),
		}}
	case o.Strategy == StrategyFixed:
		chunks = spansToChunks(r, fixedSpans(r, s, e, o.MaxSize, o.MinSize, o.Overlap))
	case o.Strategy == StrategySection:
		chunks = sectionChunks(r, s, e, o)
	default:
		chunks = spansToChunks(r, paragraphSpans(r, s, e, o.MaxSize, o.MinSize, o.Overlap))
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	assignPages(chunks, totalPages)
	return chunks, nil
}

// ChunkText is a one-shot helper around NewChunker and Chunk.
func ChunkText(text string, opts ChunkOptions) ([]Chunk, error) {
	c, err := NewChunker(opts)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text, opts.TotalPages)
}

// assignPages spreads totalPages proportionally over the chunk sequence.
// Chunk i of n covers pages [i*P/n + 1, ceil((i+1)*P/n)].
func assignPages(chunks []Chunk, totalPages int) {
	n := len(chunks)
	if totalPages <= 0 || n == 0 {
		return
	}
	for i := range chunks {
		start := i*totalPages/n + 1
		end := ((i+1)*totalPages + n - 1) / n
		start = clamp(start, 1, totalPages)
		end = clamp(end, start, totalPages)
		chunks[i].PageStart = start
		chunks[i].PageEnd = end
		chunks[i].PagesApproximate = totalPages > 1
	}
}

// span is a half-open rune range of the source text.
type span struct {
	start, end int
	paragraphs int
}

func (s span) len() int { return s.end - s.start }

func spansToChunks(r []rune, spans []span) []Chunk {
	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		chunks = append(chunks, Chunk{
			Content:        string(r[sp.start:sp.end]),
			StartOffset:    sp.start,
			EndOffset:      sp.end,
			ParagraphCount: max(1, sp.paragraphs),
		})
	}
	return chunks
}

// ── fixed window ─────────────────────────────────────────────

// fixedSpans slides a maxSize window over [lo, hi), retracting each cut to a
// sentence end or, failing that, a word boundary. Cuts never land before
// start+minSize, so only the final span can be short.
func fixedSpans(r []rune, lo, hi, maxSize, minSize, overlap int) []span {
	var out []span
	start := skipSpace(r, lo, hi)
	for start < hi {
		end := start + maxSize
		if end >= hi {
			if s, e := trimSpan(r, start, hi); e > s {
				out = append(out, span{s, e, 1})
			}
			break
		}

		cut := sentenceCut(r, start, end, minSize)
		if cut < 0 {
			cut = wordCut(r, start, end, minSize)
		}
		if cut < 0 {
			cut = end
		}
		if s, e := trimSpan(r, start, cut); e > s {
			out = append(out, span{s, e, 1})
		}

		next := cut - overlap
		if overlap <= 0 || next <= start {
			next = cut
		} else {
			next = alignWordStart(r, next, cut)
		}
		start = skipSpace(r, next, hi)
	}
	return out
}

func sentenceCut(r []rune, start, end, minSize int) int {
	lower := max(start+minSize, end-sentenceTolerance, start+1)
	for p := end; p >= lower; p-- {
		if isTerminator(r[p-1]) && unicode.IsSpace(r[p]) {
			return p
		}
	}
	return -1
}

func wordCut(r []rune, start, end, minSize int) int {
	lower := max(start+minSize, end-wordTolerance, start+1)
	for p := end; p >= lower; p-- {
		if unicode.IsSpace(r[p]) {
			return p
		}
	}
	return -1
}

func isTerminator(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}

// ── paragraph packing ────────────────────────────────────────

// paragraphSpans packs blank-line separated paragraphs greedily into spans of
// at most maxSize runes. A new span starts with the last overlap runes of the
// previous one. Spans are contiguous slices of the source.
func paragraphSpans(r []rune, lo, hi, maxSize, minSize, overlap int) []span {
	paras := splitParagraphs(r, lo, hi)
	switch len(paras) {
	case 0:
		return nil
	case 1:
		return fixedSpans(r, paras[0].start, paras[0].end, maxSize, minSize, overlap)
	}

	tailMax := min(overlap, maxSize/2)
	unitMax := maxSize - tailMax - 2
	if unitMax < 1 {
		unitMax = maxSize
	}

	var units []span
	for _, u := range foldShortParagraphs(paras) {
		if u.len() <= unitMax {
			units = append(units, u)
			continue
		}
		pieces := fixedSpans(r, u.start, u.end, unitMax, min(minSize, unitMax-1), 0)
		if len(pieces) > 0 {
			pieces[0].paragraphs = u.paragraphs
		}
		units = append(units, pieces...)
	}
	if len(units) == 0 {
		return nil
	}

	var out []span
	cur := units[0]
	for i := 1; i < len(units); i++ {
		u := units[i]
		if cur.start < 0 {
			cur = u
			continue
		}
		if u.end-cur.start <= maxSize {
			cur.end = u.end
			cur.paragraphs += u.paragraphs
			continue
		}

		if cur.len() < minSize {
			limit := cur.start + maxSize
			if cut := fillCut(r, u.start, limit); cut > u.start {
				_, cur.end = trimSpan(r, cur.start, cut)
				cur.paragraphs++
				out = append(out, cur)
				rest := span{skipSpace(r, cut, u.end), u.end, 1}
				if rest.start >= rest.end {
					cur = span{start: -1}
					continue
				}
				cur = withTail(r, cur, rest, tailMax, maxSize)
				continue
			}
		}

		out = append(out, cur)
		cur = withTail(r, cur, u, tailMax, maxSize)
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

// withTail prepends the last tailMax runes of prev (word aligned) to u,
// shrinking the tail so the result stays within maxSize.
func withTail(r []rune, prev, u span, tailMax, maxSize int) span {
	if tailMax <= 0 {
		return u
	}
	ts := max(prev.end-tailMax, prev.start)
	ts = skipSpace(r, alignWordStart(r, ts, prev.end), prev.end)
	if lim := u.end - maxSize; ts < lim {
		ts = skipSpace(r, alignWordStart(r, lim, prev.end), prev.end)
	}
	if ts >= prev.end {
		return u
	}
	return span{ts, u.end, u.paragraphs}
}

// fillCut finds the last whitespace in (lo, limit], or limit itself.
func fillCut(r []rune, lo, limit int) int {
	if limit >= len(r) {
		limit = len(r) - 1
	}
	for p := limit; p > lo; p-- {
		if unicode.IsSpace(r[p]) {
			return p
		}
	}
	return limit
}

// foldShortParagraphs merges paragraphs under minParagraphLen into the next
// one, or into the previous one when they come last.
func foldShortParagraphs(paras []span) []span {
	var units []span
	pending := span{start: -1}
	for i, p := range paras {
		if pending.start >= 0 {
			p.start = pending.start
			p.paragraphs += pending.paragraphs
			pending = span{start: -1}
		}
		if p.len() < minParagraphLen && i < len(paras)-1 {
			pending = p
			continue
		}
		units = append(units, p)
	}
	if n := len(units); n > 1 && units[n-1].len() < minParagraphLen {
		units[n-2].end = units[n-1].end
		units[n-2].paragraphs += units[n-1].paragraphs
		units = units[:n-1]
	}
	return units
}

// splitParagraphs returns trimmed spans separated by whitespace-only lines.
func splitParagraphs(r []rune, lo, hi int) []span {
	var out []span
	lineStart := lo
	paraStart, paraEnd := -1, -1
	for i := lo; i <= hi; i++ {
		if i < hi && r[i] != '\n' {
			continue
		}
		if isBlank(r[lineStart:i]) {
			if paraStart >= 0 {
				s, e := trimSpan(r, paraStart, paraEnd)
				out = append(out, span{s, e, 1})
				paraStart = -1
			}
		} else {
			if paraStart < 0 {
				paraStart = lineStart
			}
			paraEnd = i
		}
		lineStart = i + 1
	}
	if paraStart >= 0 {
		s, e := trimSpan(r, paraStart, paraEnd)
		out = append(out, span{s, e, 1})
	}
	return out
}

// ── rune helpers ─────────────────────────────────────────────

// alignWordStart moves pos forward out of the middle of a word. A position
// that would reach limit is returned unchanged.
func alignWordStart(r []rune, pos, limit int) int {
	if pos <= 0 || pos >= limit || pos >= len(r) {
		return pos
	}
	if unicode.IsSpace(r[pos-1]) || unicode.IsSpace(r[pos]) {
		return pos
	}
	p := pos
	for p < limit && !unicode.IsSpace(r[p]) {
		p++
	}
	if p >= limit {
		return pos
	}
	return p
}

func skipSpace(r []rune, pos, hi int) int {
	for pos < hi && unicode.IsSpace(r[pos]) {
		pos++
	}
	return pos
}

func trimSpan(r []rune, s, e int) (int, int) {
	for s < e && unicode.IsSpace(r[s]) {
		s++
	}
	for e > s && unicode.IsSpace(r[e-1]) {
		e--
	}
	return s, e
}

func isBlank(r []rune) bool {
	for _, c := range r {
		if !unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
