package rag

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildParagraph appends numbered sentences until the text reaches minLen runes.
func buildParagraph(topic string, minLen int) string {
	var sb strings.Builder
	for i := 1; utf8.RuneCountInString(sb.String()) < minLen; i++ {
		fmt.Fprintf(&sb, "Sentence %d about %s explains the quarterly figures in detail. ", i, topic)
	}
	return strings.TrimSpace(sb.String())
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func assertContiguous(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	r := []rune(text)
	for _, c := range chunks {
		require.LessOrEqual(t, c.EndOffset, len(r))
		assert.Equal(t, string(r[c.StartOffset:c.EndOffset]), c.Content, "chunk %d content must match its offsets", c.Index)
	}
}

func TestChunkOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts ChunkOptions
		ok   bool
	}{
		{"valid", ChunkOptions{MaxSize: 1000, MinSize: 200, Overlap: 100}, true},
		{"zero min", ChunkOptions{MaxSize: 1000, MinSize: 0}, false},
		{"max equals min", ChunkOptions{MaxSize: 200, MinSize: 200}, false},
		{"negative overlap", ChunkOptions{MaxSize: 1000, MinSize: 200, Overlap: -1}, false},
		{"overlap equals max", ChunkOptions{MaxSize: 1000, MinSize: 200, Overlap: 1000}, false},
		{"unknown strategy", ChunkOptions{MaxSize: 1000, MinSize: 200, Strategy: "semantic"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidChunkOptions)
			}
		})
	}
}

func TestChunkEmptyText(t *testing.T) {
	_, err := ChunkText("   \n\t ", ChunkOptions{MaxSize: 100, MinSize: 10})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestChunkShortDocumentYieldsOneChunk(t *testing.T) {
	for _, strategy := range []ChunkStrategy{StrategyFixed, StrategyParagraph, StrategySection} {
		t.Run(string(strategy), func(t *testing.T) {
			chunks, err := ChunkText("  A tiny note.\n\nSecond line.  ", ChunkOptions{MaxSize: 500, MinSize: 100, Strategy: strategy})
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Equal(t, "A tiny note.\n\nSecond line.", chunks[0].Content)
			assert.Equal(t, 2, chunks[0].ParagraphCount)
		})
	}
}

func TestFixedWindowCutsAtSentences(t *testing.T) {
	text := buildParagraph("revenue", 3000)
	opts := ChunkOptions{MaxSize: 300, MinSize: 100, Overlap: 50, Strategy: StrategyFixed}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 5)
	assertContiguous(t, text, chunks)

	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, runeLen(text), chunks[len(chunks)-1].EndOffset)

	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Content), opts.MaxSize)
		if i == len(chunks)-1 {
			continue
		}
		assert.GreaterOrEqual(t, runeLen(c.Content), opts.MinSize)
		assert.True(t, strings.HasSuffix(c.Content, "."), "chunk %d should end on a sentence: %q", i, c.Content)

		next := chunks[i+1]
		assert.Less(t, next.StartOffset, c.EndOffset, "windows overlap")
		assert.GreaterOrEqual(t, next.StartOffset, c.EndOffset-opts.Overlap-1)
	}
}

func TestFixedWindowFallsBackToWordBoundary(t *testing.T) {
	words := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	chunks, err := ChunkText(words, ChunkOptions{MaxSize: 120, MinSize: 40, Strategy: StrategyFixed})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Content), 120)
		for _, w := range strings.Fields(c.Content) {
			assert.Contains(t, []string{"lorem", "ipsum", "dolor", "sit", "amet"}, w, "no word may be cut")
		}
	}
}

func TestFixedWindowHardCutWithoutSpaces(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks, err := ChunkText(text, ChunkOptions{MaxSize: 100, MinSize: 20, Strategy: StrategyFixed})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, runeLen(chunks[0].Content))
	assert.Equal(t, 50, runeLen(chunks[2].Content))
}

func TestParagraphPackingThreeParagraphs(t *testing.T) {
	paras := []string{
		buildParagraph("sales", 800),
		buildParagraph("costs", 800),
		buildParagraph("outlook", 800),
	}
	text := strings.Join(paras, "\n\n")
	opts := ChunkOptions{MaxSize: 1000, MinSize: 200, Overlap: 100, Strategy: StrategyParagraph}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assertContiguous(t, text, chunks)

	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Content), opts.MaxSize)
		assert.Contains(t, c.Content, paras[i])
	}
	// chunk 1 carries the tail of paragraph 0
	secondStart := runeLen(paras[0]) + 2
	assert.Less(t, chunks[1].StartOffset, secondStart)
	assert.GreaterOrEqual(t, chunks[1].StartOffset, secondStart-2-opts.Overlap)
}

func TestParagraphChunksRespectMinSize(t *testing.T) {
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, buildParagraph(fmt.Sprintf("topic %d", i), 120))
	}
	text := strings.Join(paras, "\n\n")
	opts := ChunkOptions{MaxSize: 500, MinSize: 300, Overlap: 60, Strategy: StrategyParagraph}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	assertContiguous(t, text, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Content), opts.MaxSize)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, runeLen(c.Content), opts.MinSize, "chunk %d", i)
		}
	}
}

func TestParagraphFillsUndersizedChunk(t *testing.T) {
	text := buildParagraph("preface", 100) + "\n\n" + buildParagraph("body", 900)
	opts := ChunkOptions{MaxSize: 600, MinSize: 400, Overlap: 50, Strategy: StrategyParagraph}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.GreaterOrEqual(t, runeLen(chunks[0].Content), opts.MinSize)
	assertContiguous(t, text, chunks)
}

func TestShortParagraphsAreNotLost(t *testing.T) {
	text := "Overview\n\n" + buildParagraph("alpha", 400) + "\n\nNotes\n\n" + buildParagraph("beta", 400) + "\n\nEnd."
	chunks, err := ChunkText(text, ChunkOptions{MaxSize: 500, MinSize: 100, Overlap: 0})
	require.NoError(t, err)

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Content)
		joined.WriteString("\n")
	}
	for _, want := range []string{"Overview", "Notes", "End."} {
		assert.Contains(t, joined.String(), want)
	}
}

func TestParagraphWithoutBreaksDegradesToFixed(t *testing.T) {
	text := buildParagraph("single", 2000)
	base := ChunkOptions{MaxSize: 400, MinSize: 100, Overlap: 40}

	fixedOpts := base
	fixedOpts.Strategy = StrategyFixed
	paraOpts := base
	paraOpts.Strategy = StrategyParagraph

	fixed, err := ChunkText(text, fixedOpts)
	require.NoError(t, err)
	para, err := ChunkText(text, paraOpts)
	require.NoError(t, err)
	assert.Equal(t, fixed, para)
}

func TestSectionStrategyPrefixesContinuations(t *testing.T) {
	text := strings.Join([]string{
		"CHAPTER 1",
		buildParagraph("history", 300),
		"Chapter 2 Results",
		buildParagraph("results one", 280),
		buildParagraph("results two", 280),
		buildParagraph("results three", 280),
	}, "\n\n")
	opts := ChunkOptions{MaxSize: 450, MinSize: 150, Overlap: 40, Strategy: StrategySection}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	assert.True(t, chunks[0].IsHeader)
	assert.Equal(t, 1, chunks[0].HeaderLevel)
	assert.Equal(t, "CHAPTER 1", chunks[0].Section)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "CHAPTER 1"))

	var continued int
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Content), opts.MaxSize)
		if c.Section == "Chapter 2 Results" && !c.IsHeader {
			continued++
			assert.True(t, strings.HasPrefix(c.Content, "[Continued from: Chapter 2 Results]\n"), c.Content)
		}
	}
	assert.Greater(t, continued, 0)
}

func TestSectionStrategyMergesTinySections(t *testing.T) {
	text := "PART I\n\n1. Introduction\n\n" + buildParagraph("intro", 400)
	chunks, err := ChunkText(text, ChunkOptions{MaxSize: 1000, MinSize: 100, Strategy: StrategySection})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "PART I", chunks[0].Section)
	assert.Contains(t, chunks[0].Content, "1. Introduction")
}

func TestSectionStrategyKeepsInnerChunksAboveMinSize(t *testing.T) {
	opts := ChunkOptions{MaxSize: 300, MinSize: 100, Overlap: 40, Strategy: StrategySection}
	rng := rand.New(rand.NewPCG(7, 11))

	for doc := 0; doc < 50; doc++ {
		var parts []string
		for s := 0; s < 2+rng.IntN(5); s++ {
			parts = append(parts, fmt.Sprintf("Chapter %d Overview", s+1))
			for p := 0; p < 1+rng.IntN(4); p++ {
				parts = append(parts, buildParagraph(fmt.Sprintf("doc %d part %d.%d", doc, s, p), 60+rng.IntN(320)))
			}
		}
		text := strings.Join(parts, "\n\n")

		chunks, err := ChunkText(text, opts)
		require.NoError(t, err)
		for i, c := range chunks {
			assert.LessOrEqual(t, runeLen(c.Content), opts.MaxSize, "doc %d chunk %d", doc, i)
			if i < len(chunks)-1 {
				assert.GreaterOrEqual(t, runeLen(c.Content), opts.MinSize, "doc %d chunk %d", doc, i)
			}
		}
	}
}

func TestSectionStrategyCarriesShortTailForward(t *testing.T) {
	text := strings.Join([]string{
		"Chapter 1 Scope",
		buildParagraph("scope a", 250),
		buildParagraph("scope b", 250),
		"Tail note on scope.",
		"Chapter 2 Method",
		buildParagraph("method", 250),
	}, "\n\n")
	opts := ChunkOptions{MaxSize: 300, MinSize: 100, Overlap: 0, Strategy: StrategySection}

	chunks, err := ChunkText(text, opts)
	require.NoError(t, err)
	var joined strings.Builder
	for i, c := range chunks {
		joined.WriteString(c.Content)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, runeLen(c.Content), opts.MinSize, "chunk %d", i)
		}
	}
	assert.Contains(t, joined.String(), "Tail note on scope.")
	assert.Contains(t, joined.String(), "Chapter 2 Method")
}

func TestDetectHeader(t *testing.T) {
	tests := []struct {
		line  string
		text  string
		level int
		ok    bool
	}{
		{"## Methods", "Methods", 2, true},
		{"CHAPTER 3", "CHAPTER 3", 1, true},
		{"Part IV The Return", "Part IV The Return", 1, true},
		{"Section 2.1 Scope", "Section 2.1 Scope", 2, true},
		{"IV. Discussion", "IV. Discussion", 2, true},
		{"1. Introduction", "1. Introduction", 1, true},
		{"2.3 Data Sources", "2.3 Data Sources", 2, true},
		{"EXECUTIVE SUMMARY", "EXECUTIVE SUMMARY", 1, true},
		{"1. First we mix the flour with water and let it rest overnight.", "", 0, false},
		{"This is an ordinary sentence.", "", 0, false},
		{"", "", 0, false},
		{"OK", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			text, level, ok := DetectHeader(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.level, level)
		})
	}
}

func TestAssignPages(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		pages  int
		want   [][2]int
		approx bool
	}{
		{"three chunks two pages", 3, 2, [][2]int{{1, 1}, {1, 2}, {2, 2}}, true},
		{"three chunks ten pages", 3, 10, [][2]int{{1, 4}, {4, 7}, {7, 10}}, true},
		{"single page", 2, 1, [][2]int{{1, 1}, {1, 1}}, false},
		{"no pages", 2, 0, [][2]int{{0, 0}, {0, 0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := make([]Chunk, tt.n)
			assignPages(chunks, tt.pages)
			for i, c := range chunks {
				assert.Equal(t, tt.want[i], [2]int{c.PageStart, c.PageEnd}, "chunk %d", i)
				assert.Equal(t, tt.approx, c.PagesApproximate)
			}
		})
	}
}

func TestChunkOffsetsAreRuneBased(t *testing.T) {
	text := strings.Repeat("Über große Straßen fährt ein Bus. ", 30)
	chunks, err := ChunkText(text, ChunkOptions{MaxSize: 150, MinSize: 50, Overlap: 20, Strategy: StrategyFixed})
	require.NoError(t, err)
	assertContiguous(t, text, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
	}
}
