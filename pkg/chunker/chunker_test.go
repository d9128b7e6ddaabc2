package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestChunkMarkdown_Empty(t *testing.T) {
	assert.Nil(t, ChunkMarkdown("", DefaultOptions()))
}

func TestChunkMarkdown_SingleChunk(t *testing.T) {
	text := "# Title\n\nShort content."
	chunks := ChunkMarkdown(text, DefaultOptions())

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
}

func TestChunkMarkdown_HashMatchesText(t *testing.T) {
	text := strings.Repeat("a line of filler text for hashing purposes\n", 80)
	chunks := ChunkMarkdown(text, Options{Tokens: 100, Overlap: 20, PreserveBoundaries: true})

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, hashText(c.Text), c.Hash)
		assert.Equal(t, EstimateTokens(c.Text), c.Tokens)
	}
}

func TestChunkMarkdown_CutsOnHeadings(t *testing.T) {
	text := "intro line\n## Section A\ncontent a\n## Section B\ncontent b"
	chunks := ChunkMarkdown(text, DefaultOptions())

	require.Len(t, chunks, 3)
	assert.Equal(t, "intro line", chunks[0].Text)
	assert.Equal(t, "## Section A\ncontent a", chunks[1].Text)
	assert.Equal(t, 2, chunks[1].StartLine)
	assert.Equal(t, "## Section B\ncontent b", chunks[2].Text)
	assert.Equal(t, 4, chunks[2].StartLine)
}

func TestChunkMarkdown_IgnoresHeadingsWhenBoundariesOff(t *testing.T) {
	text := "intro line\n## Section A\ncontent a"
	chunks := ChunkMarkdown(text, Options{Tokens: 400, Overlap: 0, PreserveBoundaries: false})

	require.Len(t, chunks, 1)
}

func TestChunkMarkdown_OverlapSeedsNextChunk(t *testing.T) {
	// 10 tokens per line, budget 30: cuts every 3 lines with ~1 line overlap.
	var lines []string
	for i := 0; i < 9; i++ {
		lines = append(lines, fmt.Sprintf("line %d: %s", i, strings.Repeat("x", 30)))
	}
	text := strings.Join(lines, "\n")

	chunks := ChunkMarkdown(text, Options{Tokens: 30, Overlap: 10, PreserveBoundaries: true})
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		// Next chunk starts on or before the line after the previous end.
		assert.LessOrEqual(t, cur.StartLine, prev.EndLine+1)
		assert.Greater(t, cur.StartLine, prev.StartLine)
	}
}

func TestChunkMarkdown_LineRangesReconstructText(t *testing.T) {
	text := "# Doc\n" + strings.Repeat("some prose line with enough words in it\n", 60) + "tail"
	lines := strings.Split(text, "\n")
	chunks := ChunkMarkdown(text, Options{Tokens: 80, Overlap: 20, PreserveBoundaries: true})
	require.NotEmpty(t, chunks)

	covered := map[int]bool{}
	for _, c := range chunks {
		require.GreaterOrEqual(t, c.StartLine, 1)
		require.LessOrEqual(t, c.EndLine, len(lines))
		// Chunk text is exactly its line range from the source.
		assert.Equal(t, strings.Join(lines[c.StartLine-1:c.EndLine], "\n"), c.Text)
		for ln := c.StartLine; ln <= c.EndLine; ln++ {
			covered[ln] = true
		}
	}
	// Every source line appears in at least one chunk.
	assert.Len(t, covered, len(lines))
}

func TestChunkMarkdown_Deterministic(t *testing.T) {
	text := strings.Repeat("## H\nbody body body\nmore body text here\n", 40)
	opts := Options{Tokens: 60, Overlap: 15, PreserveBoundaries: true}

	a := ChunkMarkdown(text, opts)
	b := ChunkMarkdown(text, opts)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Hash, b[i].Hash)
		assert.Equal(t, a[i].StartLine, b[i].StartLine)
		assert.Equal(t, a[i].EndLine, b[i].EndLine)
	}
}

func TestChunkMarkdown_OversizedSingleLine(t *testing.T) {
	// A single line beyond the budget must still form a chunk.
	text := strings.Repeat("y", 4000) + "\nshort"
	chunks := ChunkMarkdown(text, Options{Tokens: 100, Overlap: 10, PreserveBoundaries: true})

	require.GreaterOrEqual(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Text)
	}
}

func TestChunkConversationLog(t *testing.T) {
	text := "# 2026-08-26\n\n## 09:00\n\n**User:** hi\n\n**Claude:** hello\n\n## 09:05\n\n**User:** status?\n\n**Claude:** all green\n"
	chunks := ChunkConversationLog(text)

	require.Len(t, chunks, 2) // header-only preamble folds into the first exchange
	assert.Contains(t, chunks[0].Text, "# 2026-08-26")
	assert.Contains(t, chunks[0].Text, "## 09:00")
	assert.Contains(t, chunks[0].Text, "hello")
	assert.Contains(t, chunks[1].Text, "## 09:05")
	assert.Contains(t, chunks[1].Text, "all green")
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 9, chunks[1].StartLine)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ConversationLog, Classify("/data/memory/daily/2026-08-26.md"))
	assert.Equal(t, MarkdownDocument, Classify("/data/memory/MEMORY.md"))
	assert.Equal(t, MarkdownDocument, Classify("notes/2026-8-26.md"))
}

func TestSmartChunk_DispatchesByPath(t *testing.T) {
	log := "# 2026-08-26\n\n## 09:00\n\n**User:** hi\n\n**Claude:** hello\n\n## 09:05\n\n**User:** bye\n\n**Claude:** later\n"

	chunks := SmartChunk(log, "daily/2026-08-26.md", DefaultOptions())
	require.Len(t, chunks, 2)

	md := SmartChunk(log, "MEMORY.md", Options{Tokens: 400, Overlap: 0, PreserveBoundaries: false})
	require.Len(t, md, 1) // markdown mode ignores HH:MM markers
}

func TestSmartChunk_FallsBackOnOversizedExchange(t *testing.T) {
	huge := strings.Repeat("a very long transcript line repeated many times ", 100)
	log := "# 2026-08-26\n\n## 09:00\n\n**User:** " + huge + "\n\n**Claude:** ok\n"

	opts := Options{Tokens: 100, Overlap: 20, PreserveBoundaries: true}
	chunks := SmartChunk(log, "daily/2026-08-26.md", opts)

	// Fallback re-chunks by token budget: the exchange no longer survives
	// as a single chunk, so its marker and its reply end up separated.
	for _, c := range chunks {
		if strings.Contains(c.Text, "## 09:00") {
			assert.NotContains(t, c.Text, "**Claude:** ok")
		}
	}
}

func TestMergeSmallChunks(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, StartLine: 1, EndLine: 1, Text: "tiny", Tokens: 1, Hash: hashText("tiny")},
		{Index: 1, StartLine: 2, EndLine: 2, Text: "also small", Tokens: 3, Hash: hashText("also small")},
		{Index: 2, StartLine: 3, EndLine: 4, Text: strings.Repeat("big ", 50), Tokens: 50},
	}

	merged := MergeSmallChunks(chunks, 10)
	require.Len(t, merged, 2)
	assert.Equal(t, "tiny\nalso small", merged[0].Text)
	assert.Equal(t, 1, merged[0].StartLine)
	assert.Equal(t, 2, merged[0].EndLine)
	assert.Equal(t, hashText("tiny\nalso small"), merged[0].Hash)
	assert.Equal(t, 1, merged[1].Index)
}
