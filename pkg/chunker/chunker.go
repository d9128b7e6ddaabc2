// Package chunker splits markdown into bounded, overlapping, content-hashed
// segments. Chunking is deterministic: identical input and options always
// produce identical boundaries and hashes, which is what lets the indexer
// skip unchanged content.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is a line-ranged slice of a source document.
type Chunk struct {
	Index     int
	StartLine int // 1-indexed, inclusive
	EndLine   int // 1-indexed, inclusive
	Hash      string
	Text      string
	Tokens    int
}

// Options configures chunking behavior.
type Options struct {
	Tokens             int
	Overlap            int
	PreserveBoundaries bool
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{
		Tokens:             400,
		Overlap:            80,
		PreserveBoundaries: true,
	}
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func newChunk(index int, lines []string, startLine int) Chunk {
	text := strings.Join(lines, "\n")
	return Chunk{
		Index:     index,
		StartLine: startLine,
		EndLine:   startLine + len(lines) - 1,
		Hash:      hashText(text),
		Text:      text,
		Tokens:    EstimateTokens(text),
	}
}

// ChunkMarkdown walks lines accumulating an estimated token count and cuts a
// new chunk when the token budget would be exceeded or, with boundary
// preservation on, when a new `## ` heading begins. Every chunk holds at
// least one line. On a budget cut the trailing lines worth of Overlap tokens
// seed the next chunk; heading cuts start clean so sections stay separate.
func ChunkMarkdown(text string, opts Options) []Chunk {
	if opts.Tokens <= 0 {
		opts = DefaultOptions()
	}
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var chunks []Chunk

	var cur []string
	curStart := 1
	curTokens := 0

	for i, line := range lines {
		lineNo := i + 1
		lineTokens := EstimateTokens(line)
		heading := opts.PreserveBoundaries && strings.HasPrefix(line, "## ")
		overBudget := curTokens+lineTokens > opts.Tokens

		if len(cur) > 0 && (overBudget || heading) {
			chunks = append(chunks, newChunk(len(chunks), cur, curStart))

			if heading {
				cur = nil
				curStart = lineNo
				curTokens = 0
			} else {
				seed, seedStart := overlapSeed(cur, curStart, opts.Overlap)
				cur = seed
				curStart = seedStart
				curTokens = 0
				for _, l := range cur {
					curTokens += EstimateTokens(l)
				}
			}
		}

		cur = append(cur, line)
		curTokens += lineTokens
	}

	if len(cur) > 0 {
		chunks = append(chunks, newChunk(len(chunks), cur, curStart))
	}

	return chunks
}

// overlapSeed walks backward from the end of a closed chunk collecting lines
// until the overlap token budget is met. At least one line is carried even
// when that single line alone exceeds the budget.
func overlapSeed(lines []string, startLine, overlap int) ([]string, int) {
	if overlap <= 0 || len(lines) == 0 {
		return nil, startLine + len(lines)
	}

	tokens := 0
	from := len(lines)
	for from > 0 {
		t := EstimateTokens(lines[from-1])
		if tokens+t > overlap && from < len(lines) {
			break
		}
		tokens += t
		from--
		if tokens >= overlap {
			break
		}
	}

	seed := make([]string, len(lines)-from)
	copy(seed, lines[from:])
	return seed, startLine + from
}

// exchangePattern matches the `## HH:MM` markers heading daily-log exchanges.
var exchangePattern = regexp.MustCompile(`^## \d{2}:\d{2}\s*$`)

// ChunkConversationLog splits a daily log on `## HH:MM` markers, producing
// one chunk per exchange. A preamble that is only the date header rolls into
// the first exchange; a preamble with real content becomes its own chunk.
func ChunkConversationLog(text string) []Chunk {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var chunks []Chunk

	var cur []string
	curStart := 1
	seenExchange := false

	flush := func(endExclusive int) {
		if len(cur) == 0 {
			return
		}
		if strings.TrimSpace(strings.Join(cur, "\n")) != "" {
			chunks = append(chunks, newChunk(len(chunks), cur, curStart))
		}
		cur = nil
		curStart = endExclusive
	}

	for i, line := range lines {
		lineNo := i + 1
		if exchangePattern.MatchString(line) {
			if seenExchange || !headerOnly(cur) {
				flush(lineNo)
			}
			seenExchange = true
		}
		cur = append(cur, line)
	}
	flush(len(lines) + 1)

	return chunks
}

// headerOnly reports whether lines hold nothing but a top-level heading and
// blank lines.
func headerOnly(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "# ") {
			continue
		}
		return false
	}
	return true
}

// SourceKind classifies a source file for chunking strategy selection.
type SourceKind int

const (
	// MarkdownDocument is any markdown file, chunked by token budget.
	MarkdownDocument SourceKind = iota
	// ConversationLog is a date-named daily log, chunked per exchange.
	ConversationLog
)

var dailyLogName = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// Classify returns the source kind for a file path.
func Classify(path string) SourceKind {
	if dailyLogName.MatchString(filepath.Base(path)) {
		return ConversationLog
	}
	return MarkdownDocument
}

// SmartChunk dispatches on the source kind. Conversation chunking falls back
// to markdown chunking when any exchange blows past 1.5x the token target.
func SmartChunk(text, path string, opts Options) []Chunk {
	if opts.Tokens <= 0 {
		opts = DefaultOptions()
	}

	if Classify(path) == ConversationLog {
		chunks := ChunkConversationLog(text)
		oversized := false
		limit := opts.Tokens + opts.Tokens/2
		for _, c := range chunks {
			if c.Tokens > limit {
				oversized = true
				break
			}
		}
		if !oversized {
			return chunks
		}
	}

	return ChunkMarkdown(text, opts)
}

// MergeSmallChunks coalesces consecutive chunks below the token floor so the
// index does not fill up with degenerate micro-chunks.
func MergeSmallChunks(chunks []Chunk, minTokens int) []Chunk {
	if minTokens <= 0 || len(chunks) < 2 {
		return chunks
	}

	var merged []Chunk
	for _, c := range chunks {
		if len(merged) > 0 && merged[len(merged)-1].Tokens < minTokens {
			prev := merged[len(merged)-1]
			text := prev.Text + "\n" + c.Text
			merged[len(merged)-1] = Chunk{
				Index:     prev.Index,
				StartLine: prev.StartLine,
				EndLine:   c.EndLine,
				Hash:      hashText(text),
				Text:      text,
				Tokens:    EstimateTokens(text),
			}
			continue
		}
		c.Index = len(merged)
		merged = append(merged, c)
	}

	return merged
}
