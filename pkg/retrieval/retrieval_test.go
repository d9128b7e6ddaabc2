package retrieval

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/mnemo/pkg/index"
)

const testModel = "hash-v1"

func newTestStore(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedChunks(t *testing.T, store *index.Store, chunks []index.Chunk) {
	t.Helper()
	require.NoError(t, store.UpsertChunks(chunks))
}

func testChunk(id, path, text string, start, end int, vec []float32) index.Chunk {
	return index.Chunk{
		ID:        id,
		Path:      path,
		StartLine: start,
		EndLine:   end,
		Hash:      "h-" + id,
		Model:     testModel,
		Text:      text,
		Embedding: vec,
		Tier:      "volatile",
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score zero instead of erroring.
	assert.Zero(t, Cosine([]float32{1, 0}, []float32{1}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"pgvector", "vs", "sqlite", "vec"}, Tokenize("pgvector vs sqlite-vec!"))
	assert.Empty(t, Tokenize("--- ///"))
	assert.Equal(t, []string{"mixed", "case", "123"}, Tokenize("Mixed CASE 123"))
}

func TestVectorSearch_CPUFallback(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("a", "MEMORY.md", "alpha", 1, 2, []float32{1, 0, 0}),
		testChunk("b", "MEMORY.md", "beta", 3, 4, []float32{0.9, 0.1, 0}),
		testChunk("c", "notes.md", "gamma", 1, 2, []float32{0, 0, 1}),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	results, err := engine.VectorSearch(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "b", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorSearch_EmptyQuery(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, testModel, zerolog.Nop())

	results, err := engine.VectorSearch(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorSearch_CacheInvalidation(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("a", "MEMORY.md", "alpha", 1, 2, []float32{1, 0, 0}),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	results, err := engine.VectorSearch(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// A newly upserted chunk is invisible until the cache is invalidated.
	seedChunks(t, store, []index.Chunk{
		testChunk("b", "MEMORY.md", "beta", 3, 4, []float32{1, 0, 0}),
	})
	results, err = engine.VectorSearch(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	engine.Invalidate()
	results, err = engine.VectorSearch(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("a", "MEMORY.md", "prefers dark mode in the editor", 1, 2, nil),
		testChunk("b", "MEMORY.md", "dark chocolate is fine", 3, 4, nil),
		testChunk("c", "notes.md", "unrelated text entirely", 1, 2, nil),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	results, err := engine.KeywordSearch("dark mode", 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "AND-joined tokens must match all terms")
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)
}

func TestKeywordSearch_NoTokens(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, testModel, zerolog.Nop())

	results, err := engine.KeywordSearch("!!! ---", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_HybridWeightedSum(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("a", "MEMORY.md", "vector search with sqlite", 1, 2, []float32{1, 0, 0}),
		testChunk("b", "MEMORY.md", "keyword only content", 3, 4, []float32{0, 1, 0}),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	opts := Options{
		MaxResults:          5,
		MinScore:            0,
		VectorWeight:        0.7,
		TextWeight:          0.3,
		CandidateMultiplier: 3,
	}
	results, err := engine.Search(context.Background(), []float32{1, 0, 0}, "sqlite vector", opts)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, "a", top.ID)

	// Each hybrid hit's score is exactly the weighted sum of its sides.
	for _, r := range results {
		assert.InDelta(t, 0.7*r.VectorScore+0.3*r.TextScore, r.Score, 1e-9)
	}

	// Chunk a matched both sides; its keyword-free sibling must not
	// outrank it.
	assert.Positive(t, top.VectorScore)
	assert.Positive(t, top.TextScore)
}

func TestSearch_MinScoreFilters(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("far", "MEMORY.md", "nothing in common", 1, 2, []float32{0, 0, 1}),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	opts := DefaultOptions()
	results, err := engine.Search(context.Background(), []float32{1, 0, 0}, "zzz qqq", opts)
	require.NoError(t, err)
	assert.Empty(t, results, "orthogonal vector and no keyword match must score below MinScore")
}

func TestSearch_KeywordFallbackWithoutEmbedding(t *testing.T) {
	store := newTestStore(t)
	seedChunks(t, store, []index.Chunk{
		testChunk("a", "MEMORY.md", "prefers tabs over spaces", 1, 2, nil),
	})

	engine := NewEngine(store, testModel, zerolog.Nop())
	results, err := engine.Search(context.Background(), nil, "tabs spaces", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, results[0].Score, results[0].TextScore)
}

func TestSearch_TruncatesToMaxResults(t *testing.T) {
	store := newTestStore(t)
	chunks := make([]index.Chunk, 0, 8)
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		chunks = append(chunks, testChunk(id, "MEMORY.md", "shared term "+id, i*2+1, i*2+2, []float32{1, 0, 0}))
	}
	seedChunks(t, store, chunks)

	engine := NewEngine(store, testModel, zerolog.Nop())
	opts := DefaultOptions()
	opts.MaxResults = 3
	opts.MinScore = 0
	results, err := engine.Search(context.Background(), []float32{1, 0, 0}, "shared term", opts)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRerank_PathPrefixBoost(t *testing.T) {
	results := []Result{
		{ID: "a", Path: "other/doc.md", Score: 0.6},
		{ID: "b", Path: "memory/MEMORY.md", Score: 0.55},
	}

	reranked := Rerank(results, RerankOptions{PathPrefix: "memory/", PrefixBoost: 0.2})
	assert.Equal(t, "b", reranked[0].ID)
	assert.InDelta(t, 0.55*1.2, reranked[0].Score, 1e-9)
	assert.InDelta(t, 0.6, reranked[1].Score, 1e-9)
}

func TestRerank_RecencyBoost(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	results := []Result{
		{ID: "old", Path: "memory/2026-07-01.md", Score: 0.5},
		{ID: "new", Path: "memory/2026-08-26.md", Score: 0.5},
		{ID: "doc", Path: "memory/MEMORY.md", Score: 0.5},
	}

	reranked := Rerank(results, RerankOptions{RecencyWeight: 0.3, Now: now})
	assert.Equal(t, "new", reranked[0].ID)
	assert.Greater(t, reranked[0].Score, reranked[1].Score)
	// Undated files are untouched by the recency boost.
	for _, r := range reranked {
		if r.ID == "doc" {
			assert.InDelta(t, 0.5, r.Score, 1e-9)
		}
	}
}

func TestGroupByFile(t *testing.T) {
	results := []Result{
		{ID: "a", Path: "MEMORY.md", StartLine: 10, Score: 0.9},
		{ID: "b", Path: "2026-08-26.md", StartLine: 1, Score: 0.8},
		{ID: "c", Path: "MEMORY.md", StartLine: 2, Score: 0.7},
	}

	groups := GroupByFile(results)
	require.Len(t, groups, 2)
	assert.Equal(t, "MEMORY.md", groups[0].Path)
	// Within a group, hits come back in line order.
	assert.Equal(t, []int{2, 10}, []int{groups[0].Results[0].StartLine, groups[0].Results[1].StartLine})
	assert.Equal(t, "2026-08-26.md", groups[1].Path)
}

func TestDeduplicateOverlapping(t *testing.T) {
	results := []Result{
		{ID: "hi", Path: "MEMORY.md", StartLine: 1, EndLine: 10, Score: 0.9},
		{ID: "dup", Path: "MEMORY.md", StartLine: 3, EndLine: 12, Score: 0.7},
		{ID: "far", Path: "MEMORY.md", StartLine: 40, EndLine: 50, Score: 0.6},
		{ID: "other", Path: "notes.md", StartLine: 1, EndLine: 10, Score: 0.5},
	}

	// dup overlaps hi on lines 3-10 = 8 of its 10 lines (80%).
	kept := DeduplicateOverlapping(results, 0.5)
	ids := make([]string, len(kept))
	for i, r := range kept {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"hi", "far", "other"}, ids)

	// Raising the threshold above the overlap ratio keeps both.
	kept = DeduplicateOverlapping(results, 0.9)
	assert.Len(t, kept, 4)
}

func TestDeduplicateOverlapping_KeepsHigherScore(t *testing.T) {
	// Score-descending input: the better hit survives, the worse one drops.
	results := []Result{
		{ID: "best", Path: "MEMORY.md", StartLine: 5, EndLine: 15, Score: 0.95},
		{ID: "worse", Path: "MEMORY.md", StartLine: 5, EndLine: 15, Score: 0.4},
	}
	kept := DeduplicateOverlapping(results, 0.5)
	require.Len(t, kept, 1)
	assert.Equal(t, "best", kept[0].ID)
}

func TestScoreConversionBounds(t *testing.T) {
	// 1/(1+distance) and 1/(1+max(0,-rank)) both live in (0, 1].
	for _, d := range []float64{0, 0.1, 1, 10, 1000} {
		s := 1 / (1 + d)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	for _, rank := range []float64{-0.01, -1.5, -100, 0, 2} {
		s := 1 / (1 + math.Max(0, -rank))
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}
