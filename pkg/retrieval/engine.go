// Package retrieval ranks indexed chunks against a query. Three modes:
// vector similarity (native sqlite-vec scan or CPU cosine fallback), FTS5
// keyword relevance, and a weighted hybrid of the two.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quietloop/mnemo/pkg/index"
)

// Result is a ranked retrieval hit.
type Result struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	StartLine   int     `json:"start_line"`
	EndLine     int     `json:"end_line"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	VectorScore float64 `json:"vector_score,omitempty"`
	TextScore   float64 `json:"text_score,omitempty"`
}

// Options configures hybrid search.
type Options struct {
	MaxResults          int
	MinScore            float64
	VectorWeight        float64
	TextWeight          float64
	CandidateMultiplier int
}

// DefaultOptions returns the default search knobs.
func DefaultOptions() Options {
	return Options{
		MaxResults:          5,
		MinScore:            0.3,
		VectorWeight:        0.7,
		TextWeight:          0.3,
		CandidateMultiplier: 3,
	}
}

// Engine executes searches against an index store.
type Engine struct {
	store  *index.Store
	model  string
	logger zerolog.Logger

	// embCache holds all chunk embeddings for the active model when the CPU
	// cosine fallback is in use. nil means invalid; any chunk write or
	// delete for the model invalidates it wholesale.
	mu       sync.Mutex
	embCache []index.EmbeddingRow
}

// NewEngine creates a retrieval engine bound to the active embedding model.
func NewEngine(store *index.Store, model string, logger zerolog.Logger) *Engine {
	return &Engine{store: store, model: model, logger: logger}
}

// Invalidate drops the in-memory embedding cache. Must be called after any
// chunk insert, update, or delete for the engine's model.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.embCache = nil
	e.mu.Unlock()
}

// Cosine returns the cosine similarity of two vectors, or 0 for degenerate
// inputs (length mismatch or a zero vector).
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (e *Engine) hydrate(id string, score float64) (Result, bool) {
	c, err := e.store.GetChunk(id)
	if err != nil {
		e.logger.Warn().Err(err).Str("chunk", id).Msg("Failed to hydrate search hit")
		return Result{}, false
	}
	return Result{
		ID:        c.ID,
		Path:      c.Path,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Text:      c.Text,
		Score:     score,
	}, true
}

// VectorSearch ranks chunks by embedding similarity. With a native vector
// index, the engine's cosine distance is converted to a 0-1 similarity via
// 1/(1+distance); otherwise every stored embedding for the model is scored
// with CPU cosine similarity.
func (e *Engine) VectorSearch(ctx context.Context, queryVec []float32, limit int) ([]Result, error) {
	if len(queryVec) == 0 || limit <= 0 {
		return nil, nil
	}

	if e.store.VectorReady() {
		hits, err := e.store.VectorQuery(queryVec, limit)
		if err != nil {
			return nil, err
		}
		results := make([]Result, 0, len(hits))
		for _, h := range hits {
			if r, ok := e.hydrate(h.ID, 1/(1+h.Score)); ok {
				results = append(results, r)
			}
		}
		return results, nil
	}

	rows, err := e.cachedEmbeddings()
	if err != nil {
		return nil, err
	}

	type scored struct {
		id  string
		sim float64
	}
	all := make([]scored, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		all = append(all, scored{id: row.ID, sim: Cosine(queryVec, row.Vector)})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if len(all) > limit {
		all = all[:limit]
	}

	results := make([]Result, 0, len(all))
	for _, s := range all {
		if r, ok := e.hydrate(s.id, s.sim); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

func (e *Engine) cachedEmbeddings() ([]index.EmbeddingRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embCache == nil {
		rows, err := e.store.ChunkEmbeddings(e.model)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []index.EmbeddingRow{}
		}
		e.embCache = rows
	}
	return e.embCache, nil
}

// Tokenize splits a query into lowercase alphanumeric tokens.
func Tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z')
	})
}

// KeywordSearch ranks chunks by FTS5 bm25 relevance. The raw rank (negative,
// lower is better) is normalized to 0-1 via 1/(1+max(0,-rank)). Unavailable
// full-text search or an empty token set yields an empty result, not an
// error.
func (e *Engine) KeywordSearch(query string, limit int) ([]Result, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}

	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " AND ")

	hits, err := e.store.KeywordQuery(match, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := 1 / (1 + math.Max(0, -h.Score))
		if r, ok := e.hydrate(h.ID, score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// Search runs hybrid retrieval: candidates from both vector and keyword
// search merged by chunk id with a weighted score. A chunk found by only
// one side contributes zero for the other. With no query embedding, or when
// the hybrid pass yields nothing, it falls back to keyword-only results
// filtered by MinScore.
func (e *Engine) Search(ctx context.Context, queryVec []float32, query string, opts Options) ([]Result, error) {
	if opts.MaxResults <= 0 {
		opts = DefaultOptions()
	}
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = 3
	}

	if len(queryVec) == 0 {
		return e.keywordOnly(query, opts)
	}

	candidates := opts.MaxResults * opts.CandidateMultiplier

	vecResults, err := e.VectorSearch(ctx, queryVec, candidates)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Vector search failed, falling back to keyword only")
		return e.keywordOnly(query, opts)
	}
	kwResults, err := e.KeywordSearch(query, candidates)
	if err != nil {
		return nil, err
	}

	merged := mergeResults(vecResults, kwResults, opts)
	if len(merged) == 0 {
		return e.keywordOnly(query, opts)
	}
	return merged, nil
}

func (e *Engine) keywordOnly(query string, opts Options) ([]Result, error) {
	results, err := e.KeywordSearch(query, opts.MaxResults*opts.CandidateMultiplier)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			r.TextScore = r.Score
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > opts.MaxResults {
		filtered = filtered[:opts.MaxResults]
	}
	return filtered, nil
}

func mergeResults(vecResults, kwResults []Result, opts Options) []Result {
	byID := make(map[string]*Result)

	for _, r := range vecResults {
		r := r
		r.VectorScore = r.Score
		byID[r.ID] = &r
	}
	for _, r := range kwResults {
		if existing, ok := byID[r.ID]; ok {
			existing.TextScore = r.Score
			continue
		}
		r := r
		r.TextScore = r.Score
		byID[r.ID] = &r
	}

	merged := make([]Result, 0, len(byID))
	for _, r := range byID {
		r.Score = opts.VectorWeight*r.VectorScore + opts.TextWeight*r.TextScore
		if r.Score < opts.MinScore {
			continue
		}
		merged = append(merged, *r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > opts.MaxResults {
		merged = merged[:opts.MaxResults]
	}
	return merged
}
