package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quietloop/mnemo/pkg/content"
	"github.com/quietloop/mnemo/pkg/index"
	"github.com/quietloop/mnemo/pkg/retrieval"
)

// OpResult is the structured outcome of a user-facing mutation. Expected
// failures (nothing matched, nothing to do) come back as OK=false with a
// message instead of an error.
type OpResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Search embeds the query when a provider is available and runs hybrid
// retrieval, degrading to keyword-only when embedding fails.
func (m *Manager) Search(ctx context.Context, query string) ([]retrieval.Result, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	var queryVec []float32
	if m.provider != nil {
		vec, err := m.provider.EmbedQuery(ctx, query)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Query embedding failed, falling back to keyword search")
		} else {
			queryVec = vec
		}
	}

	return m.engine.Search(ctx, queryVec, query, m.searchOptions())
}

// GetOptions selects an excerpt of a file. FromLine is 1-indexed; Lines
// zero means to the end of the file.
type GetOptions struct {
	FromLine int
	Lines    int
}

// Get resolves either a chunk id (chunk_ prefix) or a file path. Relative
// paths resolve against the memory directory. A line range trims file
// content to an excerpt.
func (m *Manager) Get(ctx context.Context, pathOrID string, opts GetOptions) (string, error) {
	if err := m.requireReady(); err != nil {
		return "", err
	}

	if strings.HasPrefix(pathOrID, "chunk_") {
		c, err := m.idx.GetChunk(pathOrID)
		if err != nil {
			if errors.Is(err, index.ErrNotFound) {
				return "", fmt.Errorf("chunk %s not found", pathOrID)
			}
			return "", err
		}
		return c.Text, nil
	}

	path := pathOrID
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.content.Dir(), path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := string(raw)

	if opts.FromLine <= 0 && opts.Lines <= 0 {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	from := opts.FromLine
	if from <= 0 {
		from = 1
	}
	if from > len(lines) {
		return "", fmt.Errorf("from_line %d beyond end of file (%d lines)", from, len(lines))
	}
	to := len(lines)
	if opts.Lines > 0 && from-1+opts.Lines < to {
		to = from - 1 + opts.Lines
	}
	return strings.Join(lines[from-1:to], "\n"), nil
}

// Remember appends text to the aggregate memory file under the given tier
// and reindexes that file.
func (m *Manager) Remember(ctx context.Context, text, tier string) (*OpResult, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &OpResult{OK: false, Message: "Nothing to remember: empty text"}, nil
	}

	t, err := content.ParseTier(tier)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Falling back to stable tier")
	}

	if err := m.content.AppendMemory(text, t, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to append memory: %w", err)
	}
	if err := m.SyncFile(ctx, m.content.MemoryFilePath()); err != nil {
		return nil, fmt.Errorf("failed to reindex after remember: %w", err)
	}
	return &OpResult{OK: true, Message: fmt.Sprintf("Saved to %s memory", t)}, nil
}

// Forget deletes a memory entry by content substring or chunk id. A chunk
// id is resolved to its text first. Returns OK=false when nothing matched.
func (m *Manager) Forget(ctx context.Context, contentOrID string) (*OpResult, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	target := strings.TrimSpace(contentOrID)
	if strings.HasPrefix(target, "chunk_") {
		c, err := m.idx.GetChunk(target)
		if err != nil {
			if errors.Is(err, index.ErrNotFound) {
				return &OpResult{OK: false, Message: "Memory content not found to forget"}, nil
			}
			return nil, err
		}
		// A chunk can span several bullets; forget the first one it holds.
		texts := content.EntryTexts(c.Text)
		if len(texts) == 0 {
			return &OpResult{OK: false, Message: "Chunk holds no memory entry to forget"}, nil
		}
		target = texts[0]
	}

	deleted, err := m.content.DeleteMemory(target)
	if err != nil {
		return nil, fmt.Errorf("failed to delete memory: %w", err)
	}
	if !deleted {
		return &OpResult{OK: false, Message: "Memory content not found to forget"}, nil
	}

	if err := m.SyncFile(ctx, m.content.MemoryFilePath()); err != nil {
		return nil, fmt.Errorf("failed to reindex after forget: %w", err)
	}
	return &OpResult{OK: true, Message: "Memory entry forgotten"}, nil
}

// FlushContext carries session material to persist before a context
// compaction discards it.
type FlushContext struct {
	Summary     string
	Topics      []string
	Decisions   []string
	ActionItems []string
}

// FlushBeforeCompaction persists session context as tiered memory entries:
// decisions become permanent, the summary and topics stick around for days,
// action items expire quickly. The aggregate file is reindexed once.
func (m *Manager) FlushBeforeCompaction(ctx context.Context, fc FlushContext) (*OpResult, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	now := time.Now()
	saved := 0
	appendEntry := func(text string, tier content.Tier) error {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		if err := m.content.AppendMemory(text, tier, now); err != nil {
			return err
		}
		saved++
		return nil
	}

	for _, d := range fc.Decisions {
		if err := appendEntry("[Decision] "+d, content.TierCore); err != nil {
			return nil, err
		}
	}
	if fc.Summary != "" {
		if err := appendEntry("[Session Summary] "+fc.Summary, content.TierStable); err != nil {
			return nil, err
		}
	}
	for _, t := range fc.Topics {
		if err := appendEntry("[Topic] "+t, content.TierStable); err != nil {
			return nil, err
		}
	}
	for _, a := range fc.ActionItems {
		if err := appendEntry("[Action Item] "+a, content.TierNotes); err != nil {
			return nil, err
		}
	}

	if saved == 0 {
		return &OpResult{OK: false, Message: "Nothing to flush"}, nil
	}
	if err := m.SyncFile(ctx, m.content.MemoryFilePath()); err != nil {
		return nil, fmt.Errorf("failed to reindex after flush: %w", err)
	}
	return &OpResult{OK: true, Message: fmt.Sprintf("Flushed %d entries to memory", saved)}, nil
}

// Stats summarizes the engine state.
type Stats struct {
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	VectorSearch  bool           `json:"vector_search"`
	TextSearch    bool           `json:"text_search"`
	Files         int            `json:"files"`
	Chunks        int            `json:"chunks"`
	Embedded      int            `json:"embedded"`
	TierCounts    map[string]int `json:"tier_counts"`
	EntryCounts   map[string]int `json:"entry_counts"`
	DailyLogs     int            `json:"daily_logs"`
	MemoryBytes   int64          `json:"memory_bytes"`
	CacheEntries  int            `json:"cache_entries"`
	CacheHitRate  float64        `json:"cache_hit_rate"`
}

// GetStats reports index counts, per-tier entry counts, daily log count,
// aggregate file size, and the embedding cache hit rate for this process.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	counts, err := m.idx.Stats()
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Provider:     m.cfg.Embedding.Provider,
		Model:        m.activeModel(),
		VectorSearch: m.provider != nil && m.idx.VectorReady(),
		TextSearch:   m.idx.FTSReady(),
		Files:        counts.Files,
		Chunks:       counts.Chunks,
		Embedded:     counts.Embedded,
		TierCounts:   counts.TierCounts,
		EntryCounts:  map[string]int{},
		CacheEntries: counts.CacheEntries,
	}

	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	if hits+misses > 0 {
		st.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	entries, err := m.content.Entries()
	if err == nil {
		for _, e := range entries {
			st.EntryCounts[string(e.Tier)]++
		}
	}

	if info, err := os.Stat(m.content.MemoryFilePath()); err == nil {
		st.MemoryBytes = info.Size()
	}
	if dirEntries, err := os.ReadDir(m.content.DailyDir()); err == nil {
		for _, de := range dirEntries {
			if !de.IsDir() && strings.HasSuffix(de.Name(), ".md") {
				st.DailyLogs++
			}
		}
	}
	return st, nil
}

// RecordExchange appends a user/assistant exchange to today's daily log and
// reindexes it.
func (m *Manager) RecordExchange(ctx context.Context, ex content.Exchange) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	if err := m.content.AppendConversation(ex); err != nil {
		return err
	}
	return m.SyncFile(ctx, m.content.DailyLogPath(ex.Timestamp))
}

// Content exposes the underlying content store for collaborators that need
// direct file paths (the watcher, the CLI).
func (m *Manager) Content() *content.Store {
	return m.content
}
