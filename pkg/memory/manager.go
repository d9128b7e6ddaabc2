// Package memory orchestrates the content store, chunker, embedding
// provider, index, and retrieval engine behind one manager, and keeps the
// index in sync with the markdown files on disk.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quietloop/mnemo/internal/config"
	"github.com/quietloop/mnemo/pkg/chunker"
	"github.com/quietloop/mnemo/pkg/content"
	"github.com/quietloop/mnemo/pkg/embedding"
	"github.com/quietloop/mnemo/pkg/index"
	"github.com/quietloop/mnemo/pkg/retrieval"
)

// State is the manager lifecycle phase.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Manager owns the memory engine. Construct with NewManager and call Init
// before using any operation; Init is idempotent and safe under concurrent
// callers.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	initDone chan struct{}
	initErr  error

	content  *content.Store
	idx      *index.Store
	provider embedding.Provider
	engine   *retrieval.Engine
	sweeper  *cron.Cron

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewManager creates an uninitialized manager.
func NewManager(cfg *config.Config, logger zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// State reports the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Init brings the manager to the ready state. A concurrent second call
// awaits the in-flight initialization instead of starting a duplicate. After
// a failed Init the manager returns to uninitialized and Init may be retried.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		done := m.initDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.initErr
		m.mu.Unlock()
		return err
	}

	m.state = StateInitializing
	m.initDone = make(chan struct{})
	m.mu.Unlock()

	err := m.initialize(ctx)

	m.mu.Lock()
	m.initErr = err
	if err != nil {
		m.state = StateUninitialized
	} else {
		m.state = StateReady
	}
	close(m.initDone)
	m.initDone = nil
	m.mu.Unlock()
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	started := time.Now()

	m.content = content.NewStore(m.cfg.MemoryDir(), m.cfg.Memory.ExtraRoots, m.logger)
	if err := m.content.Init(); err != nil {
		return fmt.Errorf("failed to initialize content store: %w", err)
	}

	idx, err := index.Open(m.cfg.IndexDBPath(), m.logger)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	m.idx = idx

	// Provider acquisition failure degrades to keyword-only, never fatal.
	m.provider = m.acquireProvider()
	if m.provider != nil {
		if err := m.idx.EnsureVectorTable(m.provider.Dimensions()); err != nil {
			m.logger.Warn().Err(err).Msg("Vector table unavailable, continuing without native vector search")
		}
	}

	if removed, err := m.content.CleanupExpiredMemories(m.ttlConfig(), time.Now()); err != nil {
		m.logger.Warn().Err(err).Msg("TTL cleanup failed, continuing")
	} else if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Expired memory entries cleaned up")
	}

	current := m.currentMeta()
	drift, err := m.idx.NeedsFullReindex(current)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to read index metadata, forcing full reindex")
		drift = true
	}
	if drift {
		m.logger.Info().
			Str("provider", current.Provider).
			Str("model", current.Model).
			Msg("Index metadata drift detected, rebuilding index")
		if err := m.idx.ClearAll(); err != nil {
			return fmt.Errorf("failed to clear index for rebuild: %w", err)
		}
		if m.provider != nil {
			if err := m.idx.EnsureVectorTable(m.provider.Dimensions()); err != nil {
				m.logger.Warn().Err(err).Msg("Vector table unavailable after rebuild")
			}
		}
	}
	if err := m.idx.SetMetadata(current); err != nil {
		return fmt.Errorf("failed to persist index metadata: %w", err)
	}

	m.engine = retrieval.NewEngine(m.idx, m.activeModel(), m.logger)

	if err := m.SyncAll(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	m.startSweeper()

	m.logger.Info().
		Dur("elapsed", time.Since(started)).
		Str("provider", current.Provider).
		Str("model", current.Model).
		Bool("vector", m.idx.VectorReady()).
		Bool("fts", m.idx.FTSReady()).
		Msg("Memory manager ready")
	return nil
}

func (m *Manager) acquireProvider() embedding.Provider {
	ec := m.cfg.Embedding
	switch ec.Provider {
	case "openai":
		if ec.APIKey == "" {
			m.logger.Warn().Msg("OpenAI provider configured without api_key, running keyword-only")
			return nil
		}
		return embedding.NewOpenAIProvider(ec.APIKey, ec.Model, ec.Timeout)
	case "local":
		return embedding.NewLocalProvider(ec.Model, 0)
	case "none", "":
		return nil
	default:
		m.logger.Warn().Str("provider", ec.Provider).Msg("Unknown embedding provider, running keyword-only")
		return nil
	}
}

// activeModel is the model name chunks are indexed under, whether or not a
// provider is currently available.
func (m *Manager) activeModel() string {
	if m.provider != nil {
		return m.provider.Model()
	}
	if m.cfg.Embedding.Model != "" {
		return m.cfg.Embedding.Model
	}
	return "none"
}

func (m *Manager) currentMeta() index.Meta {
	providerID := m.cfg.Embedding.Provider
	if providerID == "" {
		providerID = "none"
	}
	return index.Meta{
		Provider:     providerID,
		Model:        m.activeModel(),
		ChunkTokens:  m.cfg.Memory.ChunkTokens,
		ChunkOverlap: m.cfg.Memory.ChunkOverlap,
	}
}

func (m *Manager) ttlConfig() content.TTLConfig {
	return content.TTLConfig{
		Stable: m.cfg.Memory.StableTTL,
		Notes:  m.cfg.Memory.NotesTTL,
	}
}

func (m *Manager) chunkOptions() chunker.Options {
	opts := chunker.DefaultOptions()
	if m.cfg.Memory.ChunkTokens > 0 {
		opts.Tokens = m.cfg.Memory.ChunkTokens
	}
	if m.cfg.Memory.ChunkOverlap >= 0 {
		opts.Overlap = m.cfg.Memory.ChunkOverlap
	}
	return opts
}

func (m *Manager) searchOptions() retrieval.Options {
	opts := retrieval.DefaultOptions()
	mc := m.cfg.Memory
	if mc.MaxResults > 0 {
		opts.MaxResults = mc.MaxResults
	}
	if mc.MinScore > 0 {
		opts.MinScore = mc.MinScore
	}
	if mc.VectorWeight > 0 || mc.TextWeight > 0 {
		opts.VectorWeight = mc.VectorWeight
		opts.TextWeight = mc.TextWeight
	}
	if mc.CandidateMultiplier > 0 {
		opts.CandidateMultiplier = mc.CandidateMultiplier
	}
	return opts
}

// startSweeper schedules the hourly TTL sweep. Expired entries are removed
// from the aggregate file, which is then resynced so the index follows.
func (m *Manager) startSweeper() {
	m.sweeper = cron.New()
	_, err := m.sweeper.AddFunc("@hourly", func() {
		removed, err := m.content.CleanupExpiredMemories(m.ttlConfig(), time.Now())
		if err != nil {
			m.logger.Warn().Err(err).Msg("Scheduled TTL sweep failed")
			return
		}
		if removed == 0 {
			return
		}
		m.logger.Info().Int("removed", removed).Msg("Scheduled TTL sweep removed expired entries")
		if err := m.SyncFile(context.Background(), m.content.MemoryFilePath()); err != nil {
			m.logger.Warn().Err(err).Msg("Resync after TTL sweep failed")
		}
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to schedule TTL sweep")
		return
	}
	m.sweeper.Start()
}

// Close tears the manager down. Idempotent; the manager may be initialized
// again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUninitialized {
		return nil
	}

	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}

	var err error
	if m.idx != nil {
		err = m.idx.Close()
		m.idx = nil
	}

	m.engine = nil
	m.provider = nil
	m.content = nil
	m.state = StateUninitialized
	return err
}

func (m *Manager) requireReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("memory manager not ready (state: %s)", m.state)
	}
	return nil
}

// pendingFile is a file whose chunks await embedding and indexing.
type pendingFile struct {
	path   string
	hash   string
	size   int64
	mtime  time.Time
	chunks []chunker.Chunk
}

// SyncAll incrementally reindexes every memory file: files whose content
// hash is unchanged are skipped, everything else is re-chunked, embedded,
// and upserted. Tracked files that no longer exist on disk are unindexed.
func (m *Manager) SyncAll(ctx context.Context) error {
	files, err := m.content.ListMemoryFiles()
	if err != nil {
		return fmt.Errorf("failed to list memory files: %w", err)
	}

	live := make(map[string]bool, len(files))
	for _, f := range files {
		live[f] = true
	}
	tracked, err := m.idx.TrackedFiles()
	if err != nil {
		return err
	}
	for _, rec := range tracked {
		if live[rec.Path] {
			continue
		}
		if err := m.RemoveFile(rec.Path); err != nil {
			return err
		}
		m.logger.Debug().Str("path", rec.Path).Msg("Unindexed vanished file")
	}

	return m.syncFiles(ctx, files, false)
}

// SyncFile force-reindexes a single file regardless of its tracked hash.
func (m *Manager) SyncFile(ctx context.Context, path string) error {
	return m.syncFiles(ctx, []string{path}, true)
}

func (m *Manager) syncFiles(ctx context.Context, paths []string, force bool) error {
	opts := m.chunkOptions()
	var pending []pendingFile

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text := string(raw)
		hash := content.Hash(text)

		if !force {
			need, err := m.idx.NeedsReindex(path, hash)
			if err != nil {
				return err
			}
			if !need {
				continue
			}
		}

		pending = append(pending, pendingFile{
			path:   path,
			hash:   hash,
			size:   info.Size(),
			mtime:  info.ModTime(),
			chunks: chunker.SmartChunk(text, path, opts),
		})
	}

	if len(pending) == 0 {
		return nil
	}

	vectors := m.embedPending(ctx, pending)

	model := m.activeModel()
	for _, pf := range pending {
		tier := "volatile"
		if pf.path == m.content.MemoryFilePath() {
			tier = "stable"
		}

		rows := make([]index.Chunk, 0, len(pf.chunks))
		for _, c := range pf.chunks {
			rows = append(rows, index.Chunk{
				ID:        newChunkID(),
				Path:      pf.path,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Hash:      c.Hash,
				Model:     model,
				Text:      c.Text,
				Embedding: vectors[c.Hash],
				Tier:      tier,
			})
		}

		if err := m.idx.DeleteChunksForFile(pf.path); err != nil {
			return err
		}
		if err := m.idx.UpsertChunks(rows); err != nil {
			return err
		}
		if err := m.idx.UpsertFile(index.FileRecord{
			Path:  pf.path,
			Hash:  pf.hash,
			MTime: pf.mtime,
			Size:  pf.size,
		}); err != nil {
			return err
		}
	}

	m.engine.Invalidate()
	m.logger.Debug().Int("files", len(pending)).Msg("Sync pass indexed files")
	return nil
}

// embedPending resolves an embedding for every pending chunk, serving cache
// hits from the embedding cache and computing misses in bounded concurrent
// batches. Embedding failures are logged, not propagated: affected chunks
// are indexed without a vector and picked up by keyword search.
func (m *Manager) embedPending(ctx context.Context, pending []pendingFile) map[string][]float32 {
	vectors := make(map[string][]float32)
	if m.provider == nil {
		return vectors
	}

	providerID := m.provider.ID()
	model := m.provider.Model()

	var missTexts []string
	var missHashes []string
	seen := make(map[string]bool)
	for _, pf := range pending {
		for _, c := range pf.chunks {
			if seen[c.Hash] {
				continue
			}
			seen[c.Hash] = true

			vec, ok, err := m.idx.CacheGet(providerID, model, c.Hash)
			if err != nil {
				m.logger.Warn().Err(err).Msg("Embedding cache read failed")
			}
			if ok {
				m.cacheHits.Add(1)
				vectors[c.Hash] = vec
				continue
			}
			m.cacheMisses.Add(1)
			missTexts = append(missTexts, c.Text)
			missHashes = append(missHashes, c.Hash)
		}
	}

	if len(missTexts) == 0 {
		return vectors
	}

	computed, err := m.embedBatches(ctx, missTexts)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Batch embedding failed, indexing affected chunks without vectors")
	}
	for i, vec := range computed {
		if vec == nil {
			continue
		}
		vectors[missHashes[i]] = vec
		if err := m.idx.CachePut(providerID, model, missHashes[i], vec); err != nil {
			m.logger.Warn().Err(err).Msg("Embedding cache write failed")
		}
	}
	return vectors
}

// embedBatches embeds texts in batches under a bounded worker pool. The
// first batch error cancels batches that have not started; completed
// batches are kept.
func (m *Manager) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := m.cfg.Memory.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	concurrency := m.cfg.Memory.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]float32, len(texts))
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			vecs, err := embedding.EmbedAll(ctx, m.provider, texts[start:end])
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				cancel()
				return
			}
			for i, v := range vecs {
				results[start+i] = v
			}
		}(start, end)
	}

	wg.Wait()
	return results, firstErr
}

// RemoveFile drops a file's chunks and tracking record from the index.
func (m *Manager) RemoveFile(path string) error {
	if err := m.idx.DeleteChunksForFile(path); err != nil {
		return err
	}
	if err := m.idx.DeleteFile(path); err != nil {
		return err
	}
	m.engine.Invalidate()
	return nil
}

// NeedsReindex reports whether text differs from the tracked content of
// path.
func (m *Manager) NeedsReindex(path, text string) (bool, error) {
	return m.idx.NeedsReindex(path, content.Hash(text))
}

func newChunkID() string {
	return "chunk_" + gonanoid.MustGenerate("0123456789abcdefghijklmnopqrstuvwxyz", 16)
}
