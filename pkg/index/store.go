// Package index is the SQLite-backed derived index over the markdown memory
// files: tracked file hashes, chunk rows with packed float32 embeddings, an
// embedding cache, an FTS5 full-text table, and an optional sqlite-vec
// native vector table. Everything here can be rebuilt from the content
// store; the index is never the source of truth.
package index

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register the sqlite-vec extension on every new connection.
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a chunk or file record does not exist.
var ErrNotFound = errors.New("index: not found")

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("index: store is closed")

// embeddingFormatKey marks blobs as packed little-endian float32 so the
// legacy JSON format is migrated exactly once.
const embeddingFormatKey = "embedding_format"
const embeddingFormatF32LE = "f32le"

// Store is the SQLite index handle.
type Store struct {
	db       *sql.DB
	path     string
	logger   zerolog.Logger
	ftsReady bool
	vecReady bool
	vecDims  int
}

// Open opens (or creates) the index database and initializes the schema.
// Reopening after Close is supported by calling Open again.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("index: database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	if err := s.migrateLegacyEmbeddings(); err != nil {
		logger.Warn().Err(err).Msg("Legacy embedding migration failed, continuing")
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			mtime INTEGER NOT NULL,
			size INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			hash TEXT NOT NULL,
			model TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB,
			tier TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
		CREATE INDEX IF NOT EXISTS idx_chunks_model ON chunks(model);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dims INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (provider, model, text_hash)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 is best-effort: engines built without it degrade to vector-only.
	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(ftsSchema); err != nil {
		s.logger.Warn().Err(err).Msg("FTS5 unavailable, keyword search disabled")
		s.ftsReady = false
	} else {
		s.ftsReady = true
	}

	return nil
}

// EnsureVectorTable creates the native vec0 table for the given
// dimensionality. Failure is not fatal: retrieval falls back to CPU cosine.
func (s *Store) EnsureVectorTable(dims int) error {
	if s.db == nil {
		return ErrClosed
	}
	if dims <= 0 {
		return fmt.Errorf("index: invalid vector dimensionality %d", dims)
	}
	if s.vecReady && s.vecDims == dims {
		return nil
	}
	if s.vecReady && s.vecDims != dims {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS chunk_vec"); err != nil {
			return fmt.Errorf("failed to drop vector table: %w", err)
		}
		s.vecReady = false
	}

	stmt := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vec USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dims)
	if _, err := s.db.Exec(stmt); err != nil {
		s.logger.Warn().Err(err).Msg("Native vector index unavailable, using CPU similarity")
		s.vecReady = false
		return nil
	}

	s.vecReady = true
	s.vecDims = dims
	return nil
}

// VectorReady reports whether native vector similarity search is available.
func (s *Store) VectorReady() bool { return s.vecReady }

// FTSReady reports whether full-text search is available.
func (s *Store) FTSReady() bool { return s.ftsReady }

// Close releases the database handle. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ClearAll drops every chunk, file record, and cache entry, plus the vector
// table. Used before a full reindex.
func (s *Store) ClearAll() error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM chunks",
		"DELETE FROM files",
		"DELETE FROM embedding_cache",
		"DELETE FROM meta",
	}
	if s.ftsReady {
		stmts = append(stmts, "DELETE FROM chunks_fts")
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.vecReady {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS chunk_vec"); err != nil {
			return fmt.Errorf("failed to drop vector table: %w", err)
		}
		s.vecReady = false
		s.vecDims = 0
	}

	s.logger.Info().Msg("Cleared index for full reindex")
	return nil
}

// Counts summarizes index contents.
type Counts struct {
	Files        int
	Chunks       int
	Embedded     int
	CacheEntries int
	TierCounts   map[string]int
}

// Stats counts rows across the index tables.
func (s *Store) Stats() (*Counts, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	c := &Counts{TierCounts: make(map[string]int)}
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM embedding_cache)
	`)
	if err := row.Scan(&c.Files, &c.Chunks, &c.Embedded, &c.CacheEntries); err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT tier, COUNT(*) FROM chunks GROUP BY tier")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		c.TierCounts[tier] = n
	}

	return c, rows.Err()
}

// PackFloats serializes a vector as packed little-endian float32.
func PackFloats(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnpackFloats deserializes a packed little-endian float32 blob.
func UnpackFloats(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("index: embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// migrateLegacyEmbeddings upgrades embeddings persisted as JSON text (the
// original storage format) to packed float32 blobs, once.
func (s *Store) migrateLegacyEmbeddings() error {
	var format string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", embeddingFormatKey).Scan(&format)
	if err == nil && format == embeddingFormatF32LE {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	migrated := 0
	for _, table := range []struct{ name, key string }{
		{"chunks", "id"},
		{"embedding_cache", "rowid"},
	} {
		n, err := s.migrateTableEmbeddings(table.name, table.key)
		if err != nil {
			return err
		}
		migrated += n
	}

	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		embeddingFormatKey, embeddingFormatF32LE,
	); err != nil {
		return err
	}

	if migrated > 0 {
		s.logger.Info().Int("embeddings", migrated).Msg("Migrated legacy JSON embeddings to packed float32")
	}
	return nil
}

func (s *Store) migrateTableEmbeddings(table, key string) (int, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s, embedding FROM %s WHERE embedding IS NOT NULL", key, table))
	if err != nil {
		return 0, err
	}

	type pending struct {
		key  interface{}
		blob []byte
	}
	var updates []pending

	for rows.Next() {
		var id interface{}
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return 0, err
		}
		if len(blob) == 0 || blob[0] != '[' {
			continue
		}
		var legacy []float32
		if err := json.Unmarshal(blob, &legacy); err != nil {
			continue
		}
		updates = append(updates, pending{key: id, blob: PackFloats(legacy)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, u := range updates {
		if _, err := s.db.Exec(fmt.Sprintf(
			"UPDATE %s SET embedding = ? WHERE %s = ?", table, key), u.blob, u.key); err != nil {
			return 0, err
		}
	}
	return len(updates), nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}
