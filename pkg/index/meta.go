package index

import (
	"database/sql"
	"encoding/json"
	"errors"
)

const indexMetaKey = "index_meta"

// Meta is the singleton record describing how the index was built. Any
// mismatch against the live configuration invalidates the whole index.
type Meta struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	ChunkTokens  int    `json:"chunk_tokens"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// Metadata reads the stored index metadata. A missing or malformed record is
// treated as absent, never as an error.
func (s *Store) Metadata() (*Meta, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", indexMetaKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Meta
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		s.logger.Warn().Err(err).Msg("Malformed index metadata, treating as absent")
		return nil, nil
	}
	return &m, nil
}

// SetMetadata persists the index metadata.
func (s *Store) SetMetadata(m Meta) error {
	if s.db == nil {
		return ErrClosed
	}

	value, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", indexMetaKey, string(value))
	return err
}

// NeedsFullReindex reports whether the stored metadata mismatches the live
// configuration. Absent metadata (a fresh index) is not a mismatch.
func (s *Store) NeedsFullReindex(current Meta) (bool, error) {
	stored, err := s.Metadata()
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	return *stored != current, nil
}

// CacheGet looks up a cached embedding by (provider, model, text hash).
func (s *Store) CacheGet(provider, model, textHash string) ([]float32, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}

	var blob []byte
	err := s.db.QueryRow(`
		SELECT embedding FROM embedding_cache
		WHERE provider = ? AND model = ? AND text_hash = ?`,
		provider, model, textHash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	vec, err := UnpackFloats(blob)
	if err != nil {
		// A corrupt cache row is a miss, not a failure.
		return nil, false, nil
	}
	return vec, true, nil
}

// CachePut stores a computed embedding.
func (s *Store) CachePut(provider, model, textHash string, vec []float32) error {
	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO embedding_cache
			(provider, model, text_hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		provider, model, textHash, PackFloats(vec), len(vec), nowUnix())
	return err
}
