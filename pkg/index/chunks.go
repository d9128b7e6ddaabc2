package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Chunk is a content-addressed slice of a source file as persisted in the
// index. Embedding is nil when the chunk has not been embedded.
type Chunk struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Hash      string
	Model     string
	Text      string
	Embedding []float32
	Tier      string
	UpdatedAt time.Time
}

// UpsertChunk writes a chunk to the relational table, the FTS shadow table,
// and (when available and embedded) the native vector table in one
// transaction, so a vector/FTS row can never exist for a chunk id absent
// from the relational table.
func (s *Store) UpsertChunk(c Chunk) error {
	return s.UpsertChunks([]Chunk{c})
}

// UpsertChunks writes a batch of chunks in a single transaction.
func (s *Store) UpsertChunks(chunks []Chunk) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = PackFloats(c.Embedding)
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO chunks
				(id, path, start_line, end_line, hash, model, text, embedding, tier, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Path, c.StartLine, c.EndLine, c.Hash, c.Model, c.Text, blob, c.Tier, nowUnix(),
		); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}

		if s.ftsReady {
			if _, err := tx.Exec("DELETE FROM chunks_fts WHERE chunk_id = ?", c.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)", c.ID, c.Text,
			); err != nil {
				return err
			}
		}

		if s.vecReady && c.Embedding != nil && len(c.Embedding) == s.vecDims {
			vecJSON, err := json.Marshal(c.Embedding)
			if err != nil {
				return err
			}
			if _, err := tx.Exec("DELETE FROM chunk_vec WHERE chunk_id = ?", c.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO chunk_vec (chunk_id, embedding) VALUES (?, ?)", c.ID, string(vecJSON),
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteChunksForFile removes a file's chunks from the relational, FTS, and
// vector tables in one transaction.
func (s *Store) DeleteChunksForFile(path string) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.ftsReady {
		if _, err := tx.Exec(
			"DELETE FROM chunks_fts WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)", path,
		); err != nil {
			return err
		}
	}
	if s.vecReady {
		if _, err := tx.Exec(
			"DELETE FROM chunk_vec WHERE chunk_id IN (SELECT id FROM chunks WHERE path = ?)", path,
		); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE path = ?", path); err != nil {
		return err
	}

	return tx.Commit()
}

func scanChunk(row interface{ Scan(...interface{}) error }) (*Chunk, error) {
	var c Chunk
	var blob []byte
	var updatedAt int64
	err := row.Scan(&c.ID, &c.Path, &c.StartLine, &c.EndLine, &c.Hash, &c.Model, &c.Text, &blob, &c.Tier, &updatedAt)
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		c.Embedding, err = UnpackFloats(blob)
		if err != nil {
			return nil, err
		}
	}
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

const chunkColumns = "id, path, start_line, end_line, hash, model, text, embedding, tier, updated_at"

// GetChunk fetches a chunk by id.
func (s *Store) GetChunk(id string) (*Chunk, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	row := s.db.QueryRow("SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ChunksForFile returns all chunks of a file ordered by start line.
func (s *Store) ChunksForFile(path string) ([]Chunk, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		"SELECT "+chunkColumns+" FROM chunks WHERE path = ? ORDER BY start_line", path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// EmbeddingRow pairs a chunk id with its stored embedding.
type EmbeddingRow struct {
	ID     string
	Vector []float32
}

// ChunkEmbeddings returns every embedded chunk for a model. This feeds the
// CPU cosine fallback when no native vector index is available.
func (s *Store) ChunkEmbeddings(model string) ([]EmbeddingRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		"SELECT id, embedding FROM chunks WHERE model = ? AND embedding IS NOT NULL", model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var r EmbeddingRow
		var blob []byte
		if err := rows.Scan(&r.ID, &blob); err != nil {
			return nil, err
		}
		r.Vector, err = UnpackFloats(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountChunksForModel counts chunks owned by an embedding model.
func (s *Store) CountChunksForModel(model string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE model = ?", model).Scan(&n)
	return n, err
}

// RankedID is a raw search hit before hydration.
type RankedID struct {
	ID string
	// Score carries a bm25 rank for keyword queries (lower and typically
	// negative is better) or a distance for vector queries (lower is closer).
	Score float64
}

// KeywordQuery runs an FTS5 MATCH query, returning raw bm25 ranks. Returns
// an empty result set when FTS is unavailable.
func (s *Store) KeywordQuery(match string, limit int) ([]RankedID, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if !s.ftsReady || match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		// A malformed MATCH expression degrades to no results.
		s.logger.Debug().Err(err).Str("match", match).Msg("Keyword query failed")
		return nil, nil
	}
	defer rows.Close()

	var out []RankedID
	for rows.Next() {
		var r RankedID
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VectorQuery runs a native cosine-distance scan over the vec0 table.
func (s *Store) VectorQuery(vec []float32, limit int) ([]RankedID, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if !s.vecReady {
		return nil, errors.New("index: native vector search unavailable")
	}

	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM chunk_vec
		ORDER BY distance ASC
		LIMIT ?`, string(vecJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RankedID
	for rows.Next() {
		var r RankedID
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
