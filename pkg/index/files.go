package index

import (
	"database/sql"
	"errors"
	"time"
)

// FileRecord tracks an indexed source file. The hash is the unit of the
// incremental-reindex decision.
type FileRecord struct {
	Path  string
	Hash  string
	MTime time.Time
	Size  int64
}

// UpsertFile records a file's hash, mtime, and size.
func (s *Store) UpsertFile(rec FileRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO files (path, hash, mtime, size)
		VALUES (?, ?, ?, ?)`,
		rec.Path, rec.Hash, rec.MTime.Unix(), rec.Size)
	return err
}

// DeleteFile removes a file record.
func (s *Store) DeleteFile(path string) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec("DELETE FROM files WHERE path = ?", path)
	return err
}

// FileHash returns the tracked hash for a path, or ErrNotFound.
func (s *Store) FileHash(path string) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	var hash string
	err := s.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// NeedsReindex reports whether a file's content hash differs from the
// tracked one. Untracked files always need indexing.
func (s *Store) NeedsReindex(path, hash string) (bool, error) {
	stored, err := s.FileHash(path)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored != hash, nil
}

// TrackedFiles lists every tracked file record.
func (s *Store) TrackedFiles() ([]FileRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query("SELECT path, hash, mtime, size FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var mtime int64
		if err := rows.Scan(&rec.Path, &rec.Hash, &mtime, &rec.Size); err != nil {
			return nil, err
		}
		rec.MTime = time.Unix(mtime, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}
