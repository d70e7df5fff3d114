package store

import (
	"context"
	"database/sql"
	"errors"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func importHashKey(examID string) string { return "import_hash:" + examID }

// ImportHash returns the content hash recorded by the last import of an
// exam file, or "" when the exam was never imported.
func (s *Store) ImportHash(ctx context.Context, examID string) (string, error) {
	return s.GetMetadata(ctx, importHashKey(examID))
}

// SetImportHash records the content hash of an imported exam file.
func (s *Store) SetImportHash(ctx context.Context, examID, hash string) error {
	return s.SetMetadata(ctx, importHashKey(examID), hash)
}
