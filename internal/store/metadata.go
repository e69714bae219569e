package store

import (
	"context"
	"errors"

	"github.com/pavelanni/ecd/internal/model"
)

// GetImportedFileHash returns the sha256 recorded for an imported registry file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	hash, err := getJSON[string](ctx, s.b, kindImport, path)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the sha256 of an imported registry file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return putJSON(ctx, s.b, kindImport, path, hash)
}
