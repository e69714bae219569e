package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/pavelanni/ecd/internal/model"
)

// FileHashes records the content hash of each imported bundle.
type FileHashes interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// ImportResult describes one Import call.
type ImportResult struct {
	Name    string `json:"name"`
	Hash    string `json:"hash"`
	Count   int    `json:"count"`
	Skipped bool   `json:"skipped"`
}

// Import loads a bundle file once. An unchanged file is skipped. A file whose
// content changed since it was imported is refused with model.ErrConflict so
// running sessions keep the reference data they started with.
func Import(ctx context.Context, sink Sink, hashes FileHashes, name string, data []byte) (ImportResult, error) {
	res := ImportResult{Name: name, Hash: sha256sum(data)}

	stored, err := hashes.GetImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == res.Hash {
		slog.Info("registry file unchanged, skipping", "path", name)
		res.Skipped = true
		return res, nil
	}
	if stored != "" {
		return res, model.Conflictf("registry file %s changed since last import", name)
	}

	b, err := ParseBundle(name, data)
	if err != nil {
		return res, model.Validationf("%v", err)
	}
	n, err := Load(ctx, sink, b)
	if err != nil {
		return res, err
	}
	res.Count = n

	if err := hashes.SetImportedFileHash(ctx, name, res.Hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported registry file", "path", name, "count", n)
	return res, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
