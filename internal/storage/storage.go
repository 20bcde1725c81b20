package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/locolive/ephemeral/internal/config"
)

// FileStorage is the durable media collaborator. References it returns are
// opaque and immutable for the lifetime of the content item.
type FileStorage interface {
	// SaveFile saves a file and returns its public URL
	SaveFile(ctx context.Context, file io.Reader, filename string, contentType string) (string, error)
	// DeleteFile deletes a file by its URL
	DeleteFile(ctx context.Context, fileURL string) error
}

// New builds the storage backend selected by cfg.Type
func New(ctx context.Context, cfg config.StorageConfig) (FileStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalFileStorage(cfg.LocalPath, cfg.BaseURL)
	case "s3", "r2":
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
