package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalFileStorage implements FileStorage for local filesystem
type LocalFileStorage struct {
	basePath string
	baseURL  string
}

// NewLocalFileStorage creates a new local file storage
func NewLocalFileStorage(basePath, baseURL string) (*LocalFileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	return &LocalFileStorage{
		basePath: abs,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// BasePath returns the directory media is written to
func (s *LocalFileStorage) BasePath() string {
	return s.basePath
}

// SaveFile saves a file to local disk
func (s *LocalFileStorage) SaveFile(ctx context.Context, file io.Reader, filename string, contentType string) (string, error) {
	newFilename := fmt.Sprintf("%s_%s%s", time.Now().UTC().Format("20060102"), uuid.New().String(), extensionFor(filename, contentType))
	fullPath := filepath.Join(s.basePath, newFilename)

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file on disk: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		_ = os.Remove(fullPath)
		return "", fmt.Errorf("failed to save file content: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.baseURL, newFilename), nil
}

// DeleteFile deletes a file from local disk
func (s *LocalFileStorage) DeleteFile(ctx context.Context, fileURL string) error {
	filename := filepath.Base(strings.TrimPrefix(fileURL, s.baseURL))
	if filename == "." || filename == "/" || filename == ".." {
		return fmt.Errorf("invalid media reference %q", fileURL)
	}

	fullPath := filepath.Join(s.basePath, filename)
	if !strings.HasPrefix(fullPath, s.basePath+string(os.PathSeparator)) {
		return fmt.Errorf("media reference %q escapes storage root", fileURL)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// extensionFor keeps the upload's extension, guessing from the content type when absent
func extensionFor(filename, contentType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return strings.ToLower(ext)
	}
	chunks := strings.Split(contentType, "/")
	if len(chunks) == 2 && chunks[1] != "" {
		return "." + chunks[1]
	}
	return ""
}
