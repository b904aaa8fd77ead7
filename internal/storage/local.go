package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// LocalStorage writes artifacts below a directory on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage provider
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// Health checks if the output directory is writable
func (ls *LocalStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("output directory not accessible: %w", err)
	}

	f, err := os.CreateTemp(ls.basePath, ".health_check-*")
	if err != nil {
		return fmt.Errorf("output directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return nil
}

// getPath returns the filesystem path for key, rejecting keys that escape the base path
func (ls *LocalStorage) getPath(key string) (string, error) {
	p := filepath.Join(ls.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(ls.basePath, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	return p, nil
}

// Put writes data to a temporary file in the destination directory and
// renames it into place, so a concurrent reader sees either the old or
// the new artifact.
func (ls *LocalStorage) Put(ctx context.Context, key string, data []byte) (*Object, error) {
	filePath, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	sum := md5.Sum(data)

	log.Debug().
		Str("path", filePath).
		Int("size", len(data)).
		Msg("Artifact written")

	return &Object{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: ContentType(key),
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}

// Get reads an artifact from the output directory
func (ls *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
