// Package storage publishes build artifacts to a local directory or to
// S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("object not found")

// Object describes a stored artifact
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag,omitempty"`
}

// Provider is the interface that artifact storage providers must implement
type Provider interface {
	// Name returns the provider name
	Name() string

	// Put replaces the object at key. Readers never observe a partial write.
	Put(ctx context.Context, key string, data []byte) (*Object, error)

	// Get reads the object at key
	Get(ctx context.Context, key string) ([]byte, error)

	// Health checks that the destination is reachable and writable
	Health(ctx context.Context) error
}

// ContentType guesses the content type of an artifact from its name.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".js", ".mjs", ".cjs":
		return "application/javascript; charset=utf-8"
	case ".map":
		return "application/json; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
