package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

func setupLocalStorage(t *testing.T) (*LocalStorage, string) {
	tmpDir := t.TempDir()

	storage, err := NewLocalStorage(tmpDir)
	require.NoError(t, err)

	return storage, tmpDir
}

func TestNewLocalStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	storage, err := NewLocalStorage(dir)

	assert.NoError(t, err)
	assert.NotNil(t, storage)
	assert.Equal(t, dir, storage.basePath)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestLocalStorage_Name(t *testing.T) {
	storage, _ := setupLocalStorage(t)

	assert.Equal(t, "local", storage.Name())
}

func TestLocalStorage_Health(t *testing.T) {
	storage, dir := setupLocalStorage(t)

	require.NoError(t, storage.Health(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "health check leaves no files behind")
}

func TestLocalStorage_PutAndGet(t *testing.T) {
	storage, dir := setupLocalStorage(t)
	ctx := context.Background()

	obj, err := storage.Put(ctx, "yngwie.js", []byte("var Yngwie;"))
	require.NoError(t, err)
	assert.Equal(t, "yngwie.js", obj.Key)
	assert.Equal(t, int64(11), obj.Size)
	assert.Equal(t, "application/javascript; charset=utf-8", obj.ContentType)
	assert.Len(t, obj.ETag, 32)

	data, err := os.ReadFile(filepath.Join(dir, "yngwie.js"))
	require.NoError(t, err)
	assert.Equal(t, "var Yngwie;", string(data))

	got, err := storage.Get(ctx, "yngwie.js")
	require.NoError(t, err)
	assert.Equal(t, "var Yngwie;", string(got))
}

func TestLocalStorage_PutReplacesWithoutLeftovers(t *testing.T) {
	storage, dir := setupLocalStorage(t)
	ctx := context.Background()

	_, err := storage.Put(ctx, "bundle.js", []byte("first"))
	require.NoError(t, err)
	_, err = storage.Put(ctx, "bundle.js", []byte("second"))
	require.NoError(t, err)

	got, err := storage.Get(ctx, "bundle.js")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bundle.js", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "bundle.js"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestLocalStorage_PutWithPath(t *testing.T) {
	storage, dir := setupLocalStorage(t)

	_, err := storage.Put(context.Background(), "chunks/main.js", []byte("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "chunks", "main.js"))
	assert.NoError(t, err)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	storage, _ := setupLocalStorage(t)

	for _, key := range []string{"../outside.js", "a/../../outside.js", ""} {
		_, err := storage.Put(context.Background(), key, []byte("x"))
		assert.Error(t, err, key)
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, _ := setupLocalStorage(t)

	_, err := storage.Get(context.Background(), "missing.js")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_PutFailure(t *testing.T) {
	storage, dir := setupLocalStorage(t)

	// A directory in place of the target makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bundle.js", "child"), 0755))
	_, err := storage.Put(context.Background(), "bundle.js", []byte("x"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temporary file %s left behind", e.Name())
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "yngwie.js", want: "application/javascript; charset=utf-8"},
		{key: "yngwie.js.map", want: "application/json; charset=utf-8"},
		{key: "chunks/main.mjs", want: "application/javascript; charset=utf-8"},
		{key: "blob", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.key))
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		dir := t.TempDir()
		p, err := NewProvider(&config.PublishConfig{Provider: "local"}, dir)
		require.NoError(t, err)
		assert.Equal(t, "local", p.Name())
	})

	t.Run("s3", func(t *testing.T) {
		p, err := NewProvider(&config.PublishConfig{
			Provider:    "s3",
			S3Endpoint:  "http://localhost:9000",
			S3AccessKey: "minioadmin",
			S3SecretKey: "minioadmin",
			S3Bucket:    "bundles",
			S3Prefix:    "releases",
		}, "")
		require.NoError(t, err)
		require.Equal(t, "s3", p.Name())
		assert.Equal(t, "releases/yngwie.js", p.(*S3Storage).objectKey("yngwie.js"))
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewProvider(&config.PublishConfig{Provider: "ftp"}, t.TempDir())
		assert.ErrorContains(t, err, "unsupported storage provider")
	})
}
