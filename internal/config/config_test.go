package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	root := t.TempDir()
	cfg, err := Default(root)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Build.Root)
	assert.Equal(t, []string{filepath.Join(root, "src", "main.js")}, cfg.Build.Entries)
	assert.Equal(t, filepath.Join(root, "test", "yngwie.js"), cfg.Build.OutputPath())
	assert.Equal(t, "Yngwie", cfg.Build.Library.Name)
	assert.Equal(t, WrapperUMD, cfg.Build.Library.Type)
	assert.Equal(t, SourceMapInline, cfg.Build.SourceMap)
	assert.Equal(t, OutputSingleFile, cfg.Build.OutputMode)
	assert.Equal(t, filepath.Join(root, "test"), cfg.DevServer.ContentBase)
	assert.Equal(t, 30*time.Second, cfg.Build.TransformTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxpack.yaml")
	content := `
build:
  entries: ["./lib/index.js"]
  library:
    name: MyLib
    type: esm
  source_map: external
  extensions: ["js", ".ts"]
dev_server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Build.Root)
	assert.Equal(t, []string{filepath.Join(dir, "lib", "index.js")}, cfg.Build.Entries)
	assert.Equal(t, WrapperESM, cfg.Build.Library.Type)
	assert.Equal(t, SourceMapExternal, cfg.Build.SourceMap)
	assert.Equal(t, []string{".js", ".ts"}, cfg.Build.Extensions)
	assert.Equal(t, 9000, cfg.DevServer.Port)
	assert.Equal(t, "localhost:9000", cfg.DevServer.Address())
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  mode: development\n"), 0644))

	t.Setenv("FLUXPACK_BUILD_MODE", "production")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, cfg.Build.Mode)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  library:\n    type: amd\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid library type")
}

func TestBuildConfig_Validate(t *testing.T) {
	validConfig := func() BuildConfig {
		return BuildConfig{
			Root:             "/project",
			Mode:             ModeDevelopment,
			Entries:          []string{"/project/src/main.js"},
			OutputMode:       OutputSingleFile,
			OutputDir:        "/project/test",
			Filename:         "yngwie.js",
			Library:          LibraryConfig{Name: "Yngwie", Type: WrapperUMD},
			SourceMap:        SourceMapInline,
			Workers:          4,
			TransformTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		modify  func(*BuildConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *BuildConfig) {},
			wantErr: false,
		},
		{
			name:    "no entries",
			modify:  func(c *BuildConfig) { c.Entries = nil },
			wantErr: true,
			errMsg:  "at least one entry is required",
		},
		{
			name:    "invalid mode",
			modify:  func(c *BuildConfig) { c.Mode = "staging" },
			wantErr: true,
			errMsg:  "invalid mode",
		},
		{
			name:    "invalid output mode",
			modify:  func(c *BuildConfig) { c.OutputMode = "split" },
			wantErr: true,
			errMsg:  "invalid output_mode",
		},
		{
			name:    "umd without name",
			modify:  func(c *BuildConfig) { c.Library.Name = "" },
			wantErr: true,
			errMsg:  "library name is required",
		},
		{
			name: "esm without name",
			modify: func(c *BuildConfig) {
				c.Library = LibraryConfig{Type: WrapperESM}
			},
			wantErr: false,
		},
		{
			name:    "invalid source map",
			modify:  func(c *BuildConfig) { c.SourceMap = "eval" },
			wantErr: true,
			errMsg:  "invalid source_map",
		},
		{
			name:    "zero workers",
			modify:  func(c *BuildConfig) { c.Workers = 0 },
			wantErr: true,
			errMsg:  "workers must be positive",
		},
		{
			name:    "zero timeout",
			modify:  func(c *BuildConfig) { c.TransformTimeout = 0 },
			wantErr: true,
			errMsg:  "transform_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDevServerConfig_Validate(t *testing.T) {
	valid := DevServerConfig{ContentBase: "/srv", Port: 8080, MaxRebuildsPerSecond: 1}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Port = 70000
	assert.ErrorContains(t, bad.Validate(), "port must be between 1 and 65535")

	bad = valid
	bad.ContentBase = ""
	assert.ErrorContains(t, bad.Validate(), "content_base is required")
}

func TestCacheConfig_Validate(t *testing.T) {
	assert.NoError(t, (&CacheConfig{Provider: "memory"}).Validate())
	assert.NoError(t, (&CacheConfig{Provider: "none"}).Validate())
	assert.ErrorContains(t, (&CacheConfig{Provider: "redis"}).Validate(), "redis_url is required")
	assert.ErrorContains(t, (&CacheConfig{Provider: "disk"}).Validate(), "invalid cache provider")
}

func TestPublishConfig_Validate(t *testing.T) {
	assert.NoError(t, (&PublishConfig{Provider: "local"}).Validate())
	assert.ErrorContains(t, (&PublishConfig{Provider: "s3", S3Bucket: "b"}).Validate(), "S3 configuration is incomplete")
	assert.NoError(t, (&PublishConfig{
		Provider:    "s3",
		S3Endpoint:  "localhost:9000",
		S3AccessKey: "key",
		S3SecretKey: "secret",
		S3Bucket:    "bundles",
	}).Validate())
}
