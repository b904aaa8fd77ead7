package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Output modes
const (
	OutputSingleFile = "single-file"
	OutputMultiChunk = "multi-chunk"
)

// Library wrapper kinds
const (
	WrapperUMD      = "umd"
	WrapperESM      = "esm"
	WrapperCommonJS = "commonjs"
	WrapperGlobal   = "global"
)

// Source map modes
const (
	SourceMapNone     = "none"
	SourceMapInline   = "inline"
	SourceMapExternal = "external"
)

// Build modes
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config represents the bundler configuration
type Config struct {
	Build     BuildConfig     `mapstructure:"build" json:"build" yaml:"build"`
	DevServer DevServerConfig `mapstructure:"dev_server" json:"dev_server" yaml:"dev_server"`
	Cache     CacheConfig     `mapstructure:"cache" json:"cache" yaml:"cache"`
	Notify    NotifyConfig    `mapstructure:"notify" json:"notify" yaml:"notify"`
	Publish   PublishConfig   `mapstructure:"publish" json:"publish" yaml:"publish"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
	Debug     bool            `mapstructure:"debug" json:"debug" yaml:"debug"`
}

// BuildConfig is the build configuration consumed read-only by every pipeline stage
type BuildConfig struct {
	Root             string            `mapstructure:"root" json:"root" yaml:"root"` // project root; relative paths resolve against it
	Mode             string            `mapstructure:"mode" json:"mode" yaml:"mode"` // development or production
	Entries          []string          `mapstructure:"entries" json:"entries" yaml:"entries"`
	OutputMode       string            `mapstructure:"output_mode" json:"output_mode" yaml:"output_mode"`
	OutputDir        string            `mapstructure:"output_dir" json:"output_dir" yaml:"output_dir"`
	Filename         string            `mapstructure:"filename" json:"filename" yaml:"filename"`
	Library          LibraryConfig     `mapstructure:"library" json:"library" yaml:"library"`
	SourceMap        string            `mapstructure:"source_map" json:"source_map" yaml:"source_map"`
	Extensions       []string          `mapstructure:"extensions" json:"extensions" yaml:"extensions"`
	Transforms       []string          `mapstructure:"transforms" json:"transforms" yaml:"transforms"` // ordered; the parse stage always runs first
	Define           map[string]string `mapstructure:"define" json:"define" yaml:"define"`
	Workers          int               `mapstructure:"workers" json:"workers" yaml:"workers"`
	TransformTimeout time.Duration     `mapstructure:"transform_timeout" json:"transform_timeout" yaml:"transform_timeout"`
}

// LibraryConfig names the exposed library and its outer wrapper
type LibraryConfig struct {
	Name string `mapstructure:"name" json:"name" yaml:"name"`
	Type string `mapstructure:"type" json:"type" yaml:"type"` // umd, esm, commonjs, global
}

// DevServerConfig contains development server settings
type DevServerConfig struct {
	ContentBase          string        `mapstructure:"content_base" json:"content_base" yaml:"content_base"`
	Host                 string        `mapstructure:"host" json:"host" yaml:"host"`
	Port                 int           `mapstructure:"port" json:"port" yaml:"port"`
	WatchDirs            []string      `mapstructure:"watch_dirs" json:"watch_dirs" yaml:"watch_dirs"`
	Debounce             time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce"`
	MaxRebuildsPerSecond float64       `mapstructure:"max_rebuilds_per_second" json:"max_rebuilds_per_second" yaml:"max_rebuilds_per_second"`
	PingInterval         time.Duration `mapstructure:"ping_interval" json:"ping_interval" yaml:"ping_interval"`
	InjectClient         bool          `mapstructure:"inject_client" json:"inject_client" yaml:"inject_client"`
}

// CacheConfig configures the transform cache store
type CacheConfig struct {
	Provider string        `mapstructure:"provider" json:"provider" yaml:"provider"` // none, memory or redis
	RedisURL string        `mapstructure:"redis_url" json:"redis_url" yaml:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`
	Prefix   string        `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
}

// NotifyConfig configures how build notifications reach dev clients
type NotifyConfig struct {
	Backend  string `mapstructure:"backend" json:"backend" yaml:"backend"` // local or redis
	RedisURL string `mapstructure:"redis_url" json:"redis_url" yaml:"redis_url"`
}

// PublishConfig configures where build artifacts are written
type PublishConfig struct {
	Provider    string `mapstructure:"provider" json:"provider" yaml:"provider"` // local or s3
	S3Endpoint  string `mapstructure:"s3_endpoint" json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key" json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key" json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket" json:"s3_bucket" yaml:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region" json:"s3_region" yaml:"s3_region"`
	S3Prefix    string `mapstructure:"s3_prefix" json:"s3_prefix" yaml:"s3_prefix"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl" json:"s3_use_ssl" yaml:"s3_use_ssl"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
}

// Load loads configuration from file and environment variables.
// An empty path searches for fluxpack.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fluxpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Enable environment variable support with underscore replacer
	v.SetEnvPrefix("FLUXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Relative roots in a config file are relative to that file
	base := "."
	if used := v.ConfigFileUsed(); used != "" {
		base = filepath.Dir(used)
	}
	if err := config.normalize(base); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration rooted at root.
func Default(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.Build.Root = root
	if err := config.normalize("."); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Build defaults
	v.SetDefault("build.root", ".")
	v.SetDefault("build.mode", ModeDevelopment)
	v.SetDefault("build.entries", []string{"./src/main.js"})
	v.SetDefault("build.output_mode", OutputSingleFile)
	v.SetDefault("build.output_dir", "./test")
	v.SetDefault("build.filename", "yngwie.js")
	v.SetDefault("build.library.name", "Yngwie")
	v.SetDefault("build.library.type", WrapperUMD)
	v.SetDefault("build.source_map", SourceMapInline)
	v.SetDefault("build.extensions", []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".json"})
	v.SetDefault("build.transforms", []string{"json", "esbuild", "define"})
	v.SetDefault("build.workers", 8)
	v.SetDefault("build.transform_timeout", "30s")

	// Dev server defaults
	v.SetDefault("dev_server.content_base", "./test")
	v.SetDefault("dev_server.host", "localhost")
	v.SetDefault("dev_server.port", 8080)
	v.SetDefault("dev_server.watch_dirs", []string{"./src"})
	v.SetDefault("dev_server.debounce", "100ms")
	v.SetDefault("dev_server.max_rebuilds_per_second", 4.0)
	v.SetDefault("dev_server.ping_interval", "30s")
	v.SetDefault("dev_server.inject_client", true)

	// Cache defaults
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.prefix", "fluxpack:transform:")

	// Notify defaults
	v.SetDefault("notify.backend", "local")

	// Publish defaults
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.s3_region", "us-east-1")
	v.SetDefault("publish.s3_use_ssl", true)

	// Observability defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "fluxpack")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("debug", false)
}

// normalize makes every path absolute so later stages never depend on the working directory
func (c *Config) normalize(base string) error {
	root := c.Build.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid build root: %w", err)
	}
	c.Build.Root = root

	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}

	entries := make([]string, len(c.Build.Entries))
	for i, e := range c.Build.Entries {
		entries[i] = abs(e)
	}
	c.Build.Entries = entries
	c.Build.OutputDir = abs(c.Build.OutputDir)
	c.DevServer.ContentBase = abs(c.DevServer.ContentBase)

	watch := make([]string, len(c.DevServer.WatchDirs))
	for i, d := range c.DevServer.WatchDirs {
		watch[i] = abs(d)
	}
	c.DevServer.WatchDirs = watch

	exts := make([]string, len(c.Build.Extensions))
	for i, e := range c.Build.Extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[i] = e
	}
	c.Build.Extensions = exts
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Build.Validate(); err != nil {
		return fmt.Errorf("build configuration error: %w", err)
	}
	if err := c.DevServer.Validate(); err != nil {
		return fmt.Errorf("dev_server configuration error: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration error: %w", err)
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify configuration error: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish configuration error: %w", err)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}

// Validate validates build settings
func (bc *BuildConfig) Validate() error {
	if len(bc.Entries) == 0 {
		return fmt.Errorf("at least one entry is required")
	}
	if bc.Mode != ModeDevelopment && bc.Mode != ModeProduction {
		return fmt.Errorf("invalid mode: %s (must be one of: development, production)", bc.Mode)
	}
	if bc.OutputMode != OutputSingleFile && bc.OutputMode != OutputMultiChunk {
		return fmt.Errorf("invalid output_mode: %s (must be one of: single-file, multi-chunk)", bc.OutputMode)
	}
	if bc.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	switch bc.Library.Type {
	case WrapperUMD, WrapperGlobal:
		if bc.Library.Name == "" {
			return fmt.Errorf("library name is required for %s output", bc.Library.Type)
		}
	case WrapperESM, WrapperCommonJS:
	default:
		return fmt.Errorf("invalid library type: %s (must be one of: umd, esm, commonjs, global)", bc.Library.Type)
	}
	switch bc.SourceMap {
	case SourceMapNone, SourceMapInline, SourceMapExternal:
	default:
		return fmt.Errorf("invalid source_map: %s (must be one of: none, inline, external)", bc.SourceMap)
	}
	if bc.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if bc.TransformTimeout <= 0 {
		return fmt.Errorf("transform_timeout must be positive")
	}
	return nil
}

// OutputPath returns the absolute path of the primary bundle
func (bc *BuildConfig) OutputPath() string {
	return filepath.Join(bc.OutputDir, bc.Filename)
}

// Validate validates dev server settings
func (dc *DevServerConfig) Validate() error {
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if dc.ContentBase == "" {
		return fmt.Errorf("content_base is required")
	}
	if dc.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative")
	}
	if dc.MaxRebuildsPerSecond <= 0 {
		return fmt.Errorf("max_rebuilds_per_second must be positive")
	}
	return nil
}

// Address returns the listen address
func (dc *DevServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", dc.Host, dc.Port)
}

// Validate validates cache settings
func (cc *CacheConfig) Validate() error {
	switch cc.Provider {
	case "none", "memory", "":
	case "redis":
		if cc.RedisURL == "" {
			return fmt.Errorf("redis_url is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache provider: %s (must be one of: none, memory, redis)", cc.Provider)
	}
	return nil
}

// Validate validates notification settings
func (nc *NotifyConfig) Validate() error {
	switch nc.Backend {
	case "local", "":
	case "redis":
		if nc.RedisURL == "" {
			return fmt.Errorf("redis_url is required for redis notifications")
		}
	default:
		return fmt.Errorf("invalid notify backend: %s (must be one of: local, redis)", nc.Backend)
	}
	return nil
}

// Validate validates publish settings
func (pc *PublishConfig) Validate() error {
	switch pc.Provider {
	case "local", "":
	case "s3":
		if pc.S3Endpoint == "" || pc.S3AccessKey == "" || pc.S3SecretKey == "" || pc.S3Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	default:
		return fmt.Errorf("publish provider must be 'local' or 's3'")
	}
	return nil
}
