package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// NewProvider creates the artifact storage selected by configuration.
// Local storage writes into outputDir.
func NewProvider(cfg *config.PublishConfig, outputDir string) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local", "":
		provider, err := NewLocalStorage(outputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		useSSL := cfg.S3UseSSL
		endpoint := cfg.S3Endpoint
		switch {
		case strings.HasPrefix(endpoint, "https://"):
			useSSL = true
		case strings.HasPrefix(endpoint, "http://"):
			useSSL = false
		}
		endpoint = strings.TrimPrefix(endpoint, "https://")
		endpoint = strings.TrimPrefix(endpoint, "http://")

		provider, err := NewS3Storage(
			endpoint,
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			cfg.S3Region,
			cfg.S3Bucket,
			cfg.S3Prefix,
			useSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
