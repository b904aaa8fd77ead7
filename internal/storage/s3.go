package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage publishes artifacts to S3-compatible storage (AWS S3, MinIO, etc.)
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Storage creates a new S3-compatible storage provider
// Works with AWS S3, MinIO, Wasabi, DigitalOcean Spaces, and other S3-compatible services
func NewS3Storage(endpoint, accessKey, secretKey, region, bucket, prefix string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("region", region).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("S3-compatible artifact storage initialized")

	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Name returns the provider name
func (s3 *S3Storage) Name() string {
	return "s3"
}

// Health checks that the bucket exists
func (s3 *S3Storage) Health(ctx context.Context) error {
	exists, err := s3.client.BucketExists(ctx, s3.bucket)
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("S3 bucket %s does not exist", s3.bucket)
	}
	return nil
}

func (s3 *S3Storage) objectKey(key string) string {
	if s3.prefix == "" {
		return key
	}
	return path.Join(s3.prefix, key)
}

// Put uploads an artifact. S3 replaces objects atomically.
func (s3 *S3Storage) Put(ctx context.Context, key string, data []byte) (*Object, error) {
	objectKey := s3.objectKey(key)
	contentType := ContentType(key)

	info, err := s3.client.PutObject(ctx, s3.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "no-cache",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("bucket", s3.bucket).
		Str("key", objectKey).
		Int64("size", info.Size).
		Msg("Artifact uploaded to S3")

	return &Object{
		Key:         objectKey,
		Size:        info.Size,
		ContentType: contentType,
		ETag:        info.ETag,
	}, nil
}

// Get downloads an artifact
func (s3 *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s3.client.GetObject(ctx, s3.bucket, s3.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return data, nil
}
