package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// URLResolver turns a task result into a URL a user can open.
type URLResolver interface {
	Resolve(ctx context.Context, r models.TaskResult) (string, error)
}

// NewResolver picks a [PresignResolver] when cfg.Endpoint is set and a [PrefixResolver] otherwise.
func NewResolver(cfg shared.StorageConfig) (URLResolver, error) {
	if cfg.Endpoint == "" {
		return PrefixResolver{BaseURL: cfg.PublicBaseURL}, nil
	}
	return NewPresignResolver(cfg)
}

// PrefixResolver joins storage keys onto a public base URL.
type PrefixResolver struct {
	BaseURL string
}

func (p PrefixResolver) Resolve(_ context.Context, r models.TaskResult) (string, error) {
	if isAbsolute(r.URL) {
		return r.URL, nil
	}

	key := strings.TrimLeft(resultKey(r), "/")
	if key == "" {
		return "", fmt.Errorf("%w: result has neither key nor url", shared.ErrInvalidInput)
	}
	if p.BaseURL == "" {
		return "/" + key, nil
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + key, nil
}

// PresignResolver signs storage keys against an S3 compatible bucket.
type PresignResolver struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewPresignResolver creates a minio client for cfg. Signing happens locally; no request is made.
func NewPresignResolver(cfg shared.StorageConfig) (*PresignResolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: storage.bucket is required", shared.ErrMissingConfig)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}

	return &PresignResolver{client: client, bucket: cfg.Bucket, expiry: cfg.PresignExpiry()}, nil
}

func (p *PresignResolver) Resolve(ctx context.Context, r models.TaskResult) (string, error) {
	if isAbsolute(r.URL) {
		return r.URL, nil
	}

	key := strings.TrimLeft(resultKey(r), "/")
	if key == "" {
		return "", fmt.Errorf("%w: result has neither key nor url", shared.ErrInvalidInput)
	}

	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// resultKey prefers the storage key and falls back to a relative URL.
func resultKey(r models.TaskResult) string {
	if r.Key != "" {
		return r.Key
	}
	return r.URL
}

func isAbsolute(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
