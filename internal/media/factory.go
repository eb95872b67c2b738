package media

import (
	"context"
	"fmt"

	"maxyourpoints/internal/config"
)

// NewStorageFromConfig 按 media.backend 创建存储后端。
func NewStorageFromConfig(ctx context.Context, cfg config.MediaConfig, publicURL string) (Storage, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStorage(cfg.LocalDir, publicURL)
	case "memory":
		return NewMemoryStorage(), nil
	case "gcs":
		return NewGCSStorage(ctx, cfg.GCS)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown media backend: %s", cfg.Backend)
	}
}
