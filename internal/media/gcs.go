package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"maxyourpoints/internal/config"
)

// GCSStorage 将媒体写入 Google Cloud Storage bucket。
type GCSStorage struct {
	client     *storage.Client
	bucket     string
	publicBase string
}

func NewGCSStorage(ctx context.Context, cfg config.GCSConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs media storage requires a bucket")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket, publicBase: base}, nil
}

func (g *GCSStorage) Name() string { return "gcs" }

func (g *GCSStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	written, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy upload to gs://%s/%s: %w", g.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", key, err)
	}
	if size >= 0 && written != size {
		_ = g.Delete(ctx, key)
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	return g.publicBase + "/" + key, nil
}

func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", g.bucket, key, err)
	}
	return nil
}

func (g *GCSStorage) Ready(ctx context.Context) bool {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	return err == nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
