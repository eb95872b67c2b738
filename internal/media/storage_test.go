package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxyourpoints/internal/config"
)

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocalStorage(dir, "https://cdn.example.com/")
	require.NoError(t, err)
	ctx := context.Background()
	assert.True(t, l.Ready(ctx))

	url, err := l.Put(ctx, "1-photo.png", bytes.NewReader([]byte("abc")), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/1-photo.png", url)
	data, err := os.ReadFile(filepath.Join(dir, "1-photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = l.Put(ctx, "2-short.png", bytes.NewReader([]byte("abc")), 10, "image/png")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "2-short.png"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = l.Put(ctx, "../escape.png", bytes.NewReader([]byte("x")), 1, "image/png")
	require.Error(t, err)

	require.NoError(t, l.Delete(ctx, "1-photo.png"))
	assert.ErrorIs(t, l.Delete(ctx, "1-photo.png"), ErrObjectNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestNewStorageFromConfig(t *testing.T) {
	ctx := context.Background()

	st, err := NewStorageFromConfig(ctx, config.MediaConfig{Backend: "local", LocalDir: t.TempDir()}, "")
	require.NoError(t, err)
	assert.Equal(t, "local", st.Name())

	st, err = NewStorageFromConfig(ctx, config.MediaConfig{Backend: "memory"}, "")
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Name())

	_, err = NewStorageFromConfig(ctx, config.MediaConfig{Backend: "gcs"}, "")
	require.Error(t, err, "gcs requires a bucket")

	_, err = NewStorageFromConfig(ctx, config.MediaConfig{Backend: "s3"}, "")
	require.Error(t, err, "s3 requires a bucket")

	_, err = NewStorageFromConfig(ctx, config.MediaConfig{Backend: "ftp"}, "")
	require.Error(t, err)
}

func TestS3StorageURL(t *testing.T) {
	st, err := NewS3Storage(context.Background(), config.S3Config{
		Bucket:          "media",
		Endpoint:        "http://localhost:9000/",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", st.Name())
	assert.Equal(t, "http://localhost:9000/media", st.publicBase)

	st, err = NewS3Storage(context.Background(), config.S3Config{Bucket: "media", Region: "eu-north-1", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://media.s3.eu-north-1.amazonaws.com", st.publicBase)
}
