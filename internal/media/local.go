package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UploadsPath 本地后端文件的公开路由前缀。
const UploadsPath = "/uploads"

// LocalStorage 将文件写入本地目录，由 HTTP 服务以 /uploads 静态提供。
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage 创建目录并返回本地存储。baseURL 为空时返回相对 URL。
func NewLocalStorage(root, baseURL string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local media storage requires a directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStorage{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStorage) Name() string { return "local" }

// Root 返回存储目录。
func (l *LocalStorage) Root() string { return l.root }

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + key))
	if clean != key || clean == "." || clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

// Put 先写临时文件再原子改名，失败时不会留下半个文件。
func (l *LocalStorage) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	dest, err := l.path(key)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(l.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("rename upload: %w", err)
	}
	ok = true
	return l.baseURL + UploadsPath + "/" + key, nil
}

func (l *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func (l *LocalStorage) Ready(_ context.Context) bool {
	info, err := os.Stat(l.root)
	return err == nil && info.IsDir()
}
