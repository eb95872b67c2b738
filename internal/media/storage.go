// Package media 负责图片上传的校验、对象存储与元数据持久化。
package media

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound 对象不存在。
var ErrObjectNotFound = errors.New("media object not found")

// Storage 是媒体文件的存储后端。key 为不含前缀的对象名。
type Storage interface {
	// Name 返回后端标识：local / gcs / s3 / memory。
	Name() string
	// Put 写入 size 字节并返回可公开访问的 URL。
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// Ready 报告后端是否可写。
	Ready(ctx context.Context) bool
}
