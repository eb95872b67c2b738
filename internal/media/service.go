package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/store"
)

// DefaultMaxUploadBytes 单文件上限 20MB。
const DefaultMaxUploadBytes int64 = 20 << 20

const sniffLen = 3072

// AllowedTypes 允许上传的图片类型。
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/heic",
	"image/heif",
}

// UploadInput 一次上传的文件与描述信息。Size 为 multipart 头中的字节数。
type UploadInput struct {
	File         io.Reader
	OriginalName string
	Size         int64
	Metadata     model.MediaMetadata
}

// UploadResult 上传结果。Persisted 为 false 表示元数据未写入数据库。
type UploadResult struct {
	URL       string
	File      model.MediaDTO
	Persisted bool
}

// Status 上传子系统状态。
type Status struct {
	Backend            string   `json:"backend"`
	StorageReady       bool     `json:"storageReady"`
	DatabaseConnection bool     `json:"databaseConnection"`
	MaxFileSize        string   `json:"maxFileSize"`
	MaxFileSizeBytes   int64    `json:"maxFileSizeBytes"`
	AllowedTypes       []string `json:"allowedTypes"`
}

type Service struct {
	store    *store.Handle
	storage  Storage
	fallback *fallback.Provider
	logger   *slog.Logger
	maxBytes int64
	now      func() time.Time
}

type Option func(*Service)

func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(h *store.Handle, storage Storage, fb *fallback.Provider, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    h,
		storage:  storage,
		fallback: fb,
		logger:   logger,
		maxBytes: DefaultMaxUploadBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes 返回单文件上限。
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// TooLarge 返回超出上限时的校验错误。
func (s *Service) TooLarge() error {
	return apperr.Validation("File too large", fmt.Sprintf("maximum upload size is %s", humanSize(s.maxBytes)))
}

func humanSize(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// storageName 生成 "<毫秒时间戳>-<slug><ext>" 形式的文件名。
func storageName(original, ext string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	if slug == "" {
		slug = "file"
	}
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), slug, ext)
}

func allowed(mt *mimetype.MIME) bool {
	for _, t := range AllowedTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

// Upload 校验大小与类型后写入存储，再尝试保存元数据。
// 数据库不可用时文件仍然保存，返回 Persisted=false 与临时 ID。
func (s *Service) Upload(ctx context.Context, in UploadInput, caller *token.Claims) (*UploadResult, error) {
	if in.File == nil {
		return nil, apperr.Validation("No file provided", "Please select a file to upload")
	}
	if in.Size > s.maxBytes {
		return nil, s.TooLarge()
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.File, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperr.Validation("Failed to read upload", err.Error())
	}
	head = head[:n]
	if n == 0 {
		return nil, apperr.Validation("No file provided", "The uploaded file is empty")
	}
	mt := mimetype.Detect(head)
	if !allowed(mt) {
		return nil, apperr.Validation("Invalid file type", "Only JPEG, PNG, WebP, GIF, and HEIC files are allowed")
	}
	mimeType := strings.SplitN(mt.String(), ";", 2)[0]

	now := s.now()
	key := storageName(in.OriginalName, mt.Extension(), now)
	body := &limitedReader{r: io.MultiReader(bytes.NewReader(head), in.File), remaining: s.maxBytes}
	size := in.Size
	if size <= 0 {
		size = -1
	}
	url, err := s.storage.Put(ctx, key, body, size, mimeType)
	if err != nil {
		if body.exceeded {
			return nil, s.TooLarge()
		}
		return nil, apperr.Internal("Failed to upload file", err)
	}

	meta := normalizeMetadata(in.Metadata, in.OriginalName)
	asset := &model.MediaAsset{
		FileName:     key,
		OriginalName: in.OriginalName,
		StorageKey:   key,
		Backend:      s.storage.Name(),
		PublicURL:    url,
		MimeType:     mimeType,
		FileSize:     body.read,
		AltText:      meta.AltText,
		Caption:      meta.Caption,
		Title:        meta.Title,
		Category:     meta.Category,
		Tags:         meta.Tags,
	}
	if caller != nil {
		asset.UploadedBy = caller.UserID
	}
	metrics.MediaUploadBytes.Observe(float64(asset.FileSize))

	if !s.store.Connected() {
		asset.ID = "temp-" + uuid.NewString()
		asset.CreatedAt, asset.UpdatedAt = now, now
		s.logger.Warn("media stored without metadata, database unavailable",
			slog.String("key", key),
			slog.String("backend", asset.Backend))
		return &UploadResult{URL: url, File: model.NewMediaDTO(asset), Persisted: false}, nil
	}

	if err := s.store.DB().WithContext(ctx).Create(asset).Error; err != nil {
		if derr := s.storage.Delete(ctx, key); derr != nil && !errors.Is(derr, ErrObjectNotFound) {
			s.logger.Error("remove orphaned upload failed", slog.String("key", key), slog.String("error", derr.Error()))
		}
		return nil, apperr.Internal("Failed to save media metadata", err)
	}
	s.logger.Info("media uploaded",
		slog.String("id", asset.ID),
		slog.String("key", key),
		slog.String("mime", mimeType),
		slog.Int64("size", asset.FileSize))
	return &UploadResult{URL: url, File: model.NewMediaDTO(asset), Persisted: true}, nil
}

func normalizeMetadata(m model.MediaMetadata, original string) model.MediaMetadata {
	m.AltText = strings.TrimSpace(m.AltText)
	m.Title = strings.TrimSpace(m.Title)
	m.Caption = strings.TrimSpace(m.Caption)
	m.Category = strings.TrimSpace(m.Category)
	if m.AltText == "" {
		m.AltText = original
	}
	if m.Title == "" {
		m.Title = original
	}
	if m.Category == "" {
		m.Category = "general"
	}
	tags := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	m.Tags = tags
	return m
}

// List 返回媒体列表（最新在前）；数据库不可用时返回兜底数据。
func (s *Service) List(ctx context.Context) ([]model.MediaDTO, bool, error) {
	var assets []model.MediaAsset
	degraded := false
	if s.store.Connected() {
		if err := s.store.DB().WithContext(ctx).Order("created_at DESC").Find(&assets).Error; err != nil {
			return nil, false, apperr.Internal("Failed to fetch media", err)
		}
	} else {
		assets = s.fallback.Media()
		degraded = true
		metrics.FallbackServedTotal.WithLabelValues("media").Inc()
	}
	out := make([]model.MediaDTO, 0, len(assets))
	for i := range assets {
		out = append(out, model.NewMediaDTO(&assets[i]))
	}
	return out, degraded, nil
}

// Delete 删除元数据记录与存储对象。
func (s *Service) Delete(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Validation("Media id is required")
	}
	if !s.store.Connected() {
		return "", apperr.ServiceUnavailable("Database not available", "Cannot delete media while the database is disconnected")
	}
	var asset model.MediaAsset
	err := s.store.DB().WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("Media not found")
	}
	if err != nil {
		return "", apperr.Internal("Failed to delete media", err)
	}
	if err := s.store.DB().WithContext(ctx).Delete(&model.MediaAsset{}, "id = ?", id).Error; err != nil {
		return "", apperr.Internal("Failed to delete media", err)
	}

	if asset.Backend != s.storage.Name() {
		s.logger.Warn("media object left in place, backend changed",
			slog.String("id", id),
			slog.String("backend", asset.Backend))
		return id, nil
	}
	if err := s.storage.Delete(ctx, asset.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.logger.Error("delete media object failed",
			slog.String("id", id),
			slog.String("key", asset.StorageKey),
			slog.String("error", err.Error()))
	}
	s.logger.Info("media deleted", slog.String("id", id))
	return id, nil
}

// Status 报告上传子系统状态。
func (s *Service) Status(ctx context.Context) Status {
	return Status{
		Backend:            s.storage.Name(),
		StorageReady:       s.storage.Ready(ctx),
		DatabaseConnection: s.store.Connected(),
		MaxFileSize:        humanSize(s.maxBytes),
		MaxFileSizeBytes:   s.maxBytes,
		AllowedTypes:       append([]string(nil), AllowedTypes...),
	}
}

// limitedReader 超过上限时返回错误，防止 Size 与实际内容不一致。
type limitedReader struct {
	r         io.Reader
	remaining int64
	read      int64
	exceeded  bool
}

var errTooLarge = errors.New("upload exceeds size limit")

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			l.exceeded = true
			return 0, errTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	l.remaining -= int64(n)
	return n, err
}
