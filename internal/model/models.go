package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArticleStatus 文章发布状态。
type ArticleStatus string

const (
	StatusDraft     ArticleStatus = "DRAFT"
	StatusPublished ArticleStatus = "PUBLISHED"
	StatusScheduled ArticleStatus = "SCHEDULED"
)

// ParseArticleStatus accepts any casing and returns the canonical uppercase form.
func ParseArticleStatus(s string) (ArticleStatus, bool) {
	st := ArticleStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusDraft, StatusPublished, StatusScheduled:
		return st, true
	}
	return "", false
}

// Article 表示一篇博客文章。
//
// 文章与分类是多对多关系（通过 article_categories 表关联），当前每篇文章只挂一个分类。
// Content 保存 TipTap 富文本 JSON 原文。
type Article struct {
	ID        string    `gorm:"primaryKey;size:36"` // 文章 ID (UUID)
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Title           string        `gorm:"size:200;not null"`                    // 标题
	Slug            string        `gorm:"type:varchar(191);uniqueIndex"`        // URL 标识（唯一）
	Summary         string        `gorm:"size:500"`                             // 摘要
	Content         string        `gorm:"type:text"`                            // 富文本 JSON
	HeroImageURL    string        `gorm:"size:1024"`                            // 头图
	HeroImageAlt    string        `gorm:"size:255"`                             // 头图替代文本
	Status          ArticleStatus `gorm:"type:varchar(16);index;default:DRAFT"` // DRAFT / PUBLISHED / SCHEDULED
	PublishedAt     *time.Time    `gorm:"index"`                                // 发布时间，草稿为空
	MetaDescription string        `gorm:"size:160"`                             // SEO 描述
	FocusKeyword    string        `gorm:"size:128"`                             // SEO 关键词
	Tags            []string      `gorm:"type:text;serializer:json"`            // 标签

	FeaturedMain     bool `gorm:"default:false"` // 首页推荐
	FeaturedCategory bool `gorm:"default:false"` // 分类页推荐

	AuthorID string `gorm:"size:36;index"`       // 作者 ID
	Author   *User  `gorm:"foreignKey:AuthorID"` // 作者

	Categories []Category `gorm:"many2many:article_categories"` // 所属分类
}

// BeforeCreate 在缺省时分配 UUID。
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Category 表示文章分类。分类在 API 中只读。
type Category struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CreatedAt   time.Time // 创建时间
	UpdatedAt   time.Time // 更新时间
	Name        string    `gorm:"size:128;not null"`
	Slug        string    `gorm:"type:varchar(191);uniqueIndex"`
	Description string    `gorm:"size:500"`
	Featured    bool      `gorm:"default:false"`

	ArticleCount int64 `gorm:"->;-:migration"` // 只读，由查询子句计算
}

// ArticleCategory 是文章与分类的关联表（多对多中间表）。
type ArticleCategory struct {
	ArticleID  string `gorm:"primaryKey;size:36"` // 文章 ID
	CategoryID string `gorm:"primaryKey;size:36"` // 分类 ID

	CreatedAt time.Time // 关联创建时间
}

// MediaAsset 表示一条已上传的媒体文件记录。
type MediaAsset struct {
	ID           string    `gorm:"primaryKey;size:36"`
	CreatedAt    time.Time // 上传时间
	UpdatedAt    time.Time
	FileName     string   `gorm:"size:255;not null"` // 存储文件名
	OriginalName string   `gorm:"size:255"`          // 原始文件名
	StorageKey   string   `gorm:"size:512"`          // 后端对象 key
	Backend      string   `gorm:"size:16"`           // local / gcs / s3
	PublicURL    string   `gorm:"size:1024"`         // 公开访问地址
	MimeType     string   `gorm:"size:64"`           // 探测到的 MIME
	FileSize     int64    // 字节数
	AltText      string   `gorm:"size:255"`
	Caption      string   `gorm:"size:500"`
	Title        string   `gorm:"size:255"`
	Category     string   `gorm:"size:64;default:general"`
	Tags         []string `gorm:"type:text;serializer:json"`
	UploadedBy   string   `gorm:"size:36;index"` // 上传者 ID
}

// BeforeCreate 在缺省时分配 UUID。
func (m *MediaAsset) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

const (
	DefaultArticleLimit = 10
	MaxArticleLimit     = 100
)

// ArticleFilter selects a page of articles.
type ArticleFilter struct {
	Category      string // slug or id
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Normalize clamps limit and offset into their accepted ranges.
func (f ArticleFilter) Normalize() ArticleFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultArticleLimit
	}
	if f.Limit > MaxArticleLimit {
		f.Limit = MaxArticleLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
