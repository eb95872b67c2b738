package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// CategoryRef is the compact category embedded in article payloads.
type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ArticleDTO is the one shape every article response uses, live or degraded.
type ArticleDTO struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Slug             string          `json:"slug"`
	Summary          string          `json:"summary"`
	Content          json.RawMessage `json:"content"`
	HeroImageURL     string          `json:"heroImageUrl"`
	HeroImageAlt     string          `json:"heroImageAlt"`
	CategoryID       *string         `json:"categoryId"`
	Category         *CategoryRef    `json:"category"`
	Status           ArticleStatus   `json:"status"`
	PublishedAt      *time.Time      `json:"publishedAt"`
	MetaDescription  string          `json:"metaDescription"`
	FocusKeyword     string          `json:"focusKeyword"`
	Tags             []string        `json:"tags"`
	FeaturedMain     bool            `json:"featuredMain"`
	FeaturedCategory bool            `json:"featuredCategory"`
	AuthorID         string          `json:"authorId"`
	AuthorName       string          `json:"authorName"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewArticleDTO 将数据库实体（或兜底数据）转换为统一输出结构。
func NewArticleDTO(a *Article) ArticleDTO {
	dto := ArticleDTO{
		ID:               a.ID,
		Title:            a.Title,
		Slug:             a.Slug,
		Summary:          a.Summary,
		Content:          ContentJSON(a.Content),
		HeroImageURL:     a.HeroImageURL,
		HeroImageAlt:     a.HeroImageAlt,
		Status:           a.Status,
		PublishedAt:      a.PublishedAt,
		MetaDescription:  a.MetaDescription,
		FocusKeyword:     a.FocusKeyword,
		Tags:             a.Tags,
		FeaturedMain:     a.FeaturedMain,
		FeaturedCategory: a.FeaturedCategory,
		AuthorID:         a.AuthorID,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	if dto.Tags == nil {
		dto.Tags = []string{}
	}
	if a.Author != nil {
		dto.AuthorName = a.Author.Name
	}
	if len(a.Categories) > 0 {
		c := a.Categories[0]
		id := c.ID
		dto.CategoryID = &id
		dto.Category = &CategoryRef{ID: c.ID, Name: c.Name, Slug: c.Slug}
	}
	return dto
}

// ContentJSON returns stored content as raw JSON. Legacy plain-text bodies are
// emitted as JSON strings; empty content becomes null.
func ContentJSON(s string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}

// CategoryDTO 分类输出结构。
type CategoryDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Featured     bool      `json:"featured"`
	ArticleCount int64     `json:"articleCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewCategoryDTO(c *Category) CategoryDTO {
	return CategoryDTO{
		ID:           c.ID,
		Name:         c.Name,
		Slug:         c.Slug,
		Description:  c.Description,
		Featured:     c.Featured,
		ArticleCount: c.ArticleCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// MediaMetadata 上传时附带的描述信息。
type MediaMetadata struct {
	AltText  string   `json:"altText"`
	Caption  string   `json:"caption"`
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// MediaDTO 媒体文件输出结构。
type MediaDTO struct {
	ID           string        `json:"id"`
	FileName     string        `json:"fileName"`
	OriginalName string        `json:"originalName"`
	PublicURL    string        `json:"publicUrl"`
	MimeType     string        `json:"mimeType"`
	FileSize     int64         `json:"fileSize"`
	Backend      string        `json:"backend"`
	Metadata     MediaMetadata `json:"metadata"`
	UploadedBy   string        `json:"uploadedBy"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func NewMediaDTO(m *MediaAsset) MediaDTO {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return MediaDTO{
		ID:           m.ID,
		FileName:     m.FileName,
		OriginalName: m.OriginalName,
		PublicURL:    m.PublicURL,
		MimeType:     m.MimeType,
		FileSize:     m.FileSize,
		Backend:      m.Backend,
		Metadata: MediaMetadata{
			AltText:  m.AltText,
			Caption:  m.Caption,
			Title:    m.Title,
			Category: m.Category,
			Tags:     tags,
		},
		UploadedBy: m.UploadedBy,
		CreatedAt:  m.CreatedAt,
	}
}

// OptionalTime distinguishes an absent JSON field from an explicit null.
// Set is true whenever the key was present in the payload.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}
