// Package article 实现文章的查询与写入规则。
//
// 读操作在数据库不可用时回落到兜底数据；写操作在校验通过后才检查数据库可用性。
package article

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/pkg/validate"
	"maxyourpoints/internal/store"
)

// AuthorResolver 将令牌身份解析为数据库中的作者 ID。
type AuthorResolver interface {
	ResolveAuthor(ctx context.Context, claims *token.Claims) (string, error)
}

// Page 文章列表结果。
type Page struct {
	Articles []model.ArticleDTO
	Total    int64
	HasMore  bool
	Degraded bool
}

type Service struct {
	store    *store.Handle
	repo     Repository
	fallback *fallback.Provider
	authors  AuthorResolver
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRepository 替换默认的 GORM 仓储。
func WithRepository(repo Repository) Option {
	return func(s *Service) { s.repo = repo }
}

func NewService(h *store.Handle, fb *fallback.Provider, authors AuthorResolver, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    h,
		fallback: fb,
		authors:  authors,
		logger:   logger,
		now:      time.Now,
	}
	if h.Connected() {
		s.repo = NewGormRepository(h.DB())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) available() bool {
	return s.store.Connected() && s.repo != nil
}

func errUnavailable(op string) error {
	return apperr.ServiceUnavailable("Database not available", "Cannot "+op+" articles while the database is disconnected")
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// List 分页查询文章。
func (s *Service) List(ctx context.Context, filter model.ArticleFilter) (*Page, error) {
	f := filter.Normalize()
	var (
		rows     []model.Article
		total    int64
		degraded bool
	)
	if s.available() {
		var err error
		rows, total, err = s.repo.List(ctx, f)
		if err != nil {
			return nil, apperr.Internal("Failed to fetch articles", err)
		}
	} else {
		rows, total = s.fallback.ListArticles(f)
		degraded = true
		metrics.FallbackServedTotal.WithLabelValues("articles").Inc()
	}
	out := make([]model.ArticleDTO, 0, len(rows))
	for i := range rows {
		out = append(out, model.NewArticleDTO(&rows[i]))
	}
	return &Page{
		Articles: out,
		Total:    total,
		HasMore:  int64(f.Offset+len(out)) < total,
		Degraded: degraded,
	}, nil
}

// Get 按 slug 或 id 查询单篇文章，第二个返回值表示是否来自兜底数据。
func (s *Service) Get(ctx context.Context, slugOrID string) (*model.ArticleDTO, bool, error) {
	if strings.TrimSpace(slugOrID) == "" {
		return nil, false, apperr.Validation("Article identifier is required")
	}
	if !s.available() {
		a, ok := s.fallback.FindArticle(slugOrID)
		if !ok {
			return nil, true, apperr.NotFound("Article not found")
		}
		metrics.FallbackServedTotal.WithLabelValues("articles").Inc()
		dto := model.NewArticleDTO(a)
		return &dto, true, nil
	}
	a, err := s.repo.FindBySlugOrID(ctx, slugOrID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, apperr.NotFound("Article not found")
	}
	if err != nil {
		return nil, false, apperr.Internal("Failed to fetch article", err)
	}
	dto := model.NewArticleDTO(a)
	return &dto, false, nil
}

// CreateInput 新建文章请求体。
type CreateInput struct {
	Title            string          `json:"title" validate:"required,notblank,max=200"`
	Slug             string          `json:"slug" validate:"required,slug,max=191"`
	Summary          string          `json:"summary" validate:"required,notblank,max=500"`
	Content          json.RawMessage `json:"content"`
	HeroImageURL     string          `json:"heroImageUrl" validate:"omitempty,max=1024"`
	HeroImageAlt     string          `json:"heroImageAlt" validate:"max=255"`
	CategoryID       string          `json:"categoryId" validate:"required,notblank"`
	Status           string          `json:"status"`
	PublishedAt      *time.Time      `json:"publishedAt"`
	MetaDescription  string          `json:"metaDescription" validate:"max=160"`
	FocusKeyword     string          `json:"focusKeyword" validate:"max=128"`
	Tags             []string        `json:"tags" validate:"max=20,dive,max=64"`
	FeaturedMain     bool            `json:"featuredMain"`
	FeaturedCategory bool            `json:"featuredCategory"`
}

// UpdateInput 部分更新请求体，nil 表示不修改。
type UpdateInput struct {
	Title            *string            `json:"title" validate:"omitempty,notblank,max=200"`
	Slug             *string            `json:"slug" validate:"omitempty,slug,max=191"`
	Summary          *string            `json:"summary" validate:"omitempty,notblank,max=500"`
	Content          json.RawMessage    `json:"content"`
	HeroImageURL     *string            `json:"heroImageUrl" validate:"omitempty,max=1024"`
	HeroImageAlt     *string            `json:"heroImageAlt" validate:"omitempty,max=255"`
	CategoryID       *string            `json:"categoryId" validate:"omitempty,notblank"`
	Status           *string            `json:"status"`
	PublishedAt      model.OptionalTime `json:"publishedAt"`
	MetaDescription  *string            `json:"metaDescription" validate:"omitempty,max=160"`
	FocusKeyword     *string            `json:"focusKeyword" validate:"omitempty,max=128"`
	Tags             *[]string          `json:"tags" validate:"omitempty,max=20"`
	FeaturedMain     *bool              `json:"featuredMain"`
	FeaturedCategory *bool              `json:"featuredCategory"`
}

func normalizeContent(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", apperr.Validation("validation failed", "content is required")
	}
	if !json.Valid(trimmed) {
		return "", apperr.Validation("validation failed", "content must be valid JSON")
	}
	return string(trimmed), nil
}

func parseStatus(raw string) (model.ArticleStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return model.StatusDraft, nil
	}
	st, ok := model.ParseArticleStatus(raw)
	if !ok {
		return "", apperr.Validation("validation failed", "status must be one of DRAFT, PUBLISHED, SCHEDULED")
	}
	return st, nil
}

// reconcilePublishedAt 根据状态确定最终的发布时间。
// explicit 表示调用方是否显式提供了 publishedAt。
func reconcilePublishedAt(status model.ArticleStatus, at *time.Time, explicit bool, now time.Time) (*time.Time, error) {
	switch status {
	case model.StatusDraft:
		if explicit && at != nil {
			return nil, apperr.Validation("validation failed", "publishedAt must be empty for draft articles")
		}
		return nil, nil
	case model.StatusScheduled:
		if at == nil || !at.After(now) {
			return nil, apperr.Validation("validation failed", "scheduled articles need a publishedAt in the future")
		}
		t := normalizeTime(*at)
		return &t, nil
	default:
		if at == nil {
			t := normalizeTime(now)
			return &t, nil
		}
		t := normalizeTime(*at)
		return &t, nil
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Create 校验并写入新文章。
func (s *Service) Create(ctx context.Context, in CreateInput, caller *token.Claims) (*model.ArticleDTO, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	content, err := normalizeContent(in.Content)
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(in.Status)
	if err != nil {
		return nil, err
	}
	publishedAt, err := reconcilePublishedAt(status, in.PublishedAt, in.PublishedAt != nil, s.now())
	if err != nil {
		return nil, err
	}
	if !s.available() {
		return nil, errUnavailable("create")
	}

	authorID, err := s.authors.ResolveAuthor(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}
	taken, err := s.repo.SlugExists(ctx, in.Slug)
	if err != nil {
		return nil, apperr.Internal("Failed to create article", err)
	}
	if taken {
		return nil, apperr.Conflict("An article with this slug already exists")
	}

	a := &model.Article{
		Title:            strings.TrimSpace(in.Title),
		Slug:             in.Slug,
		Summary:          strings.TrimSpace(in.Summary),
		Content:          content,
		HeroImageURL:     in.HeroImageURL,
		HeroImageAlt:     in.HeroImageAlt,
		Status:           status,
		PublishedAt:      publishedAt,
		MetaDescription:  in.MetaDescription,
		FocusKeyword:     in.FocusKeyword,
		Tags:             cleanTags(in.Tags),
		FeaturedMain:     in.FeaturedMain,
		FeaturedCategory: in.FeaturedCategory,
		AuthorID:         authorID,
	}
	if err := s.repo.Create(ctx, a, in.CategoryID); err != nil {
		if store.IsDuplicateKey(err) {
			return nil, apperr.Conflict("An article with this slug already exists")
		}
		return nil, apperr.Internal("Failed to create article", err)
	}
	s.logger.Info("article created", slog.String("id", a.ID), slog.String("slug", a.Slug), slog.String("status", string(status)))
	return s.reload(ctx, a.ID)
}

func (s *Service) checkCategory(ctx context.Context, id string) error {
	ok, err := s.repo.CategoryExists(ctx, id)
	if err != nil {
		return apperr.Internal("Failed to verify category", err)
	}
	if !ok {
		return apperr.Validation("validation failed", "categoryId does not reference an existing category")
	}
	return nil
}

func (s *Service) reload(ctx context.Context, id string) (*model.ArticleDTO, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("Failed to load article", err)
	}
	dto := model.NewArticleDTO(a)
	return &dto, nil
}

// Update 部分更新文章，只写入请求中出现的字段。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.ArticleDTO, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("Article id is required")
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var content *string
	if in.Content != nil {
		c, err := normalizeContent(in.Content)
		if err != nil {
			return nil, err
		}
		content = &c
	}
	var status *model.ArticleStatus
	if in.Status != nil {
		st, err := parseStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		status = &st
	}
	if !s.available() {
		return nil, errUnavailable("update")
	}

	current, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Article not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to update article", err)
	}

	a := *current
	columns := make([]string, 0, 12)
	set := func(col string) { columns = append(columns, col) }

	if in.Title != nil {
		a.Title = strings.TrimSpace(*in.Title)
		set("title")
	}
	if in.Slug != nil && *in.Slug != current.Slug {
		taken, err := s.repo.SlugExists(ctx, *in.Slug)
		if err != nil {
			return nil, apperr.Internal("Failed to update article", err)
		}
		if taken {
			return nil, apperr.Conflict("An article with this slug already exists")
		}
		a.Slug = *in.Slug
		set("slug")
	}
	if in.Summary != nil {
		a.Summary = strings.TrimSpace(*in.Summary)
		set("summary")
	}
	if content != nil {
		a.Content = *content
		set("content")
	}
	if in.HeroImageURL != nil {
		a.HeroImageURL = *in.HeroImageURL
		set("hero_image_url")
	}
	if in.HeroImageAlt != nil {
		a.HeroImageAlt = *in.HeroImageAlt
		set("hero_image_alt")
	}
	if in.MetaDescription != nil {
		a.MetaDescription = *in.MetaDescription
		set("meta_description")
	}
	if in.FocusKeyword != nil {
		a.FocusKeyword = *in.FocusKeyword
		set("focus_keyword")
	}
	if in.Tags != nil {
		a.Tags = cleanTags(*in.Tags)
		set("tags")
	}
	if in.FeaturedMain != nil {
		a.FeaturedMain = *in.FeaturedMain
		set("featured_main")
	}
	if in.FeaturedCategory != nil {
		a.FeaturedCategory = *in.FeaturedCategory
		set("featured_category")
	}
	if status != nil || in.PublishedAt.Set {
		newStatus := current.Status
		if status != nil {
			newStatus = *status
		}
		at := current.PublishedAt
		if in.PublishedAt.Set {
			at = in.PublishedAt.Value
		}
		// 未显式改发布时间且状态仍为 PUBLISHED 时保留原时间
		publishedAt, err := reconcilePublishedAt(newStatus, at, in.PublishedAt.Set, s.now())
		if err != nil {
			return nil, err
		}
		a.Status = newStatus
		a.PublishedAt = publishedAt
		set("status")
		set("published_at")
	}
	var categoryID *string
	if in.CategoryID != nil && !hasCategory(current, *in.CategoryID) {
		if err := s.checkCategory(ctx, *in.CategoryID); err != nil {
			return nil, err
		}
		categoryID = in.CategoryID
	}

	if len(columns) == 0 && categoryID == nil {
		dto := model.NewArticleDTO(current)
		return &dto, nil
	}
	a.UpdatedAt = s.now()
	set("updated_at")
	if err := s.repo.Update(ctx, &a, columns, categoryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Article not found")
		}
		if store.IsDuplicateKey(err) {
			return nil, apperr.Conflict("An article with this slug already exists")
		}
		return nil, apperr.Internal("Failed to update article", err)
	}
	s.logger.Info("article updated", slog.String("id", id), slog.Any("fields", columns))
	return s.reload(ctx, id)
}

func hasCategory(a *model.Article, id string) bool {
	return len(a.Categories) == 1 && a.Categories[0].ID == id
}

// Delete 删除文章，返回被删除的 id。
func (s *Service) Delete(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Validation("Article id is required")
	}
	if !s.available() {
		return "", errUnavailable("delete")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", apperr.NotFound("Article not found")
		}
		return "", apperr.Internal("Failed to delete article", err)
	}
	s.logger.Info("article deleted", slog.String("id", id))
	return id, nil
}

// PromoteDue 发布已到期的定时文章。数据库不可用时什么也不做。
func (s *Service) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	if !s.available() {
		return 0, nil
	}
	n, err := s.repo.PromoteDue(ctx, normalizeTime(now))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ArticlesPromotedTotal.Add(float64(n))
	}
	return n, nil
}
