// Package category 提供只读的分类查询，以及默认分类的初始化。
package category

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/store"
)

const articleCountSelect = "categories.*, (SELECT COUNT(*) FROM article_categories WHERE article_categories.category_id = categories.id) AS article_count"

type Service struct {
	store    *store.Handle
	fallback *fallback.Provider
	logger   *slog.Logger
}

func NewService(h *store.Handle, fb *fallback.Provider, logger *slog.Logger) *Service {
	return &Service{store: h, fallback: fb, logger: logger}
}

// List 返回全部分类（按名称排序）及文章数。
func (s *Service) List(ctx context.Context) ([]model.CategoryDTO, bool, error) {
	var cats []model.Category
	degraded := false
	if s.store.Connected() {
		err := s.store.DB().WithContext(ctx).
			Model(&model.Category{}).
			Select(articleCountSelect).
			Order("categories.name ASC").
			Find(&cats).Error
		if err != nil {
			return nil, false, apperr.Internal("list categories failed", err)
		}
	} else {
		cats = s.fallback.Categories()
		degraded = true
		metrics.FallbackServedTotal.WithLabelValues("categories").Inc()
	}
	out := make([]model.CategoryDTO, 0, len(cats))
	for i := range cats {
		out = append(out, model.NewCategoryDTO(&cats[i]))
	}
	return out, degraded, nil
}

// Get 按 slug 或 id 查询分类。
func (s *Service) Get(ctx context.Context, slugOrID string) (*model.CategoryDTO, bool, error) {
	if !s.store.Connected() {
		c, ok := s.fallback.FindCategory(slugOrID)
		if !ok {
			return nil, true, apperr.NotFound("Category not found")
		}
		metrics.FallbackServedTotal.WithLabelValues("categories").Inc()
		dto := model.NewCategoryDTO(c)
		return &dto, true, nil
	}
	var c model.Category
	err := s.store.DB().WithContext(ctx).
		Model(&model.Category{}).
		Select(articleCountSelect).
		Where("categories.slug = ? OR categories.id = ?", slugOrID, slugOrID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.NotFound("Category not found")
	}
	if err != nil {
		return nil, false, apperr.Internal("query category failed", err)
	}
	dto := model.NewCategoryDTO(&c)
	return &dto, false, nil
}

// Exists 判断分类 ID 是否存在。
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.store.DB().WithContext(ctx).Model(&model.Category{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeedDefaults 写入缺失的默认分类（按 slug 判断），返回新增数量。
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	if !s.store.Connected() {
		return 0, apperr.ServiceUnavailable("Database not available", "seeding categories requires a database connection")
	}
	created := 0
	for _, c := range s.fallback.Categories() {
		var existing model.Category
		err := s.store.DB().WithContext(ctx).Where("slug = ?", c.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, apperr.Internal("query category failed", err)
		}
		row := model.Category{
			ID:          c.ID,
			Name:        c.Name,
			Slug:        c.Slug,
			Description: c.Description,
			Featured:    c.Featured,
		}
		if err := s.store.DB().WithContext(ctx).Create(&row).Error; err != nil {
			if store.IsDuplicateKey(err) {
				continue
			}
			return created, apperr.Internal("create category failed", err)
		}
		created++
	}
	if created > 0 {
		s.logger.Info("default categories seeded", slog.Int("created", created))
	}
	return created, nil
}
