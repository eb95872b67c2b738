package article

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"maxyourpoints/internal/model"
)

// ErrNotFound 文章不存在。
var ErrNotFound = errors.New("article not found")

// Repository 文章持久化接口。
type Repository interface {
	List(ctx context.Context, filter model.ArticleFilter) ([]model.Article, int64, error)
	FindBySlugOrID(ctx context.Context, key string) (*model.Article, error)
	FindByID(ctx context.Context, id string) (*model.Article, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	CategoryExists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, a *model.Article, categoryID string) error
	Update(ctx context.Context, a *model.Article, columns []string, categoryID *string) error
	Delete(ctx context.Context, id string) error
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
}

// GormRepository 基于 GORM 的实现，兼容 MySQL 与 SQLite。
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// publishedOrder: published_at 降序且空值最后，再按 created_at 降序。
const publishedOrder = "CASE WHEN articles.published_at IS NULL THEN 1 ELSE 0 END, articles.published_at DESC, articles.created_at DESC"

func (r *GormRepository) filtered(ctx context.Context, f model.ArticleFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.Article{})
	if f.PublishedOnly {
		q = q.Where("articles.status = ?", model.StatusPublished)
	}
	if f.Category != "" {
		sub := r.db.WithContext(ctx).
			Table("article_categories").
			Select("article_categories.article_id").
			Joins("JOIN categories ON categories.id = article_categories.category_id").
			Where("categories.slug = ? OR categories.id = ?", f.Category, f.Category)
		q = q.Where("articles.id IN (?)", sub)
	}
	return q
}

// List 并发执行 count 与分页查询。
func (r *GormRepository) List(ctx context.Context, filter model.ArticleFilter) ([]model.Article, int64, error) {
	f := filter.Normalize()
	var (
		total    int64
		articles []model.Article
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.filtered(gctx, f).Count(&total).Error
	})
	g.Go(func() error {
		return r.filtered(gctx, f).
			Preload("Author").
			Preload("Categories").
			Order(publishedOrder).
			Limit(f.Limit).
			Offset(f.Offset).
			Find(&articles).Error
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return articles, total, nil
}

func (r *GormRepository) first(ctx context.Context, query string, args ...any) (*model.Article, error) {
	var a model.Article
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Categories").
		Where(query, args...).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormRepository) FindBySlugOrID(ctx context.Context, key string) (*model.Article, error) {
	return r.first(ctx, "articles.slug = ? OR articles.id = ?", key, key)
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*model.Article, error) {
	return r.first(ctx, "articles.id = ?", id)
}

func (r *GormRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Article{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *GormRepository) CategoryExists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Category{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create 在事务中写入文章及其分类关联。
func (r *GormRepository) Create(ctx context.Context, a *model.Article, categoryID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
			return err
		}
		return tx.Create(&model.ArticleCategory{ArticleID: a.ID, CategoryID: categoryID}).Error
	})
}

// Update 只写入 columns 中列出的字段；categoryID 非空时替换分类关联。
// 调用方需先确认文章存在。MySQL 的 RowsAffected 只统计实际变化的行，这里不据此判断是否存在。
func (r *GormRepository) Update(ctx context.Context, a *model.Article, columns []string, categoryID *string) error {
	row := *a
	row.Author = nil
	row.Categories = nil
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(columns) > 0 {
			if err := tx.Model(&row).Select(columns).Omit(clause.Associations).Updates(&row).Error; err != nil {
				return err
			}
		}
		if categoryID != nil {
			if err := tx.Where("article_id = ?", a.ID).Delete(&model.ArticleCategory{}).Error; err != nil {
				return err
			}
			if err := tx.Create(&model.ArticleCategory{ArticleID: a.ID, CategoryID: *categoryID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除文章及其分类关联。
func (r *GormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("article_id = ?", id).Delete(&model.ArticleCategory{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Article{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// PromoteDue 将到期的 SCHEDULED 文章改为 PUBLISHED。
func (r *GormRepository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Article{}).
		Where("status = ? AND published_at IS NOT NULL AND published_at <= ?", model.StatusScheduled, now).
		Updates(map[string]any{"status": model.StatusPublished, "updated_at": now})
	return res.RowsAffected, res.Error
}
