// Package fallback 提供数据库不可用时的只读兜底数据。
//
// 兜底数据与数据库记录使用相同的 model 类型，经同一套 DTO 转换输出。
package fallback

import (
	"sort"
	"time"

	"maxyourpoints/internal/model"
)

// Provider 持有固定的兜底数据集，构造后只读。
type Provider struct {
	articles   []model.Article
	categories []model.Category
	users      []model.User
	media      []model.MediaAsset
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// New 构造兜底数据。bootstrap 为内置管理员，作为唯一的兜底用户。
func New(bootstrap model.User) *Provider {
	epoch := day(2024, 1, 1)
	categories := []model.Category{
		{ID: "cat-1", Name: "Credit Cards & Points", Slug: "credit-cards-and-points", Description: "Maximize your credit card rewards and points earning potential", Featured: true, CreatedAt: epoch, UpdatedAt: epoch},
		{ID: "cat-2", Name: "Airlines & Aviation", Slug: "airlines-and-aviation", Description: "Flight reviews, airline news, and aviation insights", Featured: true, CreatedAt: epoch, UpdatedAt: epoch},
		{ID: "cat-3", Name: "Hotels & Trip Reports", Slug: "hotels-and-trip-reports", Description: "Hotel reviews and detailed trip reports", CreatedAt: epoch, UpdatedAt: epoch},
		{ID: "cat-4", Name: "Travel Hacks & Deals", Slug: "travel-hacks-and-deals", Description: "Money-saving travel tips and exclusive deals", CreatedAt: epoch, UpdatedAt: epoch},
	}
	team := &model.User{ID: "team-maxyourpoints", Name: "Max Your Points Team", Role: model.RoleEditor}

	articles := []model.Article{
		{
			ID:              "mock-1",
			Title:           "How to Maximize Your Credit Card Points",
			Slug:            "maximize-credit-card-points",
			Summary:         "Learn the best strategies to earn and redeem credit card points for maximum value.",
			Content:         paragraphDoc("This is a sample article about maximizing credit card points..."),
			HeroImageURL:    "/travel-rewards-cards.png",
			HeroImageAlt:    "Travel rewards credit cards",
			Status:          model.StatusPublished,
			PublishedAt:     ptr(day(2024, 1, 15)),
			MetaDescription: "Learn how to maximize your credit card points and get the most value from your travel rewards.",
			Tags:            []string{},
			AuthorID:        team.ID,
			Author:          team,
			Categories:      []model.Category{categories[0]},
			CreatedAt:       day(2024, 1, 15),
			UpdatedAt:       day(2024, 1, 15),
		},
		{
			ID:              "mock-2",
			Title:           "Best First Class Flight Experiences of 2024",
			Slug:            "best-first-class-flights-2024",
			Summary:         "Discover the most luxurious first class flight experiences you can book with points.",
			Content:         paragraphDoc("This is a sample article about first class flights..."),
			HeroImageURL:    "/first-class-cabin.png",
			HeroImageAlt:    "First class cabin",
			Status:          model.StatusPublished,
			PublishedAt:     ptr(day(2024, 1, 10)),
			MetaDescription: "Explore the best first class flight experiences and learn how to book them with points.",
			Tags:            []string{},
			AuthorID:        team.ID,
			Author:          team,
			Categories:      []model.Category{categories[1]},
			CreatedAt:       day(2024, 1, 10),
			UpdatedAt:       day(2024, 1, 10),
		},
	}
	for i := range categories {
		for _, a := range articles {
			if len(a.Categories) > 0 && a.Categories[0].ID == categories[i].ID {
				categories[i].ArticleCount++
			}
		}
	}

	media := []model.MediaAsset{{
		ID:           "1",
		FileName:     "sample-image.jpg",
		OriginalName: "sample-image.jpg",
		PublicURL:    "/images/placeholder.jpg",
		MimeType:     "image/jpeg",
		FileSize:     1024000,
		Backend:      "local",
		AltText:      "Sample image",
		Caption:      "A sample placeholder image",
		Title:        "Sample Image",
		Category:     "general",
		Tags:         []string{"sample", "placeholder"},
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}}

	return &Provider{
		articles:   articles,
		categories: categories,
		users:      []model.User{bootstrap},
		media:      media,
	}
}

func paragraphDoc(text string) string {
	return `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"` + text + `"}]}]}`
}

// ListArticles 按与数据库查询相同的规则过滤、排序和分页。
func (p *Provider) ListArticles(filter model.ArticleFilter) ([]model.Article, int64) {
	f := filter.Normalize()
	matched := make([]model.Article, 0, len(p.articles))
	for _, a := range p.articles {
		if f.PublishedOnly && a.Status != model.StatusPublished {
			continue
		}
		if f.Category != "" && !inCategory(a, f.Category) {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return articleLess(matched[i], matched[j])
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []model.Article{}, total
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end], total
}

// articleLess: published_at 降序（空值最后），再按 created_at 降序。
func articleLess(a, b model.Article) bool {
	switch {
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return true
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return false
	case a.PublishedAt != nil && b.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func inCategory(a model.Article, key string) bool {
	for _, c := range a.Categories {
		if c.Slug == key || c.ID == key {
			return true
		}
	}
	return false
}

// FindArticle 按 slug 或 id 查找。
func (p *Provider) FindArticle(slugOrID string) (*model.Article, bool) {
	for i := range p.articles {
		if p.articles[i].Slug == slugOrID || p.articles[i].ID == slugOrID {
			a := p.articles[i]
			return &a, true
		}
	}
	return nil, false
}

// Categories 返回按名称排序的分类副本。
func (p *Provider) Categories() []model.Category {
	out := append([]model.Category(nil), p.categories...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *Provider) FindCategory(slugOrID string) (*model.Category, bool) {
	for i := range p.categories {
		if p.categories[i].Slug == slugOrID || p.categories[i].ID == slugOrID {
			c := p.categories[i]
			return &c, true
		}
	}
	return nil, false
}

func (p *Provider) Users() []model.User {
	return append([]model.User(nil), p.users...)
}

func (p *Provider) FindUser(id string) (*model.User, bool) {
	for i := range p.users {
		if p.users[i].ID == id {
			u := p.users[i]
			return &u, true
		}
	}
	return nil, false
}

func (p *Provider) Media() []model.MediaAsset {
	return append([]model.MediaAsset(nil), p.media...)
}
