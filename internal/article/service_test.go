package article

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/store"
	"maxyourpoints/internal/store/storetest"
)

type stubAuthors struct {
	id  string
	err error
}

func (s stubAuthors) ResolveAuthor(_ context.Context, _ *token.Claims) (string, error) {
	return s.id, s.err
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(h *store.Handle) *Service {
	fb := fallback.New(model.User{ID: "temp-admin-001", Name: "Isak Parild", Role: model.RoleSuperAdmin})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(h, fb, stubAuthors{id: "u-1"}, logger, WithClock(func() time.Time { return fixedNow }))
}

func seeded(t *testing.T) (*store.Handle, *Service) {
	t.Helper()
	h := storetest.NewHandle(t)
	storetest.SeedUser(t, h, "u-1", "editor@maxyourpoints.com", "Eddie Editor", model.RoleEditor)
	storetest.SeedCategory(t, h, "cat-1", "Airlines & Aviation", "airlines-and-aviation")
	storetest.SeedCategory(t, h, "cat-2", "Credit Cards & Points", "credit-cards-and-points")
	return h, newTestService(h)
}

func validInput(slug string) CreateInput {
	return CreateInput{
		Title:      "Best Lounges in Oslo",
		Slug:       slug,
		Summary:    "A tour of the lounges at OSL.",
		Content:    json.RawMessage(`{"type":"doc","content":[]}`),
		CategoryID: "cat-1",
		Tags:       []string{"lounges", " oslo ", "lounges"},
	}
}

func editor() *token.Claims {
	return &token.Claims{UserID: "u-1", Role: model.RoleEditor}
}

func ptr[T any](v T) *T { return &v }

func TestCreateDefaultsToDraft(t *testing.T) {
	_, svc := seeded(t)
	dto, err := svc.Create(context.Background(), validInput("best-lounges-oslo"), editor())
	require.NoError(t, err)

	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, model.StatusDraft, dto.Status)
	assert.Nil(t, dto.PublishedAt)
	assert.Equal(t, "u-1", dto.AuthorID)
	assert.Equal(t, "Eddie Editor", dto.AuthorName)
	require.NotNil(t, dto.CategoryID)
	assert.Equal(t, "cat-1", *dto.CategoryID)
	require.NotNil(t, dto.Category)
	assert.Equal(t, "airlines-and-aviation", dto.Category.Slug)
	assert.Equal(t, []string{"lounges", "oslo"}, dto.Tags)
	assert.JSONEq(t, `{"type":"doc","content":[]}`, string(dto.Content))
}

func TestCreatePublishedSetsPublishedAt(t *testing.T) {
	_, svc := seeded(t)
	in := validInput("published-now")
	in.Status = "published"
	dto, err := svc.Create(context.Background(), in, editor())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, dto.Status)
	require.NotNil(t, dto.PublishedAt)
	assert.WithinDuration(t, fixedNow, *dto.PublishedAt, time.Second)
}

func TestCreateStatusRules(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()

	in := validInput("draft-with-date")
	in.PublishedAt = ptr(fixedNow)
	_, err := svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("scheduled-past")
	in.Status = "SCHEDULED"
	in.PublishedAt = ptr(fixedNow.Add(-time.Hour))
	_, err = svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("bad-status")
	in.Status = "ARCHIVED"
	_, err = svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("scheduled-future")
	in.Status = "SCHEDULED"
	in.PublishedAt = ptr(fixedNow.Add(time.Hour))
	dto, err := svc.Create(ctx, in, editor())
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, dto.Status)
}

func TestCreateValidation(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()

	in := validInput("Bad Slug")
	_, err := svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("no-content")
	in.Content = nil
	_, err = svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("unknown-category")
	in.CategoryID = "cat-404"
	_, err = svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	in = validInput("")
	in.Title = "   "
	_, err = svc.Create(ctx, in, editor())
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Details, "title is required")
	assert.Contains(t, ae.Details, "slug is required")
}

func TestCreateDuplicateSlug(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, validInput("same-slug"), editor())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validInput("same-slug"), editor())
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCreateDisconnected(t *testing.T) {
	svc := newTestService(store.NewDisconnected("no dsn"))
	ctx := context.Background()

	_, err := svc.Create(ctx, validInput("offline"), editor())
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))

	// 校验错误优先于数据库不可用
	in := validInput("offline")
	in.Summary = ""
	_, err = svc.Create(ctx, in, editor())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Delete(ctx, "mock-1")
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))
	_, err = svc.Update(ctx, "mock-1", UpdateInput{Title: ptr("x")})
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))

	n, err := svc.PromoteDue(ctx, fixedNow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListAndGetFallback(t *testing.T) {
	svc := newTestService(store.NewDisconnected("no dsn"))
	ctx := context.Background()

	page, err := svc.List(ctx, model.ArticleFilter{})
	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Articles, 2)
	assert.Equal(t, "mock-1", page.Articles[0].ID)
	assert.False(t, page.HasMore)

	page, err = svc.List(ctx, model.ArticleFilter{Limit: 1})
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	dto, degraded, err := svc.Get(ctx, "mock-2")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, "mock-2", dto.ID)

	_, _, err = svc.Get(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListOrderingAndFilters(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()

	mk := func(slug, status, cat string, at *time.Time) {
		in := validInput(slug)
		in.Status = status
		in.CategoryID = cat
		in.PublishedAt = at
		_, err := svc.Create(ctx, in, editor())
		require.NoError(t, err)
	}
	mk("older", "PUBLISHED", "cat-1", ptr(fixedNow.Add(-48*time.Hour)))
	mk("newer", "PUBLISHED", "cat-2", ptr(fixedNow.Add(-24*time.Hour)))
	mk("a-draft", "", "cat-1", nil)
	mk("later", "SCHEDULED", "cat-2", ptr(fixedNow.Add(24*time.Hour)))

	page, err := svc.List(ctx, model.ArticleFilter{})
	require.NoError(t, err)
	assert.False(t, page.Degraded)
	assert.Equal(t, int64(4), page.Total)
	slugs := make([]string, 0, len(page.Articles))
	for _, a := range page.Articles {
		slugs = append(slugs, a.Slug)
	}
	assert.Equal(t, []string{"later", "newer", "older", "a-draft"}, slugs)

	page, err = svc.List(ctx, model.ArticleFilter{PublishedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = svc.List(ctx, model.ArticleFilter{Category: "credit-cards-and-points"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = svc.List(ctx, model.ArticleFilter{Category: "cat-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Articles, 1)
	assert.Equal(t, "a-draft", page.Articles[0].Slug)
	assert.False(t, page.HasMore)
}

func TestGetBySlugOrID(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validInput("lookup-me"), editor())
	require.NoError(t, err)

	bySlug, degraded, err := svc.Get(ctx, "lookup-me")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, created.ID, bySlug.ID)

	byID, _, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "lookup-me", byID.Slug)

	_, _, err = svc.Get(ctx, "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdatePartial(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validInput("to-update"), editor())
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, UpdateInput{
		Title:      ptr("New Title"),
		CategoryID: ptr("cat-2"),
		Tags:       &[]string{"fresh"},
	})
	require.NoError(t, err)
	assert.Equal(t, "New Title", updated.Title)
	assert.Equal(t, "to-update", updated.Slug)
	assert.Equal(t, created.Summary, updated.Summary)
	require.NotNil(t, updated.CategoryID)
	assert.Equal(t, "cat-2", *updated.CategoryID)
	assert.Equal(t, []string{"fresh"}, updated.Tags)

	// 发布并使用当前时间
	updated, err = svc.Update(ctx, created.ID, UpdateInput{Status: ptr("PUBLISHED")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, updated.Status)
	require.NotNil(t, updated.PublishedAt)

	// 退回草稿清空发布时间
	updated, err = svc.Update(ctx, created.ID, UpdateInput{Status: ptr("DRAFT")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, updated.Status)
	assert.Nil(t, updated.PublishedAt)

	_, err = svc.Update(ctx, created.ID, UpdateInput{PublishedAt: model.OptionalTime{Set: true, Value: ptr(fixedNow)}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Update(ctx, created.ID, UpdateInput{CategoryID: ptr("cat-404")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Update(ctx, "missing", UpdateInput{Title: ptr("x")})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	unchanged, err := svc.Update(ctx, created.ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, "New Title", unchanged.Title)
}

func TestUpdateScheduledNeedsFutureTime(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validInput("schedule-me"), editor())
	require.NoError(t, err)

	// 草稿没有发布时间，改为 SCHEDULED 必须同时给出未来时间
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: ptr("SCHEDULED")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Update(ctx, created.ID, UpdateInput{
		Status:      ptr("SCHEDULED"),
		PublishedAt: model.OptionalTime{Set: true, Value: ptr(fixedNow.Add(-time.Minute))},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Update(ctx, created.ID, UpdateInput{
		Status:      ptr("SCHEDULED"),
		PublishedAt: model.OptionalTime{Set: true, Value: ptr(fixedNow)},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// 已发布文章沿用原发布时间（不晚于当前），同样被拒绝
	published, err := svc.Update(ctx, created.ID, UpdateInput{Status: ptr("PUBLISHED")})
	require.NoError(t, err)
	_, err = svc.Update(ctx, created.ID, UpdateInput{Status: ptr("SCHEDULED")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	after, _, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *published, *after)

	future := fixedNow.Add(2 * time.Hour)
	scheduled, err := svc.Update(ctx, created.ID, UpdateInput{
		Status:      ptr("SCHEDULED"),
		PublishedAt: model.OptionalTime{Set: true, Value: &future},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, scheduled.Status)
	require.NotNil(t, scheduled.PublishedAt)
	assert.WithinDuration(t, future, *scheduled.PublishedAt, time.Millisecond)
}

func TestEmptyUpdateLeavesArticleUnchanged(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	in := validInput("round-trip")
	in.Status = "PUBLISHED"
	in.HeroImageURL = "https://cdn.example.com/oslo.jpg"
	in.MetaDescription = "Oslo lounges"
	in.FeaturedMain = true
	created, err := svc.Create(ctx, in, editor())
	require.NoError(t, err)

	before, _, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)

	returned, err := svc.Update(ctx, created.ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, *before, *returned)

	after, _, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *before, *after)

	// 写入与当前值相同的字段不应报告文章不存在
	same, err := svc.Update(ctx, created.ID, UpdateInput{Title: ptr(before.Title), Summary: ptr(before.Summary)})
	require.NoError(t, err)
	assert.Equal(t, before.Title, same.Title)
	same, err = svc.Update(ctx, created.ID, UpdateInput{Title: ptr(before.Title), Summary: ptr(before.Summary)})
	require.NoError(t, err)
	assert.Equal(t, before.Summary, same.Summary)
}

func TestFeaturedFlags(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	in := validInput("featured")
	in.FeaturedMain = true
	created, err := svc.Create(ctx, in, editor())
	require.NoError(t, err)
	assert.True(t, created.FeaturedMain)
	assert.False(t, created.FeaturedCategory)

	updated, err := svc.Update(ctx, created.ID, UpdateInput{FeaturedMain: ptr(false), FeaturedCategory: ptr(true)})
	require.NoError(t, err)
	assert.False(t, updated.FeaturedMain)
	assert.True(t, updated.FeaturedCategory)

	// 未出现的标志保持不变
	updated, err = svc.Update(ctx, created.ID, UpdateInput{Title: ptr("Still featured")})
	require.NoError(t, err)
	assert.True(t, updated.FeaturedCategory)
}

func TestUpdateSlugConflict(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, validInput("first"), editor())
	require.NoError(t, err)
	second, err := svc.Create(ctx, validInput("second"), editor())
	require.NoError(t, err)

	_, err = svc.Update(ctx, second.ID, UpdateInput{Slug: ptr("first")})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	same, err := svc.Update(ctx, second.ID, UpdateInput{Slug: ptr("second")})
	require.NoError(t, err)
	assert.Equal(t, "second", same.Slug)
}

func TestDeleteArticle(t *testing.T) {
	h, svc := seeded(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validInput("bye"), editor())
	require.NoError(t, err)

	id, err := svc.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	var joins int64
	require.NoError(t, h.DB().Model(&model.ArticleCategory{}).Where("article_id = ?", created.ID).Count(&joins).Error)
	assert.Zero(t, joins)

	_, err = svc.Delete(ctx, created.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPromoteDue(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()

	in := validInput("soon")
	in.Status = "SCHEDULED"
	in.PublishedAt = ptr(fixedNow.Add(time.Hour))
	created, err := svc.Create(ctx, in, editor())
	require.NoError(t, err)

	n, err := svc.PromoteDue(ctx, fixedNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.PromoteDue(ctx, fixedNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, got.Status)
}

func TestCreateAuthorFailure(t *testing.T) {
	h, _ := seeded(t)
	fb := fallback.New(model.User{ID: "temp-admin-001"})
	svc := NewService(h, fb, stubAuthors{err: apperr.Unauthorized("User no longer exists")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Create(context.Background(), validInput("orphan"), editor())
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
