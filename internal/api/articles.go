package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/middleware"
	"maxyourpoints/internal/api/response"
	"maxyourpoints/internal/article"
	"maxyourpoints/internal/model"
)

// handleListArticles 分页查询文章。published 缺省为 true，后台传 published=false 查看全部。
//
// GET /api/articles?category=&published=&limit=&offset=
func (s *Server) handleListArticles(c *gin.Context) {
	filter := model.ArticleFilter{
		Category:      c.Query("category"),
		PublishedOnly: parseQueryBool(c, "published", true),
		Limit:         parseQueryInt(c, "limit", model.DefaultArticleLimit),
		Offset:        parseQueryInt(c, "offset", 0),
	}
	page, err := s.articles.List(c.Request.Context(), filter)
	if err != nil {
		// 列表失败时仍返回空结构，前端无需区分
		status, body := response.Build(c, s.logger, err, s.verbose)
		c.AbortWithStatusJSON(status, gin.H{
			"error":    body.Error,
			"message":  body.Message,
			"articles": []model.ArticleDTO{},
			"total":    0,
			"hasMore":  false,
		})
		return
	}
	out := gin.H{
		"articles": page.Articles,
		"total":    page.Total,
		"hasMore":  page.HasMore,
	}
	if page.Degraded {
		out["degraded"] = true
		c.Header("X-Data-Source", "fallback")
	}
	c.JSON(http.StatusOK, out)
}

// handleGetArticle 按 slug 或 id 查询文章。
//
// GET /api/articles/:slugOrId
func (s *Server) handleGetArticle(c *gin.Context) {
	a, degraded, err := s.articles.Get(c.Request.Context(), c.Param("slugOrId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	markDegraded(c, degraded)
	c.JSON(http.StatusOK, gin.H{"article": a})
}

// handleCreateArticle 创建文章，作者为当前登录用户。
//
// POST /api/articles
func (s *Server) handleCreateArticle(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	var req article.CreateInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	a, err := s.articles.Create(c.Request.Context(), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("article created",
		slog.String("id", a.ID),
		slog.String("slug", a.Slug),
		slog.String("user_id", claims.UserID))
	c.JSON(http.StatusCreated, gin.H{
		"message": "Article created successfully",
		"article": a,
	})
}

// handleUpdateArticle 部分更新文章，只修改请求中出现的字段。
//
// PUT /api/articles/:id
func (s *Server) handleUpdateArticle(c *gin.Context) {
	var req article.UpdateInput
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	a, err := s.articles.Update(c.Request.Context(), c.Param("slugOrId"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Article updated successfully",
		"article": a,
	})
}

// handleDeleteArticle 删除文章。
//
// DELETE /api/articles/:id
func (s *Server) handleDeleteArticle(c *gin.Context) {
	id, err := s.articles.Delete(c.Request.Context(), c.Param("slugOrId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Article deleted successfully",
		"deletedId": id,
	})
}
