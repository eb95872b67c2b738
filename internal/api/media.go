package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/middleware"
	"maxyourpoints/internal/media"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
)

// multipartSlack multipart 边界与表单字段的额外开销。
const multipartSlack = 1 << 20

// GET /api/media/status
func (s *Server) handleMediaStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.media.Status(c.Request.Context())})
}

// GET /api/media
func (s *Server) handleListMedia(c *gin.Context) {
	files, degraded, err := s.media.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"media": files, "total": len(files)}
	if degraded {
		body["degraded"] = true
		c.Header("X-Data-Source", "fallback")
	}
	c.JSON(http.StatusOK, body)
}

// handleUploadMedia 接收 multipart 表单中的 file 字段。
//
// POST /api/media/upload
func (s *Server) handleUploadMedia(c *gin.Context) {
	limit := s.media.MaxBytes() + multipartSlack
	if c.Request.ContentLength > limit {
		s.fail(c, s.media.TooLarge())
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.fail(c, s.media.TooLarge())
			return
		}
		s.fail(c, apperr.Validation("No file provided", "Please select a file to upload"))
		return
	}
	if fh.Size > s.media.MaxBytes() {
		s.fail(c, s.media.TooLarge())
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, apperr.Validation("Failed to read upload", err.Error()))
		return
	}
	defer f.Close()

	claims, _ := middleware.Claims(c)
	res, err := s.media.Upload(c.Request.Context(), media.UploadInput{
		File:         f,
		OriginalName: fh.Filename,
		Size:         fh.Size,
		Metadata: model.MediaMetadata{
			AltText:  c.PostForm("altText"),
			Caption:  c.PostForm("caption"),
			Title:    c.PostForm("title"),
			Category: c.PostForm("category"),
			Tags:     parseTags(c.PostForm("tags")),
		},
	}, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	msg := "File uploaded successfully"
	if !res.Persisted {
		msg = "File uploaded, metadata not saved (database unavailable)"
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":   msg,
		"url":       res.URL,
		"file":      res.File,
		"persisted": res.Persisted,
	})
}

// parseTags 支持 JSON 数组或逗号分隔两种写法。
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err == nil {
			return tags
		}
	}
	return strings.Split(raw, ",")
}

// DELETE /api/media/:id
func (s *Server) handleDeleteMedia(c *gin.Context) {
	id, err := s.media.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "File deleted successfully",
		"deletedId": id,
	})
}
