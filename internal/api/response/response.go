// Package response 统一 API 错误输出。
package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/pkg/apperr"
)

// StatusOf 将错误分类映射为 HTTP 状态码。
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindInvalidOperation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body 错误响应体。
type Body struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Error 写出错误响应。verbose 为 false 时内部错误只返回通用信息。
func Error(c *gin.Context, logger *slog.Logger, err error, verbose bool) {
	c.AbortWithStatusJSON(Build(c, logger, err, verbose))
}

// Build 返回错误对应的状态码与响应体，供需要追加字段的处理器使用。
func Build(c *gin.Context, logger *slog.Logger, err error, verbose bool) (int, Body) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal("Internal server error", err)
	}
	status := StatusOf(ae.Kind)
	body := Body{Error: ae.Kind.String(), Message: ae.Message, Details: ae.Details}

	if status >= http.StatusInternalServerError {
		if logger != nil {
			attrs := []any{
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
			}
			if ae.Err != nil {
				attrs = append(attrs, slog.String("error", ae.Err.Error()))
			}
			logger.Error(ae.Message, attrs...)
		}
		if ae.Kind == apperr.KindInternal && verbose && ae.Err != nil {
			body.Details = append(body.Details, ae.Err.Error())
		}
	}
	return status, body
}
