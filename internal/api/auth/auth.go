package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/middleware"
	"maxyourpoints/internal/api/response"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/pkg/validate"
	"maxyourpoints/internal/user"
)

// Handler 提供注册、登录与账号相关接口。
type Handler struct {
	users        *user.Service
	tokens       *token.Service
	cookieSecure bool
	verbose      bool
	logger       *slog.Logger
}

// NewHandler 创建 Auth Handler。verbose 为 true 时内部错误返回原因。
func NewHandler(users *user.Service, tokens *token.Service, cookieSecure, verbose bool, logger *slog.Logger) *Handler {
	return &Handler{
		users:        users,
		tokens:       tokens,
		cookieSecure: cookieSecure,
		verbose:      verbose,
		logger:       logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	response.Error(c, h.logger, err, h.verbose)
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Validation("Invalid request body", err.Error())
	}
	return nil
}

// issue 签发令牌并写入 cookie。
func (h *Handler) issue(c *gin.Context, u *model.User) (string, error) {
	tok, err := h.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return "", apperr.Internal("Failed to issue token", err)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CookieName, tok, int(h.tokens.TTL().Seconds()), "/", "", h.cookieSecure, true)
	return tok, nil
}

// Register 自助注册并直接登录。
//
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req user.RegisterInput
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	u, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	tok, err := h.issue(c, u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    model.NewUserDTO(u),
		"token":   tok,
	})
}

// Login 校验账号密码并返回 JWT。
// 数据库不可用或账号不存在时回退到内置管理员校验，此时响应带 devMode。
//
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	u, err := h.users.Authenticate(ctx, req.Email, req.Password)
	devMode := false
	if err != nil {
		bootstrap := h.users.Bootstrap()
		// 只有数据库不可用或邮箱未注册时才回退；密码错误不回退
		canFallback := errors.Is(err, user.ErrUnknownEmail) || apperr.Is(err, apperr.KindServiceUnavailable)
		switch {
		case canFallback && bootstrap != nil && bootstrap.Matches(req.Email, req.Password):
			b := bootstrap.User()
			u = &b
			devMode = true
		case errors.Is(err, user.ErrInvalidCredentials), apperr.Is(err, apperr.KindServiceUnavailable):
			metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			h.logger.Warn("login failed", slog.String("client_ip", c.ClientIP()))
			h.fail(c, apperr.Unauthorized("Invalid email or password"))
			return
		default:
			h.fail(c, err)
			return
		}
	}

	tok, err := h.issue(c, u)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{
		"message": "Login successful",
		"user":    model.NewUserDTO(u),
		"token":   tok,
	}
	if devMode {
		metrics.LoginAttemptsTotal.WithLabelValues("bootstrap").Inc()
		h.logger.Warn("bootstrap admin login", slog.String("email", u.Email))
		body["devMode"] = true
	} else {
		metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	}
	c.JSON(http.StatusOK, body)
}

// Logout 清除令牌 cookie。令牌本身无状态，到期前仍然有效。
//
// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CookieName, "", -1, "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me 返回当前登录用户。
//
// GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		h.fail(c, apperr.Unauthorized("No authentication token provided"))
		return
	}
	dto, devMode, err := h.users.Me(c.Request.Context(), claims)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"user": dto}
	if devMode {
		body["devMode"] = true
	}
	c.JSON(http.StatusOK, body)
}

// ChangePassword 修改当前用户密码。
//
// POST /api/auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		h.fail(c, apperr.Unauthorized("No authentication token provided"))
		return
	}
	var req user.ChangePasswordInput
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), claims, req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
