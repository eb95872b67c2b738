package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/crypto/bcrypt"

	"maxyourpoints/internal/api/auth"
	"maxyourpoints/internal/api/middleware"
	"maxyourpoints/internal/api/response"
	"maxyourpoints/internal/api/scheduler"
	"maxyourpoints/internal/article"
	"maxyourpoints/internal/category"
	"maxyourpoints/internal/config"
	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/media"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/notify"
	"maxyourpoints/internal/pkg/ratelimit"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/store"
	"maxyourpoints/internal/user"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库句柄、可选的 Redis 客户端、媒体存储以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Handle
	rdb        *redis.Client
	router     *gin.Engine
	sched      *scheduler.Scheduler
	tokens     *token.Service
	auth       *auth.Handler
	users      *user.Service
	articles   *article.Service
	categories *category.Service
	media      *media.Service
	storage    media.Storage
	notifier   notify.Notifier
	limiter    ratelimit.Limiter
	verbose    bool
	startedAt  time.Time
}

// Deps 外部依赖。零值字段表示未配置。
type Deps struct {
	Store    *store.Handle
	Redis    *redis.Client
	Storage  media.Storage
	Notifier notify.Notifier
	Limiter  ratelimit.Limiter
	HashCost int
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 探测数据库（失败时进入降级模式而不是退出）
// 2. 连接 Redis（可选，用于登录限流与调度锁）
// 3. 创建媒体存储后端
// 4. 组装服务与路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	h := store.Open(ctx, cfg.Database, logger)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, using in-process rate limiter", slog.String("error", err.Error()))
			_ = rdb.Close()
			rdb = nil
		}
	}

	storage, err := media.NewStorageFromConfig(ctx, cfg.Media, cfg.App.PublicURL)
	if err != nil {
		_ = h.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	loginURL := strings.TrimRight(cfg.App.FrontendURL, "/") + "/admin/login"
	mailer := notify.NewAsync(notify.NewEmailNotifier(&cfg.Email, loginURL, logger), logger, 2, 100)
	mailer.Start()
	s, err := New(cfg, logger, Deps{
		Store:    h,
		Redis:    rdb,
		Storage:  storage,
		Notifier: mailer,
	})
	if err != nil {
		_ = mailer.Shutdown(time.Second)
		_ = h.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	if err := s.SeedDefaults(ctx); err != nil {
		logger.Warn("seed defaults failed", slog.String("error", err.Error()))
	}
	return s, nil
}

// New 使用给定依赖组装服务器，不做任何网络探测。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	h := deps.Store
	if h == nil {
		h = store.NewDisconnected("no database configured")
	}
	cost := deps.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bootstrap, err := user.NewBootstrap(cfg.Security.BootstrapEmail, cfg.Security.BootstrapName, cfg.Security.BootstrapPassword, cost)
	if err != nil {
		return nil, err
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	storage := deps.Storage
	if storage == nil {
		storage = media.NewMemoryStorage()
	}

	fb := fallback.New(bootstrap.User())
	users := user.NewService(h, fb, bootstrap, logger, user.WithNotifier(notifier), user.WithHashCost(cost))
	tokens := token.NewService(cfg.Security.JWTSecret, token.WithTTL(cfg.Security.TokenTTL))
	articles := article.NewService(h, fb, users, logger)

	var schedOpts []scheduler.Option
	if deps.Redis != nil {
		schedOpts = append(schedOpts, scheduler.WithRedis(deps.Redis))
	}

	limiter := deps.Limiter
	if limiter == nil {
		if deps.Redis != nil {
			limiter = ratelimit.NewRedisRateLimiter(deps.Redis, logger, "maxyourpoints:ratelimit",
				cfg.Security.LoginRateLimit, float64(cfg.Security.LoginRateBurst))
		} else {
			limiter = ratelimit.NewMemoryLimiter(cfg.Security.LoginRateLimit, cfg.Security.LoginRateBurst)
		}
	}

	verbose := !cfg.IsProduction()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg.App.FrontendURL)))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      h,
		rdb:        deps.Redis,
		router:     r,
		sched:      scheduler.NewScheduler(articles, logger, cfg.App.PublishInterval, schedOpts...),
		tokens:     tokens,
		auth:       auth.NewHandler(users, tokens, cfg.Security.CookieSecure, verbose, logger),
		users:      users,
		articles:   articles,
		categories: category.NewService(h, fb, logger),
		media:      media.NewService(h, storage, fb, logger, media.WithMaxBytes(cfg.Media.MaxUploadBytes)),
		storage:    storage,
		notifier:   notifier,
		limiter:    limiter,
		verbose:    verbose,
		startedAt:  time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

func corsConfig(frontend string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Data-Source", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	var origins []string
	for _, o := range strings.Split(frontend, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) > 0 {
		c.AllowOrigins = origins
	} else {
		// 未配置前端地址时（本地开发）允许任意来源
		c.AllowOriginFunc = func(string) bool { return true }
	}
	return c
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Store 返回数据库句柄。
func (s *Server) Store() *store.Handle {
	return s.store
}

// StartScheduler 在后台启动定时发布。数据库不可用时不启动。
func (s *Server) StartScheduler(ctx context.Context) {
	if !s.store.Connected() {
		s.logger.Warn("publish scheduler disabled, database unavailable")
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in publish scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 等待待发送通知，然后关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if d, ok := s.notifier.(interface{ Shutdown(time.Duration) error }); ok {
		if err := d.Shutdown(5 * time.Second); err != nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if closer, ok := s.storage.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", s.handleHealth)
	r.GET("/api/database/status", s.handleDatabaseStatus)

	if local, ok := s.storage.(*media.LocalStorage); ok {
		r.Static(media.UploadsPath, local.Root())
	}

	authed := middleware.AuthMiddleware(s.tokens)
	editor := middleware.RequireRole(model.RoleEditor)
	admin := middleware.RequireRole(model.RoleAdmin)
	superAdmin := middleware.RequireRole(model.RoleSuperAdmin)

	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", s.auth.Register)
	authGroup.POST("/login", middleware.RateLimit(s.limiter, "login", s.logger), s.auth.Login)
	authGroup.POST("/logout", s.auth.Logout)
	authGroup.GET("/me", authed, s.auth.Me)
	authGroup.POST("/change-password", authed, s.auth.ChangePassword)

	articles := r.Group("/api/articles")
	articles.GET("", s.handleListArticles)
	articles.GET("/:slugOrId", s.handleGetArticle)
	articles.POST("", authed, s.handleCreateArticle)
	articles.PUT("/:slugOrId", authed, s.handleUpdateArticle)
	articles.DELETE("/:slugOrId", authed, s.handleDeleteArticle)

	users := r.Group("/api/users", authed, admin)
	users.GET("", s.handleListUsers)
	users.GET("/:id", s.handleGetUser)
	users.POST("", s.handleCreateUser)
	users.PUT("/:id", s.handleUpdateUser)
	users.DELETE("/:id", superAdmin, s.handleDeleteUser)

	categories := r.Group("/api/categories")
	categories.GET("", s.handleListCategories)
	categories.GET("/:slugOrId", s.handleGetCategory)

	mediaGroup := r.Group("/api/media")
	mediaGroup.GET("/status", s.handleMediaStatus)
	mediaGroup.GET("", authed, s.handleListMedia)
	mediaGroup.POST("/upload", authed, editor, s.handleUploadMedia)
	mediaGroup.DELETE("/:id", authed, editor, s.handleDeleteMedia)
}

func (s *Server) fail(c *gin.Context, err error) {
	response.Error(c, s.logger, err, s.verbose)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.cfg.App.Version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"database":  s.store.State().String(),
	})
}

func (s *Server) handleDatabaseStatus(c *gin.Context) {
	body := gin.H{
		"connected": s.store.Connected(),
		"state":     s.store.State().String(),
		"driver":    s.store.Driver(),
	}
	if !s.store.Connected() && s.verbose {
		body["reason"] = s.store.Reason()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleListCategories(c *gin.Context) {
	cats, degraded, err := s.categories.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"categories": cats}
	if degraded {
		body["degraded"] = true
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGetCategory(c *gin.Context) {
	cat, degraded, err := s.categories.Get(c.Request.Context(), c.Param("slugOrId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	markDegraded(c, degraded)
	c.JSON(http.StatusOK, gin.H{"category": cat})
}

// markDegraded 兜底数据响应加上 X-Data-Source 头。
func markDegraded(c *gin.Context, degraded bool) {
	if degraded {
		c.Header("X-Data-Source", "fallback")
	}
}

// parseQueryInt 解析查询参数中的整数值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

// parseQueryBool 解析布尔查询参数，缺省或非法时返回 def。
func parseQueryBool(c *gin.Context, key string, def bool) bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Validation("Invalid request body", err.Error())
	}
	return nil
}
