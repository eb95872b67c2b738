// Package store 管理数据库连接及其可用状态。
//
// 启动时探测一次数据库：成功则 Connected，失败或未配置则 Disconnected。
// 状态在进程生命周期内不再变化，服务层据此决定写入还是返回兜底数据。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"maxyourpoints/internal/config"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/metrics"
)

// State 数据库可用状态。
type State int

const (
	StateUnknown State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handle 持有数据库连接与探测结果。构造后只读，可并发使用。
type Handle struct {
	db     *gorm.DB
	state  State
	driver string
	reason string
}

// Open 连接并探测数据库，随后执行 AutoMigrate。
// 任何失败都会返回 Disconnected 状态的 Handle，而不是错误。
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) *Handle {
	h := open(ctx, cfg, logger)
	if h.Connected() {
		metrics.DatabaseConnected.Set(1)
	} else {
		metrics.DatabaseConnected.Set(0)
	}
	return h
}

func open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) *Handle {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Warn("database not configured, serving fallback data")
		return NewDisconnected("database not configured")
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		logger.Error("database config invalid", slog.String("error", err.Error()))
		return NewDisconnected(err.Error())
	}
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		logger.Error("open database failed", slog.String("driver", cfg.Driver), slog.String("error", err.Error()))
		return NewDisconnected("open failed")
	}

	sqlDB, err := db.DB()
	if err == nil && cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.WithContext(probeCtx).Exec("SELECT 1").Error; err != nil {
		logger.Error("database probe failed", slog.String("driver", cfg.Driver), slog.String("error", err.Error()))
		closeDB(db)
		return NewDisconnected("probe failed")
	}

	if err := AutoMigrate(db); err != nil {
		logger.Error("auto migrate failed", slog.String("error", err.Error()))
		closeDB(db)
		return NewDisconnected("migration failed")
	}

	logger.Info("database connected", slog.String("driver", cfg.Driver))
	return NewConnected(db, cfg.Driver)
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// AutoMigrate 创建/更新所有表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Category{},
		&model.Article{},
		&model.ArticleCategory{},
		&model.MediaAsset{},
	)
}

// NewConnected 包装一个已验证可用的连接。
func NewConnected(db *gorm.DB, driver string) *Handle {
	return &Handle{db: db, state: StateConnected, driver: driver}
}

// NewDisconnected 返回不可用的 Handle。
func NewDisconnected(reason string) *Handle {
	return &Handle{state: StateDisconnected, reason: reason}
}

// Connected 判断数据库是否可用。nil Handle 视为不可用。
func (h *Handle) Connected() bool {
	return h != nil && h.state == StateConnected && h.db != nil
}

// DB 返回底层连接，未连接时为 nil。
func (h *Handle) DB() *gorm.DB {
	if !h.Connected() {
		return nil
	}
	return h.db
}

func (h *Handle) State() State {
	if h == nil {
		return StateUnknown
	}
	return h.state
}

func (h *Handle) Driver() string {
	if h == nil {
		return ""
	}
	return h.driver
}

// Reason 返回未连接的原因（不含敏感信息）。
func (h *Handle) Reason() string {
	if h == nil {
		return ""
	}
	return h.reason
}

// Close 关闭连接池。
func (h *Handle) Close() error {
	if !h.Connected() {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// IsDuplicateKey 判断是否违反唯一索引。
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
