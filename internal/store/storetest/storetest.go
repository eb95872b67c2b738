// Package storetest 为测试提供内存 SQLite 数据库。
package storetest

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"maxyourpoints/internal/model"
	"maxyourpoints/internal/store"
)

// NewHandle 返回已迁移的内存数据库。单连接保证所有查询看到同一个库。
func NewHandle(t *testing.T) *store.Handle {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewConnected(db, "sqlite")
}

// SeedCategory 插入一个分类。
func SeedCategory(t *testing.T, h *store.Handle, id, name, slug string) model.Category {
	t.Helper()
	c := model.Category{ID: id, Name: name, Slug: slug}
	if err := h.DB().Create(&c).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	return c
}

// SeedUser 插入一个用户（密码哈希为占位值）。
func SeedUser(t *testing.T, h *store.Handle, id, email, name string, role model.Role) model.User {
	t.Helper()
	u := model.User{ID: id, Email: email, Name: name, Role: role, PasswordHash: "x", Verified: true}
	if err := h.DB().Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}
