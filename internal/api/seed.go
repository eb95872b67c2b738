package api

import (
	"context"
	"fmt"
	"log/slog"
)

// SeedDefaults 初始化默认分类，并把内置管理员写入数据库。
// 数据库不可用时跳过。
func (s *Server) SeedDefaults(ctx context.Context) error {
	if !s.store.Connected() {
		s.logger.Info("skip seeding, database unavailable")
		return nil
	}
	n, err := s.categories.SeedDefaults(ctx)
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	if n > 0 {
		s.logger.Info("default categories created", slog.Int("count", n))
	}
	u, err := s.users.EnsureSeedUser(ctx)
	if err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin ready", slog.String("email", u.Email))
	return nil
}
