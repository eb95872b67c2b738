// Package scheduler 周期性地把到期的定时文章改为已发布。
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultInterval 默认扫描间隔。
const DefaultInterval = time.Minute

const lockKey = "maxyourpoints:scheduler:publish"

// Publisher 发布到期文章，返回发布数量。
type Publisher interface {
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler 按固定间隔调用 Publisher。
//
// 配置 Redis 时每轮先抢占分布式锁，多副本部署下同一轮只有一个实例执行。
type Scheduler struct {
	publisher Publisher
	rdb       *redis.Client
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Scheduler)

// WithRedis 启用 Redis 锁。
func WithRedis(rdb *redis.Client) Option {
	return func(s *Scheduler) { s.rdb = rdb }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler 创建调度器，interval <= 0 时使用默认值。
func NewScheduler(publisher Publisher, logger *slog.Logger, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		timeout:   30 * time.Second,
		now:       time.Now,
	}
	if s.timeout > interval {
		s.timeout = interval
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 阻塞运行直到 ctx 取消。启动时立即执行一轮。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("publish scheduler started", slog.String("interval", s.interval.String()))
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("publish scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 执行一轮发布，返回发布数量。
func (s *Scheduler) Tick(ctx context.Context) int64 {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in publish scheduler", slog.Any("panic", r))
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !s.acquire(tickCtx) {
		return 0
	}
	n, err := s.publisher.PromoteDue(tickCtx, s.now())
	if err != nil {
		s.logger.Error("promote scheduled articles failed", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		s.logger.Info("scheduled articles published", slog.Int64("count", n))
	}
	return n
}

// acquire 抢占本轮的锁。锁在间隔结束前自然过期，不主动释放。
// Redis 故障时仍然执行，重复发布是幂等的。
func (s *Scheduler) acquire(ctx context.Context) bool {
	if s.rdb == nil {
		return true
	}
	ttl := s.interval - time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.rdb.SetNX(ctx, lockKey, s.now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		s.logger.Warn("scheduler lock unavailable", slog.String("error", err.Error()))
		return true
	}
	return ok
}
