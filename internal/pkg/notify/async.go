package notify

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/metrics"
)

// ErrQueueFull 待发送队列已满，通知被丢弃。
var ErrQueueFull = errors.New("notification queue full")

// ErrClosed 派发器已关闭。
var ErrClosed = errors.New("notification dispatcher closed")

type welcome struct {
	email string
	name  string
	role  model.Role
}

// Async 把通知放进有界队列，由固定数量的 worker 在后台发送。
// SendWelcome 不阻塞请求；队列满时直接丢弃并记录。
type Async struct {
	next     Notifier
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	pending  chan welcome
	wg       sync.WaitGroup
	closed   atomic.Bool
	mu       sync.RWMutex
	started  atomic.Bool
	stopOnce sync.Once
}

// NewAsync 创建异步派发器。workers、capacity 至少为 1。
func NewAsync(next Notifier, logger *slog.Logger, workers, capacity int) *Async {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Async{
		next:    next,
		logger:  logger,
		workers: workers,
		timeout: 30 * time.Second,
		pending: make(chan welcome, capacity),
	}
}

// Start 启动 worker。重复调用无效。
func (a *Async) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
}

func (a *Async) worker(id int) {
	defer a.wg.Done()
	for msg := range a.pending {
		a.deliver(id, msg)
	}
}

func (a *Async) deliver(workerID int, msg welcome) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			a.logger.Error("notification panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.SendWelcome(ctx, msg.email, msg.name, msg.role); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		a.logger.Warn("welcome mail failed",
			slog.Int("worker_id", workerID),
			slog.String("to", msg.email),
			slog.String("error", err.Error()))
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

// SendWelcome 入队后立即返回。
func (a *Async) SendWelcome(_ context.Context, toEmail, name string, role model.Role) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.pending <- welcome{email: toEmail, name: name, role: role}:
		return nil
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		a.logger.Warn("notification queue full, drop welcome mail",
			slog.String("to", toEmail),
			slog.Int("capacity", cap(a.pending)))
		return ErrQueueFull
	}
}

// Len 待发送数量。
func (a *Async) Len() int { return len(a.pending) }

// Shutdown 拒绝新通知并等待队列发送完毕，超时返回错误。
func (a *Async) Shutdown(timeout time.Duration) error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.pending)
		a.mu.Unlock()
	})
	if !a.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		a.logger.Error("notification shutdown timeout", slog.Int("pending", a.Len()))
		return errors.New("notification shutdown timed out after " + timeout.String())
	}
}
