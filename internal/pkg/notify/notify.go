package notify

import (
	"context"

	"maxyourpoints/internal/model"
)

// Notifier 定义账号相关通知接口。
type Notifier interface {
	// SendWelcome 通知新建账号的用户。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   name: 显示名
	//   role: 分配的角色
	SendWelcome(ctx context.Context, toEmail, name string, role model.Role) error
}

// Noop 丢弃所有通知。
type Noop struct{}

func (Noop) SendWelcome(context.Context, string, string, model.Role) error { return nil }
