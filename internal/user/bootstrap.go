package user

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"maxyourpoints/internal/model"
)

// BootstrapID 内置管理员的固定 ID。入库后沿用同一个 ID，令牌在入库前后都有效。
const BootstrapID = "temp-admin-001"

// Bootstrap 是内置超级管理员身份，数据库不可用时仍可登录。
// 密码只以 bcrypt 哈希形式保存在内存中。
type Bootstrap struct {
	email     string
	name      string
	hash      []byte
	createdAt time.Time
}

// NewBootstrap 在启动时哈希配置中的密码。
func NewBootstrap(email, name, password string, cost int) (*Bootstrap, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, err
	}
	return &Bootstrap{
		email:     normalizeEmail(email),
		name:      name,
		hash:      hash,
		createdAt: time.Now().UTC(),
	}, nil
}

func (b *Bootstrap) ID() string    { return BootstrapID }
func (b *Bootstrap) Email() string { return b.email }

// IsBootstrap 判断令牌中的 userID 是否为内置管理员。
func (b *Bootstrap) IsBootstrap(userID string) bool {
	return b != nil && userID == BootstrapID
}

// Matches 校验邮箱与密码。
func (b *Bootstrap) Matches(email, password string) bool {
	if b == nil || normalizeEmail(email) != b.email {
		return false
	}
	return bcrypt.CompareHashAndPassword(b.hash, []byte(password)) == nil
}

// User 返回内置管理员的 model 视图。
func (b *Bootstrap) User() model.User {
	return model.User{
		ID:           BootstrapID,
		Email:        b.email,
		Name:         b.name,
		PasswordHash: string(b.hash),
		Role:         model.RoleSuperAdmin,
		Verified:     true,
		CreatedAt:    b.createdAt,
		UpdatedAt:    b.createdAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
