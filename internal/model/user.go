package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示 CMS 账号。
type User struct {
	ID           string     `gorm:"primaryKey;size:36"`            // 用户 ID (UUID)
	Email        string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	PasswordHash string     `gorm:"not null"`                      // bcrypt 哈希
	Name         string     `gorm:"size:128"`                      // 显示名
	Role         Role       `gorm:"type:varchar(16);default:USER"` // 角色: USER / EDITOR / ADMIN / SUPER_ADMIN
	Verified     bool       `gorm:"default:false"`                 // 是否已验证
	CreatedAt    time.Time  // 创建时间
	UpdatedAt    time.Time  // 更新时间
	LastLogin    *time.Time // 最近一次登录
}

// BeforeCreate 在缺省时分配 UUID。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserDTO is the public view of a user. The password hash never leaves the server.
type UserDTO struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	Verified  bool       `json:"verified"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastLogin *time.Time `json:"lastLogin"`
}

// NewUserDTO 构造对外输出的用户视图。
func NewUserDTO(u *User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
	}
}
