// Package user 管理 CMS 账号：注册、认证、管理员增删改查以及内置管理员入库。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/pkg/notify"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/pkg/validate"
	"maxyourpoints/internal/store"
)

// ErrInvalidCredentials 邮箱不存在或密码错误。
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUnknownEmail 邮箱未注册，errors.Is 同时匹配 ErrInvalidCredentials。
var ErrUnknownEmail = fmt.Errorf("%w: unknown email", ErrInvalidCredentials)

func errUnavailable(op string) error {
	return apperr.ServiceUnavailable("Database not available", op+" requires a database connection")
}

// Service 用户业务逻辑。
type Service struct {
	store     *store.Handle
	fallback  *fallback.Provider
	bootstrap *Bootstrap
	notifier  notify.Notifier
	logger    *slog.Logger
	hashCost  int
	now       func() time.Time
}

type Option func(*Service)

// WithHashCost 测试中使用 bcrypt.MinCost。
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(h *store.Handle, fb *fallback.Provider, bootstrap *Bootstrap, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     h,
		fallback:  fb,
		bootstrap: bootstrap,
		notifier:  notify.Noop{},
		logger:    logger,
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap 返回内置管理员身份。
func (s *Service) Bootstrap() *Bootstrap { return s.bootstrap }

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,notblank,min=2,max=128"`
}

type CreateInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,notblank,max=128"`
	Role     string `json:"role"`
}

type UpdateInput struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Name     *string `json:"name" validate:"omitempty,notblank,max=128"`
	Role     *string `json:"role"`
	Verified *bool   `json:"verified"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", apperr.Internal("hash password failed", err)
	}
	return string(hash), nil
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.store.DB().WithContext(ctx)
}

func (s *Service) emailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	q := s.db(ctx).Model(&model.User{}).Where("email = ?", email)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, apperr.Internal("query user failed", err)
	}
	return n > 0, nil
}

func (s *Service) insert(ctx context.Context, u *model.User) error {
	if err := s.db(ctx).Create(u).Error; err != nil {
		if store.IsDuplicateKey(err) {
			return apperr.Conflict("User with this email already exists")
		}
		return apperr.Internal("create user failed", err)
	}
	return nil
}

// Register 自助注册，固定为 USER 角色。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if !s.store.Connected() {
		return nil, errUnavailable("registration")
	}
	email := normalizeEmail(in.Email)
	taken, err := s.emailTaken(ctx, email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.Conflict("User with this email already exists")
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         model.RoleUser,
		Verified:     true,
	}
	if err := s.insert(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", slog.String("email", email))
	return u, nil
}

// Authenticate 校验数据库中的账号密码，成功后更新最近登录时间。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	if !s.store.Connected() {
		return nil, errUnavailable("login")
	}
	var u model.User
	err := s.db(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownEmail
	}
	if err != nil {
		return nil, apperr.Internal("query user failed", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.db(ctx).Model(&u).Updates(map[string]any{"last_login": now, "updated_at": now}).Error; err != nil {
		s.logger.Warn("update last login failed", slog.String("user_id", u.ID), slog.String("error", err.Error()))
	} else {
		u.LastLogin = &now
		u.UpdatedAt = now
	}
	return &u, nil
}

// FindByID 数据库未连接时从兜底数据中查找。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !s.store.Connected() {
		if u, ok := s.fallback.FindUser(id); ok {
			return u, nil
		}
		return nil, apperr.NotFound("User not found")
	}
	var u model.User
	err := s.db(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Internal("query user failed", err)
	}
	return &u, nil
}

// Me 返回令牌对应的账号。内置管理员未入库时返回内存身份，devMode 为 true。
func (s *Service) Me(ctx context.Context, claims *token.Claims) (model.UserDTO, bool, error) {
	if s.store.Connected() {
		u, err := s.FindByID(ctx, claims.UserID)
		if err == nil {
			return model.NewUserDTO(u), false, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return model.UserDTO{}, false, err
		}
	}
	if s.bootstrap.IsBootstrap(claims.UserID) {
		b := s.bootstrap.User()
		return model.NewUserDTO(&b), true, nil
	}
	if !s.store.Connected() {
		return model.UserDTO{}, false, errUnavailable("profile lookup")
	}
	return model.UserDTO{}, false, apperr.Unauthorized("User not found")
}

// List 列出全部用户，数据库未连接时返回兜底数据（degraded=true）。
func (s *Service) List(ctx context.Context) ([]model.UserDTO, bool, error) {
	var users []model.User
	degraded := false
	if s.store.Connected() {
		if err := s.db(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
			return nil, false, apperr.Internal("list users failed", err)
		}
	} else {
		users = s.fallback.Users()
		degraded = true
		metrics.FallbackServedTotal.WithLabelValues("users").Inc()
	}
	out := make([]model.UserDTO, 0, len(users))
	for i := range users {
		out = append(out, model.NewUserDTO(&users[i]))
	}
	return out, degraded, nil
}

// Get 查询单个用户。
func (s *Service) Get(ctx context.Context, id string) (*model.UserDTO, bool, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	dto := model.NewUserDTO(u)
	return &dto, !s.store.Connected(), nil
}

func parseRoleOrDefault(raw string) (model.Role, error) {
	if raw == "" {
		return model.RoleUser, nil
	}
	role, ok := model.ParseRole(raw)
	if !ok {
		return "", apperr.Validation("Invalid role", "role must be one of USER, EDITOR, ADMIN, SUPER_ADMIN")
	}
	return role, nil
}

// Create 管理员创建账号。调用者不能授予高于自身的角色。
func (s *Service) Create(ctx context.Context, in CreateInput, caller *token.Claims) (*model.UserDTO, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	role, err := parseRoleOrDefault(in.Role)
	if err != nil {
		return nil, err
	}
	if !caller.Role.AtLeast(role) {
		return nil, apperr.Forbidden("Cannot assign a role above your own")
	}
	if !s.store.Connected() {
		return nil, errUnavailable("user creation")
	}
	email := normalizeEmail(in.Email)
	taken, err := s.emailTaken(ctx, email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.Conflict("User with this email already exists")
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         role,
		Verified:     true,
	}
	if err := s.insert(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", slog.String("email", email), slog.String("role", string(role)), slog.String("by", caller.UserID))

	if err := s.notifier.SendWelcome(ctx, u.Email, u.Name, u.Role); err != nil {
		s.logger.Warn("send welcome mail failed", slog.String("email", email), slog.String("error", err.Error()))
	}
	dto := model.NewUserDTO(u)
	return &dto, nil
}

// Update 修改邮箱、名称、角色或验证状态。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, caller *token.Claims) (*model.UserDTO, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var newRole model.Role
	if in.Role != nil {
		role, ok := model.ParseRole(*in.Role)
		if !ok {
			return nil, apperr.Validation("Invalid role", "role must be one of USER, EDITOR, ADMIN, SUPER_ADMIN")
		}
		if !caller.Role.AtLeast(role) {
			return nil, apperr.Forbidden("Cannot assign a role above your own")
		}
		newRole = role
	}
	if !s.store.Connected() {
		return nil, errUnavailable("user update")
	}
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Role.AtLeast(u.Role) {
		return nil, apperr.Forbidden("Cannot modify a user with a higher role")
	}

	columns := []string{}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email != u.Email {
			taken, err := s.emailTaken(ctx, email, u.ID)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, apperr.Conflict("User with this email already exists")
			}
			u.Email = email
			columns = append(columns, "email")
		}
	}
	if in.Name != nil {
		u.Name = *in.Name
		columns = append(columns, "name")
	}
	if newRole != "" {
		u.Role = newRole
		columns = append(columns, "role")
	}
	if in.Verified != nil {
		u.Verified = *in.Verified
		columns = append(columns, "verified")
	}
	if len(columns) > 0 {
		u.UpdatedAt = s.now().UTC()
		columns = append(columns, "updated_at")
		if err := s.db(ctx).Model(u).Select(columns).Updates(u).Error; err != nil {
			if store.IsDuplicateKey(err) {
				return nil, apperr.Conflict("User with this email already exists")
			}
			return nil, apperr.Internal("update user failed", err)
		}
	}
	dto := model.NewUserDTO(u)
	return &dto, nil
}

// Delete 删除账号。不能删除自己。
func (s *Service) Delete(ctx context.Context, id string, caller *token.Claims) error {
	if caller.UserID == id {
		return apperr.InvalidOperation("Cannot delete your own account")
	}
	if !s.store.Connected() {
		return errUnavailable("user deletion")
	}
	res := s.db(ctx).Where("id = ?", id).Delete(&model.User{})
	if res.Error != nil {
		return apperr.Internal("delete user failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("User not found")
	}
	s.logger.Info("user deleted", slog.String("user_id", id), slog.String("by", caller.UserID))
	return nil
}

// ChangePassword 修改当前账号密码。内置管理员不支持。
func (s *Service) ChangePassword(ctx context.Context, caller *token.Claims, in ChangePasswordInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if s.bootstrap.IsBootstrap(caller.UserID) {
		return apperr.InvalidOperation("Operation not supported for the bootstrap admin account")
	}
	if !s.store.Connected() {
		return errUnavailable("password change")
	}
	u, err := s.FindByID(ctx, caller.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Unauthorized("User not found")
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return apperr.Validation("Current password is incorrect")
	}
	hash, err := s.hash(in.NewPassword)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.db(ctx).Model(u).Updates(map[string]any{"password_hash": hash, "updated_at": now}).Error; err != nil {
		return apperr.Internal("update password failed", err)
	}
	s.logger.Info("password changed", slog.String("user_id", u.ID))
	return nil
}

// EnsureSeedUser 确保内置管理员存在于数据库中（幂等）。
func (s *Service) EnsureSeedUser(ctx context.Context) (*model.User, error) {
	if !s.store.Connected() {
		return nil, errUnavailable("seeding the bootstrap admin")
	}
	find := func() (*model.User, error) {
		var u model.User
		err := s.db(ctx).Where("email = ?", s.bootstrap.Email()).First(&u).Error
		if err != nil {
			return nil, err
		}
		return &u, nil
	}
	u, err := find()
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("query bootstrap admin failed", err)
	}

	seed := s.bootstrap.User()
	seed.CreatedAt, seed.UpdatedAt = time.Time{}, time.Time{}
	if err := s.db(ctx).Create(&seed).Error; err != nil {
		if store.IsDuplicateKey(err) {
			// 并发创建，读取已存在的记录
			if u, ferr := find(); ferr == nil {
				return u, nil
			}
		}
		return nil, apperr.Internal("seed bootstrap admin failed", err)
	}
	s.logger.Info("bootstrap admin persisted", slog.String("email", seed.Email))
	return &seed, nil
}

// ResolveAuthor 把令牌身份解析为可写入 author_id 的数据库用户 ID。
func (s *Service) ResolveAuthor(ctx context.Context, claims *token.Claims) (string, error) {
	if s.bootstrap.IsBootstrap(claims.UserID) {
		u, err := s.EnsureSeedUser(ctx)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	u, err := s.FindByID(ctx, claims.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return "", apperr.Unauthorized("User no longer exists")
		}
		return "", err
	}
	return u.ID, nil
}

// ProvisionSuperAdmin 创建超级管理员（已存在则返回已有记录，created=false）。
func (s *Service) ProvisionSuperAdmin(ctx context.Context, email, name, password string) (*model.User, bool, error) {
	if !s.store.Connected() {
		return nil, false, errUnavailable("provisioning")
	}
	email = normalizeEmail(email)
	var existing model.User
	err := s.db(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.Internal("query user failed", err)
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, false, err
	}
	u := &model.User{Email: email, Name: name, PasswordHash: hash, Role: model.RoleSuperAdmin, Verified: true}
	if err := s.insert(ctx, u); err != nil {
		return nil, false, fmt.Errorf("provision super admin: %w", err)
	}
	return u, true, nil
}
