package user

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/token"
	"maxyourpoints/internal/store"
	"maxyourpoints/internal/store/storetest"
)

type mockNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockNotifier) SendWelcome(_ context.Context, to, _ string, _ model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, to)
	return m.err
}

func newBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	b, err := NewBootstrap("Isak@MaxYourPoints.com", "Isak Parild", "admin123", bcrypt.MinCost)
	require.NoError(t, err)
	return b
}

func newTestService(t *testing.T, h *store.Handle, opts ...Option) *Service {
	t.Helper()
	b := newBootstrap(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithHashCost(bcrypt.MinCost)}, opts...)
	return NewService(h, fallback.New(b.User()), b, logger, opts...)
}

func claims(id string, role model.Role) *token.Claims {
	return &token.Claims{UserID: id, Role: role}
}

func TestBootstrapMatches(t *testing.T) {
	b := newBootstrap(t)
	assert.True(t, b.Matches("isak@maxyourpoints.com", "admin123"))
	assert.True(t, b.Matches("  ISAK@maxyourpoints.com ", "admin123"))
	assert.False(t, b.Matches("isak@maxyourpoints.com", "wrong"))
	assert.False(t, b.Matches("other@maxyourpoints.com", "admin123"))
	assert.Equal(t, model.RoleSuperAdmin, b.User().Role)
	assert.True(t, b.IsBootstrap(BootstrapID))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "Reader@Example.com", Password: "password1", Name: "Reader"})
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.True(t, u.Verified)
	assert.NotEqual(t, "password1", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "reader@example.com", Password: "password1", Name: "Again"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := svc.Authenticate(ctx, "READER@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotNil(t, got.LastLogin)

	_, err = svc.Authenticate(ctx, "reader@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrUnknownEmail)
	_, err = svc.Authenticate(ctx, "ghost@example.com", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, ErrUnknownEmail)
}

func TestRegisterValidationBeforeAvailability(t *testing.T) {
	svc := newTestService(t, store.NewDisconnected("test"))
	_, err := svc.Register(context.Background(), RegisterInput{Email: "bad", Password: "short", Name: "X"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Register(context.Background(), RegisterInput{Email: "ok@example.com", Password: "longenough", Name: "Okay"})
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))
}

func TestListFallsBackWhenDisconnected(t *testing.T) {
	svc := newTestService(t, store.NewDisconnected("test"))
	users, degraded, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, users, 1)
	assert.Equal(t, BootstrapID, users[0].ID)
}

func TestCreateRespectsCallerRole(t *testing.T) {
	h := storetest.NewHandle(t)
	notifier := &mockNotifier{}
	svc := newTestService(t, h, WithNotifier(notifier))
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Email: "boss@example.com", Password: "password1", Name: "Boss", Role: "SUPER_ADMIN"}, claims("a1", model.RoleAdmin))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.Create(ctx, CreateInput{Email: "x@example.com", Password: "password1", Name: "X", Role: "OWNER"}, claims("a1", model.RoleAdmin))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	dto, err := svc.Create(ctx, CreateInput{Email: "editor@example.com", Password: "password1", Name: "Ed", Role: "editor"}, claims("a1", model.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, model.RoleEditor, dto.Role)
	assert.Equal(t, []string{"editor@example.com"}, notifier.calls)

	users, degraded, err := svc.List(ctx)
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Len(t, users, 1)
}

func TestUpdateUser(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()
	storetest.SeedUser(t, h, "u1", "one@example.com", "One", model.RoleUser)
	storetest.SeedUser(t, h, "u2", "two@example.com", "Two", model.RoleUser)
	storetest.SeedUser(t, h, "s1", "super@example.com", "Super", model.RoleSuperAdmin)

	name := "Renamed"
	role := "EDITOR"
	dto, err := svc.Update(ctx, "u1", UpdateInput{Name: &name, Role: &role}, claims("a1", model.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", dto.Name)
	assert.Equal(t, model.RoleEditor, dto.Role)

	taken := "two@example.com"
	_, err = svc.Update(ctx, "u1", UpdateInput{Email: &taken}, claims("a1", model.RoleAdmin))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.Update(ctx, "s1", UpdateInput{Name: &name}, claims("a1", model.RoleAdmin))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.Update(ctx, "missing", UpdateInput{Name: &name}, claims("a1", model.RoleAdmin))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteOrdering(t *testing.T) {
	ctx := context.Background()

	disconnected := newTestService(t, store.NewDisconnected("test"))
	err := disconnected.Delete(ctx, "s1", claims("s1", model.RoleSuperAdmin))
	assert.Equal(t, apperr.KindInvalidOperation, apperr.KindOf(err), "self delete is checked before availability")
	err = disconnected.Delete(ctx, "u1", claims("s1", model.RoleSuperAdmin))
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))

	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	storetest.SeedUser(t, h, "u1", "one@example.com", "One", model.RoleUser)
	require.NoError(t, svc.Delete(ctx, "u1", claims("s1", model.RoleSuperAdmin)))
	err = svc.Delete(ctx, "u1", claims("s1", model.RoleSuperAdmin))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChangePassword(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "me@example.com", Password: "oldpassword", Name: "Me"})
	require.NoError(t, err)
	caller := claims(u.ID, model.RoleUser)

	err = svc.ChangePassword(ctx, caller, ChangePasswordInput{CurrentPassword: "oldpassword", NewPassword: "short"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = svc.ChangePassword(ctx, caller, ChangePasswordInput{CurrentPassword: "nope-nope", NewPassword: "newpassword"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, svc.ChangePassword(ctx, caller, ChangePasswordInput{CurrentPassword: "oldpassword", NewPassword: "newpassword"}))
	_, err = svc.Authenticate(ctx, "me@example.com", "newpassword")
	assert.NoError(t, err)

	err = svc.ChangePassword(ctx, claims(BootstrapID, model.RoleSuperAdmin), ChangePasswordInput{CurrentPassword: "admin123", NewPassword: "newpassword"})
	assert.Equal(t, apperr.KindInvalidOperation, apperr.KindOf(err))
}

func TestEnsureSeedUserIdempotent(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()

	first, err := svc.EnsureSeedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, BootstrapID, first.ID)
	second, err := svc.EnsureSeedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, h.DB().Model(&model.User{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	// 入库后内置管理员可以通过数据库登录
	_, err = svc.Authenticate(ctx, "isak@maxyourpoints.com", "admin123")
	assert.NoError(t, err)
}

func TestResolveAuthor(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()
	storetest.SeedUser(t, h, "e1", "ed@example.com", "Ed", model.RoleEditor)

	id, err := svc.ResolveAuthor(ctx, claims("e1", model.RoleEditor))
	require.NoError(t, err)
	assert.Equal(t, "e1", id)

	id, err = svc.ResolveAuthor(ctx, claims(BootstrapID, model.RoleSuperAdmin))
	require.NoError(t, err)
	assert.Equal(t, BootstrapID, id)

	_, err = svc.ResolveAuthor(ctx, claims("ghost", model.RoleEditor))
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewDisconnected("test"))

	dto, dev, err := svc.Me(ctx, claims(BootstrapID, model.RoleSuperAdmin))
	require.NoError(t, err)
	assert.True(t, dev)
	assert.Equal(t, "isak@maxyourpoints.com", dto.Email)

	_, _, err = svc.Me(ctx, claims("u1", model.RoleUser))
	assert.Equal(t, apperr.KindServiceUnavailable, apperr.KindOf(err))

	h := storetest.NewHandle(t)
	live := newTestService(t, h)
	storetest.SeedUser(t, h, "u1", "one@example.com", "One", model.RoleUser)
	dto, dev, err = live.Me(ctx, claims("u1", model.RoleUser))
	require.NoError(t, err)
	assert.False(t, dev)
	assert.Equal(t, "one@example.com", dto.Email)

	_, _, err = live.Me(ctx, claims("gone", model.RoleUser))
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestProvisionSuperAdmin(t *testing.T) {
	h := storetest.NewHandle(t)
	svc := newTestService(t, h)
	ctx := context.Background()

	u, created, err := svc.ProvisionSuperAdmin(ctx, "Owner@Example.com", "Owner", "generated-pass-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RoleSuperAdmin, u.Role)

	again, created, err := svc.ProvisionSuperAdmin(ctx, "owner@example.com", "Owner", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
}
