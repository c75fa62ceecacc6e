package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallerRoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), 42, RoleAdmin)

	id, ok := GetCallerFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	role, ok := GetRoleFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, role)
}

func TestRequireAdmin(t *testing.T) {
	assert.Error(t, RequireAdmin(context.Background()))
	assert.Error(t, RequireAdmin(WithCaller(context.Background(), 42, RoleUser)))
	assert.NoError(t, RequireAdmin(WithCaller(context.Background(), 42, RoleAdmin)))
}

func TestCheckOwnership(t *testing.T) {
	// 未认证
	assert.Error(t, CheckOwnership(context.Background(), 42))

	// 本人
	ctx := WithCaller(context.Background(), 42, RoleUser)
	assert.NoError(t, CheckOwnership(ctx, 42))

	// 他人资源
	assert.Error(t, CheckOwnership(ctx, 43))

	// 管理员放行
	admin := WithCaller(context.Background(), 1, RoleAdmin)
	assert.NoError(t, CheckOwnership(admin, 42))
}
