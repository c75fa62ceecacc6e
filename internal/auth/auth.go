package auth

import (
	"context"

	"github.com/go-kratos/kratos/v2/errors"
)

// 定义 context key
type contextKey string

const (
	// CallerIDKey 调用方账户ID的context key
	CallerIDKey contextKey = "caller_id"
	// CallerRoleKey 调用方角色的context key
	CallerRoleKey contextKey = "caller_role"
)

// Role 调用方角色
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// WithCaller 将调用方信息写入 context
func WithCaller(ctx context.Context, callerID uint64, role Role) context.Context {
	ctx = context.WithValue(ctx, CallerIDKey, callerID)
	return context.WithValue(ctx, CallerRoleKey, role)
}

// GetCallerFromContext 从context中获取调用方账户ID
func GetCallerFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(CallerIDKey).(uint64)
	return id, ok
}

// GetRoleFromContext 从context中获取调用方角色
func GetRoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(CallerRoleKey).(Role)
	return role, ok
}

// IsAdmin 判断当前调用方是否为管理员
func IsAdmin(ctx context.Context) bool {
	role, ok := GetRoleFromContext(ctx)
	return ok && role == RoleAdmin
}

// RequireAdmin 校验管理员权限
func RequireAdmin(ctx context.Context) error {
	if !IsAdmin(ctx) {
		return errors.Forbidden("FORBIDDEN", "administrator role required")
	}
	return nil
}

// CheckOwnership 检查调用方是否有权限操作指定账户的资源
func CheckOwnership(ctx context.Context, account uint64) error {
	caller, ok := GetCallerFromContext(ctx)
	if !ok {
		return errors.Unauthorized("UNAUTHORIZED", "authentication required")
	}

	// 管理员可以访问所有资源
	if IsAdmin(ctx) {
		return nil
	}

	if caller != account {
		return errors.Forbidden("FORBIDDEN", "permission denied: you can only access your own resources")
	}
	return nil
}
