package errors

import (
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 计费服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 billing-service
// 模块划分：
//   01: 套餐模块
//   02: 订阅生命周期
//   03: 计量计费
//   04: 支付模块
//   05: 跨域同步
//   06: 系统/权限

// 错误原因 (HTTP 映射与审计用)
const (
	ReasonInvalidInput    = "INVALID_INPUT"
	ReasonUnauthorized    = "UNAUTHORIZED"
	ReasonNotFound        = "NOT_FOUND"
	ReasonStateConflict   = "STATE_CONFLICT"
	ReasonPaymentFailed   = "PAYMENT_FAILED"
	ReasonUntrustedSource = "UNTRUSTED_SOURCE"
	ReasonSystemPaused    = "SYSTEM_PAUSED"
)

// 套餐模块 (140100-140199)
const (
	// ErrCodePlanNotFound 套餐不存在错误
	ErrCodePlanNotFound = 140101
	// ErrCodePlanInactive 套餐已停用错误
	ErrCodePlanInactive = 140102
	// ErrCodePlanInvalid 套餐参数无效错误
	ErrCodePlanInvalid = 140103
)

// 订阅生命周期模块 (140200-140299)
const (
	// ErrCodeSubscriptionNotFound 订阅不存在错误
	ErrCodeSubscriptionNotFound = 140201
	// ErrCodeAlreadySubscribed 已存在未过期订阅错误
	ErrCodeAlreadySubscribed = 140202
	// ErrCodeRenewalWindowClosed 续费窗口已关闭错误
	ErrCodeRenewalWindowClosed = 140203
	// ErrCodeAlreadyCancelled 订阅已取消错误
	ErrCodeAlreadyCancelled = 140204
	// ErrCodeSubscriptionExpired 订阅已过期错误
	ErrCodeSubscriptionExpired = 140205
)

// 计量计费模块 (140300-140399)
const (
	// ErrCodeServiceNotFound 计量服务不存在错误
	ErrCodeServiceNotFound = 140301
	// ErrCodeServiceInactive 计量服务已停用错误
	ErrCodeServiceInactive = 140302
	// ErrCodeServiceInvalid 计量服务参数无效错误
	ErrCodeServiceInvalid = 140303
	// ErrCodeInvalidUsageAmount 用量数值无效错误
	ErrCodeInvalidUsageAmount = 140304
	// ErrCodeNoActiveSubscription 无活跃订阅错误
	ErrCodeNoActiveSubscription = 140305
	// ErrCodeNoOpenCycle 无已开启计费周期错误
	ErrCodeNoOpenCycle = 140306
)

// 支付模块 (140400-140499)
const (
	// ErrCodePaymentFailed 转账失败错误 (余额或授权额度不足)
	ErrCodePaymentFailed = 140401
)

// 跨域同步模块 (140500-140599)
const (
	// ErrCodePeerNotConfigured 目标域未配置可信对端错误
	ErrCodePeerNotConfigured = 140501
	// ErrCodeUntrustedSource 消息来源不可信错误
	ErrCodeUntrustedSource = 140502
	// ErrCodeInsufficientFeeBalance 消息费余额不足错误
	ErrCodeInsufficientFeeBalance = 140503
)

// 系统/权限模块 (140600-140699)
const (
	// ErrCodeUnauthorized 无权限错误
	ErrCodeUnauthorized = 140601
	// ErrCodeSystemPaused 系统已暂停错误
	ErrCodeSystemPaused = 140602
	// ErrCodeInvalidArgument 参数无效错误
	ErrCodeInvalidArgument = 140603
)

// New 创建带业务错误码的错误
func New(code int, reason, message string) *kerrors.Error {
	return kerrors.New(code, reason, message)
}

// NewInvalidInput 参数无效
func NewInvalidInput(code int, message string) *kerrors.Error {
	return kerrors.New(code, ReasonInvalidInput, message)
}

// NewUnauthorized 无权限
func NewUnauthorized(message string) *kerrors.Error {
	return kerrors.New(ErrCodeUnauthorized, ReasonUnauthorized, message)
}

// NewNotFound 资源不存在
func NewNotFound(code int, message string) *kerrors.Error {
	return kerrors.New(code, ReasonNotFound, message)
}

// NewStateConflict 状态冲突
func NewStateConflict(code int, message string) *kerrors.Error {
	return kerrors.New(code, ReasonStateConflict, message)
}

// NewPaymentFailed 支付失败
func NewPaymentFailed(message string) *kerrors.Error {
	return kerrors.New(ErrCodePaymentFailed, ReasonPaymentFailed, message)
}

// NewUntrustedSource 消息来源不可信
func NewUntrustedSource(code int, message string) *kerrors.Error {
	return kerrors.New(code, ReasonUntrustedSource, message)
}

// NewSystemPaused 系统已暂停
func NewSystemPaused() *kerrors.Error {
	return kerrors.New(ErrCodeSystemPaused, ReasonSystemPaused, "system is paused")
}

// IsReason 判断错误是否属于指定原因
func IsReason(err error, reason string) bool {
	return kerrors.Reason(err) == reason
}
