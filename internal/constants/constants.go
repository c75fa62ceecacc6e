package constants

import "time"

// 分页相关常量
const (
	// DefaultPageSize 默认分页大小
	DefaultPageSize = 10
	// MaxPageSize 最大分页大小
	MaxPageSize = 100
)

// 订阅续费相关常量
const (
	// DefaultGracePeriod 默认宽限期 (过期后仍可续费的窗口)
	DefaultGracePeriod = 7 * 24 * time.Hour
	// DefaultRetryInterval 自动续费重试最小间隔
	DefaultRetryInterval = time.Hour
	// DefaultScanWindowSize 扫描窗口默认大小
	DefaultScanWindowSize = 50
)

// 计量计费相关常量
const (
	// DefaultCycleDuration 默认计费周期
	DefaultCycleDuration = 30 * 24 * time.Hour
)

// 分布式锁相关常量
const (
	// RenewLockExpiration 订阅操作锁过期时间
	RenewLockExpiration = time.Minute
	// UsageLockExpiration 用量操作锁过期时间
	UsageLockExpiration = time.Minute
	// LockRetries 锁重试次数 (只尝试一次, 失败说明正在处理)
	LockRetries = 1
)

// 账单事件操作
const (
	ActionSubscriptionCreated   = "subscription_created"
	ActionSubscriptionRenewed   = "subscription_renewed"
	ActionSubscriptionAutoRenew = "subscription_auto_renewed"
	ActionSubscriptionCancelled = "subscription_cancelled"
	ActionUsageRecorded         = "usage_recorded"
	ActionCycleSettled          = "cycle_settled"
	ActionMessageSent           = "message_sent"
	ActionMessageReceived       = "message_received"
	ActionMessageDropped        = "message_dropped_untrusted"
)

// 跨域消息类型
const (
	// MessageKindValidationRequest 请求远端校验订阅状态
	MessageKindValidationRequest = 1
	// MessageKindStatusUpdate 推送订阅状态
	MessageKindStatusUpdate = 2
)

// 跨域消息流相关常量
const (
	// BridgeStreamPrefix 各域入站消息流前缀, 后接域 ID
	BridgeStreamPrefix = "bridge:inbox:"
	// BridgeConsumerGroup 入站消费组名称
	BridgeConsumerGroup = "bridge-consumer"
	// BridgeReadBlock 入站阻塞读取时长
	BridgeReadBlock = 5 * time.Second
	// BridgeReadRetryDelay 读取出错后的重试间隔
	BridgeReadRetryDelay = time.Second
)

// 调度器 Redis key
const (
	// SchedulerCursorKey 轮转游标
	SchedulerCursorKey = "scheduler:cursor"
	// SchedulerAttemptPrefix 续费尝试节流 key 前缀
	SchedulerAttemptPrefix = "scheduler:attempt:"
	// TrackedRegisterRetries position 唯一索引冲突时的追加重试次数
	TrackedRegisterRetries = 3
)
