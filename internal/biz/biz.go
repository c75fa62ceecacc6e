package biz

import (
	"context"
	"time"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewLedgerUsecase,
	NewMeteringUsecase,
	NewSchedulerUsecase,
	NewBridgeUsecase,
	wire.Bind(new(SubscriptionChecker), new(*LedgerUsecase)),
	wire.Bind(new(AutomaticRenewer), new(*LedgerUsecase)),
	wire.Bind(new(StatusPusher), new(*BridgeUsecase)),
)

// Transaction 事务边界, 由 data 层实现
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mutex 互斥锁 (redsync 适配)
type Mutex interface {
	LockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

// Locker 按实体 key 创建互斥锁
type Locker interface {
	NewMutex(name string) Mutex
}

// TokenTransfer 资金划转防腐层: 订阅与计费的唯一资金入口
type TokenTransfer interface {
	// Transfer 从 from 余额划转 amount 到 to, 余额不足返回错误
	Transfer(ctx context.Context, from, to uint64, amount int64) error
	// TransferFromAllowance 自动扣款路径, 额外要求预授权额度充足
	TransferFromAllowance(ctx context.Context, from, to uint64, amount int64) error
	Deposit(ctx context.Context, account uint64, amount int64) error
	Approve(ctx context.Context, account uint64, allowance int64) error
	BalanceOf(ctx context.Context, account uint64) (int64, error)
}

// Transport 跨域消息通道防腐层: 发送后立即返回, 不等待投递
type Transport interface {
	Send(ctx context.Context, targetDomain uint64, payload []byte) (string, error)
}

// Settings 运行时计费参数 (管理员可改, 持久化于 billing_settings 表)
type Settings struct {
	TreasuryAccount uint64
	GracePeriod     time.Duration
	CycleDuration   time.Duration
	RetryInterval   time.Duration
	MessageFee      int64
	Paused          bool
}

// SettingsRepo 计费参数仓库接口
type SettingsRepo interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

// SubscriptionChecker 订阅状态查询 (计量引擎用, 由 LedgerUsecase 实现)
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, account uint64) (bool, error)
}

// AutomaticRenewer 自动续费入口 (调度器用, 由 LedgerUsecase 实现)
type AutomaticRenewer interface {
	ProcessAutomaticRenewal(ctx context.Context, account, planID uint64) bool
}

// StatusPusher 订阅状态跨域推送 (订阅账本用, 由 BridgeUsecase 实现)
type StatusPusher interface {
	BroadcastStatus(ctx context.Context, account, planID uint64, active bool)
}
