package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Subscription 账户订阅记录, 以 (account, plan) 为键
type Subscription struct {
	ID        uint64
	AccountID uint64
	PlanID    uint64
	StartTime time.Time
	EndTime   time.Time
	AutoRenew bool
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveAt 订阅在指定时刻是否有效
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s != nil && !s.Cancelled && !s.EndTime.Before(now)
}

// SubscriptionRepo 订阅仓库接口
type SubscriptionRepo interface {
	// GetSubscription 按 (account, plan) 获取订阅, 不存在时返回 nil, nil
	GetSubscription(ctx context.Context, account, planID uint64) (*Subscription, error)
	SaveSubscription(ctx context.Context, sub *Subscription) error
	ListAccountSubscriptions(ctx context.Context, account uint64) ([]*Subscription, error)
	// HasActiveSubscription 账户是否存在任一未取消且未过期的订阅
	HasActiveSubscription(ctx context.Context, account uint64, now time.Time) (bool, error)
}

// TrackedAccountRepo 调度器跟踪账户索引 (密集位置索引, 删除时与末尾交换)
type TrackedAccountRepo interface {
	// Register 幂等注册
	Register(ctx context.Context, account uint64) error
	Remove(ctx context.Context, account uint64) error
	Count(ctx context.Context) (int, error)
	// ListRange 按位置区间 [start, end) 返回账户
	ListRange(ctx context.Context, start, end int) ([]uint64, error)
}

// LedgerUsecase 订阅账本业务逻辑: 套餐注册表 + 订阅状态机
type LedgerUsecase struct {
	planRepo    PlanRepo
	subRepo     SubscriptionRepo
	trackedRepo TrackedAccountRepo
	eventRepo   BillingEventRepo
	settings    SettingsRepo
	transfer    TokenTransfer
	tx          Transaction
	locker      Locker
	pusher      StatusPusher
	log         *log.Helper
}

// NewLedgerUsecase 创建订阅账本用例
func NewLedgerUsecase(
	planRepo PlanRepo,
	subRepo SubscriptionRepo,
	trackedRepo TrackedAccountRepo,
	eventRepo BillingEventRepo,
	settings SettingsRepo,
	transfer TokenTransfer,
	tx Transaction,
	locker Locker,
	pusher StatusPusher,
	logger log.Logger,
) *LedgerUsecase {
	return &LedgerUsecase{
		planRepo:    planRepo,
		subRepo:     subRepo,
		trackedRepo: trackedRepo,
		eventRepo:   eventRepo,
		settings:    settings,
		transfer:    transfer,
		tx:          tx,
		locker:      locker,
		pusher:      pusher,
		log:         log.NewHelper(logger),
	}
}

func subscriptionLockKey(account, planID uint64) string {
	return fmt.Sprintf("sub_lock:%d:%d", account, planID)
}

// Subscribe 订阅套餐: 扣费与状态写入在同一事务内
func (uc *LedgerUsecase) Subscribe(ctx context.Context, account, planID uint64, autoRenew bool) (*Subscription, error) {
	uc.log.Infof("Subscribe: account=%d, plan=%d, autoRenew=%v", account, planID, autoRenew)

	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, errors.NewSystemPaused()
	}

	plan, err := uc.planRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, errors.NewNotFound(errors.ErrCodePlanNotFound, "plan not found or inactive")
	}

	mutex := uc.locker.NewMutex(subscriptionLockKey(account, planID))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.NewStateConflict(errors.ErrCodeAlreadySubscribed, "subscription is being processed")
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock subscription %d:%d: %v", account, planID, err)
		}
	}()

	var sub *Subscription
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		existing, err := uc.subRepo.GetSubscription(ctx, account, planID)
		if err != nil {
			return err
		}
		// 未过期的订阅行 (无论是否已取消) 阻止重复订阅
		if existing != nil && !existing.EndTime.Before(now) {
			return errors.NewStateConflict(errors.ErrCodeAlreadySubscribed, "account already has an unexpired subscription for this plan")
		}

		if err := uc.transfer.Transfer(ctx, account, cfg.TreasuryAccount, plan.Price); err != nil {
			return err
		}

		if existing == nil {
			existing = &Subscription{AccountID: account, PlanID: planID}
		}
		existing.StartTime = now
		existing.EndTime = now.Add(plan.Duration())
		existing.AutoRenew = autoRenew
		existing.Cancelled = false
		existing.UpdatedAt = now
		if err := uc.subRepo.SaveSubscription(ctx, existing); err != nil {
			return err
		}

		// 标记账户存在订阅, 供调度器轮转扫描
		if err := uc.trackedRepo.Register(ctx, account); err != nil {
			return err
		}

		sub = existing
		return uc.eventRepo.AddEvent(ctx, &BillingEvent{
			AccountID: account,
			PlanID:    planID,
			Action:    constants.ActionSubscriptionCreated,
			Amount:    plan.Price,
			CreatedAt: now,
		})
	})
	if err != nil {
		uc.log.Errorf("Subscribe failed for account %d plan %d: %v", account, planID, err)
		return nil, err
	}

	uc.log.Infof("Subscription created: account=%d, plan=%d, end=%s", account, planID, sub.EndTime.Format(time.RFC3339))
	return sub, nil
}

// RenewSubscription 手动续费: 未过期时在原到期时间上顺延, 宽限期内续费则从当前时刻重新起算
func (uc *LedgerUsecase) RenewSubscription(ctx context.Context, account, planID uint64) (*Subscription, error) {
	uc.log.Infof("RenewSubscription: account=%d, plan=%d", account, planID)

	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, errors.NewSystemPaused()
	}

	plan, err := uc.planRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.NewNotFound(errors.ErrCodePlanNotFound, "plan not found")
	}

	mutex := uc.locker.NewMutex(subscriptionLockKey(account, planID))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.NewStateConflict(errors.ErrCodeAlreadySubscribed, "subscription is being processed")
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock subscription %d:%d: %v", account, planID, err)
		}
	}()

	var sub *Subscription
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		existing, err := uc.subRepo.GetSubscription(ctx, account, planID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.NewNotFound(errors.ErrCodeSubscriptionNotFound, "subscription not found")
		}
		if existing.Cancelled {
			return errors.NewStateConflict(errors.ErrCodeAlreadyCancelled, "subscription is cancelled")
		}
		if now.After(existing.EndTime.Add(cfg.GracePeriod)) {
			return errors.NewStateConflict(errors.ErrCodeRenewalWindowClosed, "renewal window is closed")
		}

		if err := uc.transfer.Transfer(ctx, account, cfg.TreasuryAccount, plan.Price); err != nil {
			return err
		}

		if existing.EndTime.Before(now) {
			// 宽限期内补续费: 从当前时刻重新起算, 不补偿已失效的时间
			existing.StartTime = now
			existing.EndTime = now.Add(plan.Duration())
		} else {
			existing.EndTime = existing.EndTime.Add(plan.Duration())
		}
		existing.UpdatedAt = now
		if err := uc.subRepo.SaveSubscription(ctx, existing); err != nil {
			return err
		}

		sub = existing
		return uc.eventRepo.AddEvent(ctx, &BillingEvent{
			AccountID: account,
			PlanID:    planID,
			Action:    constants.ActionSubscriptionRenewed,
			Amount:    plan.Price,
			CreatedAt: now,
		})
	})
	if err != nil {
		uc.log.Errorf("Renewal failed for account %d plan %d: %v", account, planID, err)
		return nil, err
	}

	uc.pusher.BroadcastStatus(ctx, account, planID, true)
	uc.log.Infof("Subscription renewed: account=%d, plan=%d, end=%s", account, planID, sub.EndTime.Format(time.RFC3339))
	return sub, nil
}

// CancelSubscription 取消订阅: 关闭自动续费并标记取消, 不退款
func (uc *LedgerUsecase) CancelSubscription(ctx context.Context, account, planID uint64) error {
	uc.log.Infof("CancelSubscription: account=%d, plan=%d", account, planID)

	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.Paused {
		return errors.NewSystemPaused()
	}

	mutex := uc.locker.NewMutex(subscriptionLockKey(account, planID))
	if err := mutex.LockContext(ctx); err != nil {
		return errors.NewStateConflict(errors.ErrCodeAlreadySubscribed, "subscription is being processed")
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock subscription %d:%d: %v", account, planID, err)
		}
	}()

	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		sub, err := uc.subRepo.GetSubscription(ctx, account, planID)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.NewNotFound(errors.ErrCodeSubscriptionNotFound, "subscription not found")
		}
		if sub.Cancelled {
			return errors.NewStateConflict(errors.ErrCodeAlreadyCancelled, "subscription is already cancelled")
		}
		if sub.EndTime.Before(now) {
			return errors.NewStateConflict(errors.ErrCodeSubscriptionExpired, "subscription has expired")
		}

		sub.AutoRenew = false
		sub.Cancelled = true
		sub.UpdatedAt = now
		if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		return uc.eventRepo.AddEvent(ctx, &BillingEvent{
			AccountID: account,
			PlanID:    planID,
			Action:    constants.ActionSubscriptionCancelled,
			CreatedAt: now,
		})
	})
	if err != nil {
		uc.log.Errorf("Cancel failed for account %d plan %d: %v", account, planID, err)
		return err
	}

	uc.pusher.BroadcastStatus(ctx, account, planID, false)
	uc.log.Infof("Subscription cancelled: account=%d, plan=%d", account, planID)
	return nil
}

// ProcessAutomaticRenewal 自动续费: 不抛错, 所有失败原因折叠为 false.
// 与手动续费不同, 自动续费总是从当前时刻重新起算到期时间.
func (uc *LedgerUsecase) ProcessAutomaticRenewal(ctx context.Context, account, planID uint64) bool {
	cfg, err := uc.settings.Get(ctx)
	if err != nil || cfg.Paused {
		return false
	}

	plan, err := uc.planRepo.GetPlan(ctx, planID)
	if err != nil || plan == nil || !plan.Active {
		return false
	}

	mutex := uc.locker.NewMutex(subscriptionLockKey(account, planID))
	if err := mutex.LockContext(ctx); err != nil {
		uc.log.Infof("Skipping auto-renew for account %d plan %d: lock busy", account, planID)
		return false
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock subscription %d:%d: %v", account, planID, err)
		}
	}()

	renewed := false
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		sub, err := uc.subRepo.GetSubscription(ctx, account, planID)
		if err != nil {
			return err
		}
		if sub == nil || !sub.AutoRenew || sub.Cancelled {
			return nil
		}
		if now.Before(sub.EndTime) {
			// 尚未到期
			return nil
		}
		if now.After(sub.EndTime.Add(cfg.GracePeriod)) {
			// 宽限期已过, 只能重新订阅
			return nil
		}

		// 自动扣款走预授权额度
		if err := uc.transfer.TransferFromAllowance(ctx, account, cfg.TreasuryAccount, plan.Price); err != nil {
			uc.log.Infof("Auto-renew charge declined for account %d plan %d: %v", account, planID, err)
			return nil
		}

		sub.StartTime = now
		sub.EndTime = now.Add(plan.Duration())
		sub.UpdatedAt = now
		if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		renewed = true
		return uc.eventRepo.AddEvent(ctx, &BillingEvent{
			AccountID: account,
			PlanID:    planID,
			Action:    constants.ActionSubscriptionAutoRenew,
			Amount:    plan.Price,
			CreatedAt: now,
		})
	})
	if err != nil {
		uc.log.Errorf("Auto-renew failed for account %d plan %d: %v", account, planID, err)
		return false
	}

	if renewed {
		uc.pusher.BroadcastStatus(ctx, account, planID, true)
		uc.log.Infof("Subscription auto-renewed: account=%d, plan=%d", account, planID)
	}
	return renewed
}

// IsSubscribed 订阅是否有效: 未取消且未过期
func (uc *LedgerUsecase) IsSubscribed(ctx context.Context, account, planID uint64) (bool, error) {
	sub, err := uc.subRepo.GetSubscription(ctx, account, planID)
	if err != nil {
		return false, err
	}
	return sub.ActiveAt(time.Now().UTC()), nil
}

// HasActiveSubscription 账户是否存在任一有效订阅
func (uc *LedgerUsecase) HasActiveSubscription(ctx context.Context, account uint64) (bool, error) {
	return uc.subRepo.HasActiveSubscription(ctx, account, time.Now().UTC())
}

// GetSubscription 获取订阅详情
func (uc *LedgerUsecase) GetSubscription(ctx context.Context, account, planID uint64) (*Subscription, error) {
	sub, err := uc.subRepo.GetSubscription(ctx, account, planID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.NewNotFound(errors.ErrCodeSubscriptionNotFound, "subscription not found")
	}
	return sub, nil
}

// ListAccountSubscriptions 获取账户全部订阅
func (uc *LedgerUsecase) ListAccountSubscriptions(ctx context.Context, account uint64) ([]*Subscription, error) {
	return uc.subRepo.ListAccountSubscriptions(ctx, account)
}

// SetAutoRenew 开关自动续费 (已取消的订阅不可再开启)
func (uc *LedgerUsecase) SetAutoRenew(ctx context.Context, account, planID uint64, autoRenew bool) error {
	sub, err := uc.subRepo.GetSubscription(ctx, account, planID)
	if err != nil {
		return err
	}
	if sub == nil {
		return errors.NewNotFound(errors.ErrCodeSubscriptionNotFound, "subscription not found")
	}
	if sub.Cancelled && autoRenew {
		return errors.NewStateConflict(errors.ErrCodeAlreadyCancelled, "cannot enable auto-renew on a cancelled subscription")
	}

	sub.AutoRenew = autoRenew
	sub.UpdatedAt = time.Now().UTC()
	return uc.subRepo.SaveSubscription(ctx, sub)
}

// UpdateSettings 管理员更新计费参数, nil 字段保持不变
func (uc *LedgerUsecase) UpdateSettings(ctx context.Context, apply func(*Settings)) (*Settings, error) {
	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	apply(cfg)
	if err := uc.settings.Update(ctx, cfg); err != nil {
		return nil, err
	}
	uc.log.Infof("Billing settings updated: treasury=%d, grace=%s, cycle=%s, paused=%v",
		cfg.TreasuryAccount, cfg.GracePeriod, cfg.CycleDuration, cfg.Paused)
	return cfg, nil
}

// GetSettings 读取当前计费参数
func (uc *LedgerUsecase) GetSettings(ctx context.Context) (*Settings, error) {
	return uc.settings.Get(ctx)
}
