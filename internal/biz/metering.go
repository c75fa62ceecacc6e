package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// MeteredService 按量计费服务
type MeteredService struct {
	ID          uint64
	Name        string
	Provider    uint64
	RatePerUnit int64
	MinUsage    int64
	MaxUsage    int64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserUsage 账户用量记录, 以 (account, service) 为键
type UserUsage struct {
	ID             uint64
	AccountID      uint64
	ServiceID      uint64
	TotalUsage     int64 // 周期内只增不减, 周期重置时归零
	BilledUsage    int64 // 始终 <= TotalUsage
	LastRecordTime time.Time
	CycleStart     time.Time // 零值表示无已开启周期
	CycleEnd       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CycleOpen 是否存在已开启的计费周期
func (u *UserUsage) CycleOpen() bool {
	return u != nil && !u.CycleStart.IsZero()
}

// MeteredServiceRepo 计量服务仓库接口
type MeteredServiceRepo interface {
	// CreateService 创建服务并回填自增 ID, 同时写入 provider 索引
	CreateService(ctx context.Context, svc *MeteredService) error
	// GetService 根据ID获取服务, 不存在时返回 nil, nil
	GetService(ctx context.Context, id uint64) (*MeteredService, error)
	UpdateService(ctx context.Context, svc *MeteredService) error
	// ReassignProvider 原子地把服务从旧 provider 索引移入新 provider 索引
	ReassignProvider(ctx context.Context, id, oldProvider, newProvider uint64) error
	ListServicesByProvider(ctx context.Context, provider uint64) ([]*MeteredService, error)
}

// UserUsageRepo 用量仓库接口
type UserUsageRepo interface {
	// GetUsage 按 (account, service) 获取用量, 不存在时返回 nil, nil
	GetUsage(ctx context.Context, account, serviceID uint64) (*UserUsage, error)
	SaveUsage(ctx context.Context, usage *UserUsage) error
}

// RecorderRepo 授权记录员集合
type RecorderRepo interface {
	IsRecorder(ctx context.Context, account uint64) (bool, error)
	SetRecorder(ctx context.Context, account uint64, allowed bool) error
}

// UsageRecordResult 批量记录单条结果
type UsageRecordResult struct {
	AccountID    uint64
	Amount       int64
	Success      bool
	ErrorMessage string
}

// SettlementResult 批量结算单条结果
type SettlementResult struct {
	AccountID    uint64
	BilledAmount int64
	Success      bool
	ErrorMessage string
}

// MeteringUsecase 计量计费业务逻辑
type MeteringUsecase struct {
	svcRepo      MeteredServiceRepo
	usageRepo    UserUsageRepo
	recorderRepo RecorderRepo
	eventRepo    BillingEventRepo
	settings     SettingsRepo
	subChecker   SubscriptionChecker
	transfer     TokenTransfer
	tx           Transaction
	locker       Locker
	log          *log.Helper
}

// NewMeteringUsecase 创建计量计费用例
func NewMeteringUsecase(
	svcRepo MeteredServiceRepo,
	usageRepo UserUsageRepo,
	recorderRepo RecorderRepo,
	eventRepo BillingEventRepo,
	settings SettingsRepo,
	subChecker SubscriptionChecker,
	transfer TokenTransfer,
	tx Transaction,
	locker Locker,
	logger log.Logger,
) *MeteringUsecase {
	return &MeteringUsecase{
		svcRepo:      svcRepo,
		usageRepo:    usageRepo,
		recorderRepo: recorderRepo,
		eventRepo:    eventRepo,
		settings:     settings,
		subChecker:   subChecker,
		transfer:     transfer,
		tx:           tx,
		locker:       locker,
		log:          log.NewHelper(logger),
	}
}

func usageLockKey(account, serviceID uint64) string {
	return fmt.Sprintf("usage_lock:%d:%d", account, serviceID)
}

// RegisterService 注册计量服务
func (uc *MeteringUsecase) RegisterService(ctx context.Context, name string, provider uint64, ratePerUnit, minUsage, maxUsage int64) (*MeteredService, error) {
	uc.log.Infof("RegisterService: name=%s, provider=%d, rate=%d", name, provider, ratePerUnit)

	if name == "" {
		return nil, errors.NewInvalidInput(errors.ErrCodeServiceInvalid, "service name is required")
	}
	if ratePerUnit <= 0 {
		return nil, errors.NewInvalidInput(errors.ErrCodeServiceInvalid, "rate per unit must be positive")
	}
	if minUsage >= maxUsage {
		return nil, errors.NewInvalidInput(errors.ErrCodeServiceInvalid, "min usage must be strictly below max usage")
	}

	svc := &MeteredService{
		Name:        name,
		Provider:    provider,
		RatePerUnit: ratePerUnit,
		MinUsage:    minUsage,
		MaxUsage:    maxUsage,
		Active:      true,
	}
	if err := uc.svcRepo.CreateService(ctx, svc); err != nil {
		uc.log.Errorf("Failed to register service: %v", err)
		return nil, err
	}

	uc.log.Infof("Metered service %d registered", svc.ID)
	return svc, nil
}

// UpdateService 更新计量服务; provider 变更会同步迁移 provider 索引
func (uc *MeteringUsecase) UpdateService(ctx context.Context, id uint64, name string, provider uint64, ratePerUnit, minUsage, maxUsage int64, active bool) (*MeteredService, error) {
	svc, err := uc.svcRepo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.NewNotFound(errors.ErrCodeServiceNotFound, "metered service not found")
	}

	if name == "" || ratePerUnit <= 0 || minUsage >= maxUsage {
		return nil, errors.NewInvalidInput(errors.ErrCodeServiceInvalid, "invalid service parameters")
	}

	oldProvider := svc.Provider
	svc.Name = name
	svc.Provider = provider
	svc.RatePerUnit = ratePerUnit
	svc.MinUsage = minUsage
	svc.MaxUsage = maxUsage
	svc.Active = active

	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		if err := uc.svcRepo.UpdateService(ctx, svc); err != nil {
			return err
		}
		if oldProvider != provider {
			return uc.svcRepo.ReassignProvider(ctx, id, oldProvider, provider)
		}
		return nil
	})
	if err != nil {
		uc.log.Errorf("Failed to update service %d: %v", id, err)
		return nil, err
	}
	return svc, nil
}

// ListProviderServices 获取 provider 名下服务
func (uc *MeteringUsecase) ListProviderServices(ctx context.Context, provider uint64) ([]*MeteredService, error) {
	return uc.svcRepo.ListServicesByProvider(ctx, provider)
}

// SetRecorder 管理员授权/回收记录员资格
func (uc *MeteringUsecase) SetRecorder(ctx context.Context, account uint64, allowed bool) error {
	if err := uc.recorderRepo.SetRecorder(ctx, account, allowed); err != nil {
		return err
	}
	uc.log.Infof("Recorder %d set to %v", account, allowed)
	return nil
}

// authorizeCaller 记录员/服务 provider/管理员可以调用记录与结算入口
func (uc *MeteringUsecase) authorizeCaller(ctx context.Context, caller uint64, svc *MeteredService) error {
	if auth.IsAdmin(ctx) || caller == svc.Provider {
		return nil
	}
	ok, err := uc.recorderRepo.IsRecorder(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewUnauthorized("caller is not a recorder or the service provider")
	}
	return nil
}

// RecordUsage 记录用量. 周期跨越时先结算已关闭的周期, 再开启新周期并清零计数
func (uc *MeteringUsecase) RecordUsage(ctx context.Context, caller, account, serviceID uint64, amount int64) error {
	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.Paused {
		return errors.NewSystemPaused()
	}
	if amount <= 0 {
		return errors.NewInvalidInput(errors.ErrCodeInvalidUsageAmount, "usage amount must be positive")
	}

	svc, err := uc.svcRepo.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc == nil {
		return errors.NewNotFound(errors.ErrCodeServiceNotFound, "metered service not found")
	}
	if !svc.Active {
		return errors.NewStateConflict(errors.ErrCodeServiceInactive, "metered service is inactive")
	}
	if err := uc.authorizeCaller(ctx, caller, svc); err != nil {
		return err
	}

	active, err := uc.subChecker.HasActiveSubscription(ctx, account)
	if err != nil {
		return err
	}
	if !active {
		return errors.NewStateConflict(errors.ErrCodeNoActiveSubscription, "account has no active subscription")
	}

	mutex := uc.locker.NewMutex(usageLockKey(account, serviceID))
	if err := mutex.LockContext(ctx); err != nil {
		return errors.NewStateConflict(errors.ErrCodeInvalidUsageAmount, "usage is being processed")
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock usage %d:%d: %v", account, serviceID, err)
		}
	}()

	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		usage, err := uc.usageRepo.GetUsage(ctx, account, serviceID)
		if err != nil {
			return err
		}
		if usage == nil {
			usage = &UserUsage{AccountID: account, ServiceID: serviceID}
		}

		switch {
		case !usage.CycleOpen():
			usage.CycleStart = now
			usage.CycleEnd = now.Add(cfg.CycleDuration)
		case now.After(usage.CycleEnd):
			// 跨周期: 先结算已关闭的周期, 再重置计数并开启新周期
			if _, err := uc.settleLocked(ctx, svc, usage, now); err != nil {
				return err
			}
			usage.TotalUsage = 0
			usage.BilledUsage = 0
			usage.CycleStart = now
			usage.CycleEnd = now.Add(cfg.CycleDuration)
		}

		usage.TotalUsage += amount
		usage.LastRecordTime = now
		usage.UpdatedAt = now
		if err := uc.usageRepo.SaveUsage(ctx, usage); err != nil {
			return err
		}

		return uc.eventRepo.AddEvent(ctx, &BillingEvent{
			AccountID: account,
			ServiceID: serviceID,
			Action:    constants.ActionUsageRecorded,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		uc.log.Errorf("RecordUsage failed for account %d service %d: %v", account, serviceID, err)
		return err
	}
	return nil
}

// BatchRecordUsage 批量记录用量. 无效账户/数值/无活跃订阅的条目静默跳过, 不影响其余条目
func (uc *MeteringUsecase) BatchRecordUsage(ctx context.Context, caller uint64, accounts []uint64, serviceID uint64, amounts []int64) ([]*UsageRecordResult, error) {
	if len(accounts) != len(amounts) {
		return nil, errors.NewInvalidInput(errors.ErrCodeInvalidUsageAmount, "accounts and amounts length mismatch")
	}

	results := make([]*UsageRecordResult, 0, len(accounts))
	for i, account := range accounts {
		result := &UsageRecordResult{AccountID: account, Amount: amounts[i]}
		if err := uc.RecordUsage(ctx, caller, account, serviceID, amounts[i]); err != nil {
			result.ErrorMessage = err.Error()
			uc.log.Infof("Batch record skipped account %d: %v", account, err)
		} else {
			result.Success = true
		}
		results = append(results, result)
	}
	return results, nil
}

// settleLocked 结算当前周期未计费用量. 调用方必须已持有用量锁并处于事务中.
func (uc *MeteringUsecase) settleLocked(ctx context.Context, svc *MeteredService, usage *UserUsage, now time.Time) (int64, error) {
	billable := usage.TotalUsage - usage.BilledUsage
	if billable == 0 {
		return 0, nil
	}

	clamped := billable
	if clamped < svc.MinUsage {
		clamped = svc.MinUsage
	}
	if clamped > svc.MaxUsage {
		clamped = svc.MaxUsage
	}
	amount := clamped * svc.RatePerUnit

	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return 0, err
	}

	// 先转账再落计费标记: 转账被拒时 BilledUsage 保持原值
	if err := uc.transfer.Transfer(ctx, usage.AccountID, cfg.TreasuryAccount, amount); err != nil {
		return 0, err
	}

	// BilledUsage 直接跳到 TotalUsage: 即使 clamp 后的计费量与实际增量不同,
	// 全部未计费用量也视为已结清
	usage.BilledUsage = usage.TotalUsage
	usage.UpdatedAt = now
	if err := uc.usageRepo.SaveUsage(ctx, usage); err != nil {
		return 0, err
	}

	if err := uc.eventRepo.AddEvent(ctx, &BillingEvent{
		AccountID: usage.AccountID,
		ServiceID: usage.ServiceID,
		Action:    constants.ActionCycleSettled,
		Amount:    amount,
		Detail:    fmt.Sprintf("billable=%d clamped=%d", billable, clamped),
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}
	return amount, nil
}

// SettleBillingCycle 结算账户当前周期, 返回计费金额. 计费标记与转账同一事务, 转账失败则全部回滚
func (uc *MeteringUsecase) SettleBillingCycle(ctx context.Context, caller, account, serviceID uint64) (int64, error) {
	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.Paused {
		return 0, errors.NewSystemPaused()
	}

	svc, err := uc.svcRepo.GetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	if svc == nil {
		return 0, errors.NewNotFound(errors.ErrCodeServiceNotFound, "metered service not found")
	}
	if err := uc.authorizeCaller(ctx, caller, svc); err != nil {
		return 0, err
	}

	mutex := uc.locker.NewMutex(usageLockKey(account, serviceID))
	if err := mutex.LockContext(ctx); err != nil {
		return 0, errors.NewStateConflict(errors.ErrCodeNoOpenCycle, "usage is being processed")
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to unlock usage %d:%d: %v", account, serviceID, err)
		}
	}()

	var billed int64
	err = uc.tx.Exec(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		usage, err := uc.usageRepo.GetUsage(ctx, account, serviceID)
		if err != nil {
			return err
		}
		if usage == nil {
			return nil
		}

		billed, err = uc.settleLocked(ctx, svc, usage, now)
		return err
	})
	if err != nil {
		uc.log.Errorf("Settlement failed for account %d service %d: %v", account, serviceID, err)
		return 0, err
	}

	uc.log.Infof("Cycle settled: account=%d, service=%d, billed=%d", account, serviceID, billed)
	return billed, nil
}

// BatchSettleBillingCycles 批量结算. 单账户失败 (如余额不足) 被捕获并跳过, 返回聚合计数
func (uc *MeteringUsecase) BatchSettleBillingCycles(ctx context.Context, caller uint64, accounts []uint64, serviceID uint64) (int, int64, []*SettlementResult, error) {
	results := make([]*SettlementResult, 0, len(accounts))
	successCount := 0
	var totalBilled int64

	for _, account := range accounts {
		result := &SettlementResult{AccountID: account}
		amount, err := uc.SettleBillingCycle(ctx, caller, account, serviceID)
		if err != nil {
			result.ErrorMessage = err.Error()
			uc.log.Infof("Batch settle skipped account %d: %v", account, err)
		} else {
			result.Success = true
			result.BilledAmount = amount
			successCount++
			totalBilled += amount
		}
		results = append(results, result)
	}

	uc.log.Infof("Batch settlement completed: total=%d, success=%d, billed=%d", len(accounts), successCount, totalBilled)
	return successCount, totalBilled, results, nil
}

// CalculateCurrentBilling 当前周期应计费金额的只读投影, 不改状态
func (uc *MeteringUsecase) CalculateCurrentBilling(ctx context.Context, account, serviceID uint64) (int64, error) {
	svc, err := uc.svcRepo.GetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	if svc == nil {
		return 0, errors.NewNotFound(errors.ErrCodeServiceNotFound, "metered service not found")
	}

	usage, err := uc.usageRepo.GetUsage(ctx, account, serviceID)
	if err != nil {
		return 0, err
	}
	if usage == nil {
		return 0, nil
	}

	billable := usage.TotalUsage - usage.BilledUsage
	if billable == 0 {
		return 0, nil
	}
	if billable < svc.MinUsage {
		billable = svc.MinUsage
	}
	if billable > svc.MaxUsage {
		billable = svc.MaxUsage
	}
	return billable * svc.RatePerUnit, nil
}

// GetTimeUntilNextBillingCycle 距当前周期结束的剩余时间; 无周期或已过期返回 0
func (uc *MeteringUsecase) GetTimeUntilNextBillingCycle(ctx context.Context, account, serviceID uint64) (time.Duration, error) {
	usage, err := uc.usageRepo.GetUsage(ctx, account, serviceID)
	if err != nil {
		return 0, err
	}
	if usage == nil || !usage.CycleOpen() {
		return 0, nil
	}

	remaining := time.Until(usage.CycleEnd)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
