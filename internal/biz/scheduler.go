package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// RenewalCandidate 一次扫描选出的待续费条目
type RenewalCandidate struct {
	AccountID uint64
	PlanID    uint64
}

// RenewalResult 续费尝试结果
type RenewalResult struct {
	AccountID uint64
	PlanID    uint64
	Success   bool
}

// SchedulerStateRepo 调度器游标与节流状态 (Redis)
type SchedulerStateRepo interface {
	GetCursor(ctx context.Context) (int, error)
	SetCursor(ctx context.Context, cursor int) error
	// ThrottleActive 最近一次尝试是否仍在重试间隔内
	ThrottleActive(ctx context.Context, account, planID uint64) (bool, error)
	// MarkAttempt 记录尝试时间, ttl 为重试间隔
	MarkAttempt(ctx context.Context, account, planID uint64, ttl time.Duration) error
}

// SchedulerUsecase 自动续费调度器: 无内部状态机, 只有轮转游标和按条目的节流时间戳.
// 由外部驱动 (cmd/cron) 周期性调用 Scan/Apply, 自身不调度.
type SchedulerUsecase struct {
	trackedRepo TrackedAccountRepo
	subRepo     SubscriptionRepo
	settings    SettingsRepo
	state       SchedulerStateRepo
	renewer     AutomaticRenewer
	log         *log.Helper
}

// NewSchedulerUsecase 创建调度器用例
func NewSchedulerUsecase(
	trackedRepo TrackedAccountRepo,
	subRepo SubscriptionRepo,
	settings SettingsRepo,
	state SchedulerStateRepo,
	renewer AutomaticRenewer,
	logger log.Logger,
) *SchedulerUsecase {
	return &SchedulerUsecase{
		trackedRepo: trackedRepo,
		subRepo:     subRepo,
		settings:    settings,
		state:       state,
		renewer:     renewer,
		log:         log.NewHelper(logger),
	}
}

// Scan 从游标起访问至多 windowSize 个跟踪账户 (环绕), 选出到期且未被节流的自动续费条目.
// 无论是否选中, 游标都按 windowSize 前进 (mod 账户数), 保证跨 tick 的公平轮转.
func (uc *SchedulerUsecase) Scan(ctx context.Context, windowSize int) (bool, []*RenewalCandidate, error) {
	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return false, nil, err
	}

	count, err := uc.trackedRepo.Count(ctx)
	if err != nil {
		return false, nil, err
	}
	if count == 0 {
		return false, nil, nil
	}
	if windowSize <= 0 {
		windowSize = 1
	}

	cursor, err := uc.state.GetCursor(ctx)
	if err != nil {
		return false, nil, err
	}
	cursor %= count

	// 环绕读取: 每个账户至多访问一次
	visit := windowSize
	if visit > count {
		visit = count
	}
	firstLen := visit
	if firstLen > count-cursor {
		firstLen = count - cursor
	}
	accounts, err := uc.trackedRepo.ListRange(ctx, cursor, cursor+firstLen)
	if err != nil {
		return false, nil, err
	}
	if rest := visit - firstLen; rest > 0 {
		wrapped, err := uc.trackedRepo.ListRange(ctx, 0, rest)
		if err != nil {
			return false, nil, err
		}
		accounts = append(accounts, wrapped...)
	}

	now := time.Now().UTC()
	var batch []*RenewalCandidate
	for _, account := range accounts {
		subs, err := uc.subRepo.ListAccountSubscriptions(ctx, account)
		if err != nil {
			uc.log.Errorf("Failed to list subscriptions for account %d: %v", account, err)
			continue
		}
		for _, sub := range subs {
			if !sub.AutoRenew || sub.Cancelled {
				continue
			}
			if !sub.EndTime.Before(now) || now.After(sub.EndTime.Add(cfg.GracePeriod)) {
				continue
			}
			throttled, err := uc.state.ThrottleActive(ctx, account, sub.PlanID)
			if err != nil {
				uc.log.Warnf("Throttle check failed for %d:%d: %v", account, sub.PlanID, err)
				continue
			}
			if throttled {
				continue
			}
			batch = append(batch, &RenewalCandidate{AccountID: account, PlanID: sub.PlanID})
		}
	}

	if err := uc.state.SetCursor(ctx, (cursor+windowSize)%count); err != nil {
		uc.log.Warnf("Failed to advance scan cursor: %v", err)
	}

	uc.log.Infof("Scan completed: visited=%d, due=%d, cursor=%d", len(accounts), len(batch), (cursor+windowSize)%count)
	return len(batch) > 0, batch, nil
}

// Apply 逐条尝试自动续费. 节流时间戳在调用续费入口之前记录; 单条失败不影响其余条目.
func (uc *SchedulerUsecase) Apply(ctx context.Context, batch []*RenewalCandidate) []*RenewalResult {
	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		uc.log.Errorf("Failed to load settings for apply: %v", err)
		return nil
	}

	results := make([]*RenewalResult, 0, len(batch))
	for _, candidate := range batch {
		if err := uc.state.MarkAttempt(ctx, candidate.AccountID, candidate.PlanID, cfg.RetryInterval); err != nil {
			uc.log.Warnf("Failed to mark attempt for %d:%d: %v", candidate.AccountID, candidate.PlanID, err)
		}

		ok := uc.renewer.ProcessAutomaticRenewal(ctx, candidate.AccountID, candidate.PlanID)
		results = append(results, &RenewalResult{
			AccountID: candidate.AccountID,
			PlanID:    candidate.PlanID,
			Success:   ok,
		})
	}

	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	uc.log.Infof("Apply completed: total=%d, success=%d", len(results), success)
	return results
}

// RegisterAccount 注册跟踪账户 (幂等)
func (uc *SchedulerUsecase) RegisterAccount(ctx context.Context, account uint64) error {
	return uc.trackedRepo.Register(ctx, account)
}

// RemoveAccount 移除跟踪账户
func (uc *SchedulerUsecase) RemoveAccount(ctx context.Context, account uint64) error {
	return uc.trackedRepo.Remove(ctx, account)
}
