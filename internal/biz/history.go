package biz

import (
	"context"
	"time"
)

// BillingEvent 账单审计事件 (append-only), 足以重建账户的完整计费历史
type BillingEvent struct {
	BillingEventID uint64
	AccountID      uint64
	PlanID         uint64
	ServiceID      uint64
	Action         string // subscription_created, subscription_renewed, cycle_settled, ...
	Amount         int64
	Detail         string
	CreatedAt      time.Time
}

// BillingEventRepo 账单事件仓库接口
type BillingEventRepo interface {
	AddEvent(ctx context.Context, event *BillingEvent) error
	ListEvents(ctx context.Context, account uint64, page, pageSize int) ([]*BillingEvent, int, error)
}

// GetBillingHistory 获取账户账单历史
func (uc *LedgerUsecase) GetBillingHistory(ctx context.Context, account uint64, page, pageSize int) ([]*BillingEvent, int, error) {
	// 参数验证
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	items, total, err := uc.eventRepo.ListEvents(ctx, account, page, pageSize)
	if err != nil {
		uc.log.Errorf("Failed to get billing history: %v", err)
		return nil, 0, err
	}
	return items, total, nil
}
