package data

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// billingEventRepo 账单事件仓库实现
type billingEventRepo struct {
	data *Data
	log  *log.Helper
}

// NewBillingEventRepo 创建账单事件仓库
func NewBillingEventRepo(data *Data, logger log.Logger) biz.BillingEventRepo {
	return &billingEventRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AddEvent 追加事件
func (r *billingEventRepo) AddEvent(ctx context.Context, event *biz.BillingEvent) error {
	m := &model.BillingEvent{
		AccountID: event.AccountID,
		PlanID:    event.PlanID,
		ServiceID: event.ServiceID,
		Action:    event.Action,
		Amount:    event.Amount,
		Detail:    event.Detail,
		CreatedAt: event.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to add billing event: %v", err)
		return err
	}
	event.BillingEventID = m.BillingEventID
	return nil
}

// ListEvents 按账户分页读取事件
func (r *billingEventRepo) ListEvents(ctx context.Context, account uint64, page, pageSize int) ([]*biz.BillingEvent, int, error) {
	var total int64
	if err := r.data.DB(ctx).Model(&model.BillingEvent{}).
		Where("account_id = ?", account).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []model.BillingEvent
	offset := (page - 1) * pageSize
	if err := r.data.DB(ctx).
		Where("account_id = ?", account).
		Order("billing_event_id DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list billing events for account %d: %v", account, err)
		return nil, 0, err
	}

	events := make([]*biz.BillingEvent, len(models))
	for i, m := range models {
		events[i] = &biz.BillingEvent{
			BillingEventID: m.BillingEventID,
			AccountID:      m.AccountID,
			PlanID:         m.PlanID,
			ServiceID:      m.ServiceID,
			Action:         m.Action,
			Amount:         m.Amount,
			Detail:         m.Detail,
			CreatedAt:      m.CreatedAt,
		}
	}
	return events, int(total), nil
}
