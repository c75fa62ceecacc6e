package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// subscriptionRepo 订阅仓库实现
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅仓库
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func subscriptionToBiz(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:        m.ID,
		AccountID: m.AccountID,
		PlanID:    m.PlanID,
		StartTime: m.StartTime,
		EndTime:   m.EndTime,
		AutoRenew: m.AutoRenew,
		Cancelled: m.Cancelled,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// GetSubscription 按 (account, plan) 获取订阅
func (r *subscriptionRepo) GetSubscription(ctx context.Context, account, planID uint64) (*biz.Subscription, error) {
	var m model.Subscription
	err := r.data.DB(ctx).Where("account_id = ? AND plan_id = ?", account, planID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get subscription %d:%d: %v", account, planID, err)
		return nil, err
	}
	return subscriptionToBiz(&m), nil
}

// SaveSubscription 保存订阅
func (r *subscriptionRepo) SaveSubscription(ctx context.Context, sub *biz.Subscription) error {
	m := &model.Subscription{
		ID:        sub.ID,
		AccountID: sub.AccountID,
		PlanID:    sub.PlanID,
		StartTime: sub.StartTime,
		EndTime:   sub.EndTime,
		AutoRenew: sub.AutoRenew,
		Cancelled: sub.Cancelled,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save subscription %d:%d: %v", sub.AccountID, sub.PlanID, err)
		return err
	}
	sub.ID = m.ID
	return nil
}

// ListAccountSubscriptions 获取账户全部订阅
func (r *subscriptionRepo) ListAccountSubscriptions(ctx context.Context, account uint64) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).Where("account_id = ?", account).Order("plan_id ASC").Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list subscriptions for account %d: %v", account, err)
		return nil, err
	}

	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = subscriptionToBiz(&models[i])
	}
	return subs, nil
}

// HasActiveSubscription 账户是否存在未取消且未过期的订阅
func (r *subscriptionRepo) HasActiveSubscription(ctx context.Context, account uint64, now time.Time) (bool, error) {
	var count int64
	if err := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("account_id = ? AND cancelled = ? AND end_time >= ?", account, false, now).
		Count(&count).Error; err != nil {
		r.log.Errorf("Failed to count active subscriptions for account %d: %v", account, err)
		return false, err
	}
	return count > 0, nil
}
