package model

import "time"

// Subscription 账户订阅模型, (account_id, plan_id) 唯一
type Subscription struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;column:subscription_id"`
	AccountID uint64    `gorm:"column:account_id;uniqueIndex:idx_account_plan;index:idx_account"`
	PlanID    uint64    `gorm:"column:plan_id;uniqueIndex:idx_account_plan"`
	StartTime time.Time `gorm:"column:start_time"`
	EndTime   time.Time `gorm:"column:end_time;index:idx_end_time"`
	AutoRenew bool      `gorm:"column:auto_renew;default:false"`
	Cancelled bool      `gorm:"column:cancelled;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "subscription" }
