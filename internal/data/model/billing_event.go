package model

import "time"

// BillingEvent 账单审计事件, append-only
type BillingEvent struct {
	BillingEventID uint64    `gorm:"primaryKey;autoIncrement;column:billing_event_id"`
	AccountID      uint64    `gorm:"column:account_id;index:idx_account"`
	PlanID         uint64    `gorm:"column:plan_id"`
	ServiceID      uint64    `gorm:"column:service_id"`
	Action         string    `gorm:"column:action;not null"`
	Amount         int64     `gorm:"column:amount"`
	Detail         string    `gorm:"column:detail"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (BillingEvent) TableName() string { return "billing_event" }
