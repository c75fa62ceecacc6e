package model

import "time"

// TrackedAccount 调度器跟踪账户, position 构成密集索引 [0, count);
// 删除时末位账户换入空出的位置
type TrackedAccount struct {
	AccountID uint64    `gorm:"primaryKey;column:account_id"`
	Position  int       `gorm:"column:position;uniqueIndex:idx_position"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (TrackedAccount) TableName() string { return "tracked_account" }

// BillingSettings 运行时计费参数单行表 (id 恒为 1), 首次启动用配置默认值种子化
type BillingSettings struct {
	ID                   uint64    `gorm:"primaryKey;column:id"`
	TreasuryAccount      uint64    `gorm:"column:treasury_account"`
	GracePeriodSeconds   int64     `gorm:"column:grace_period_seconds"`
	CycleDurationSeconds int64     `gorm:"column:cycle_duration_seconds"`
	RetryIntervalSeconds int64     `gorm:"column:retry_interval_seconds"`
	MessageFee           int64     `gorm:"column:message_fee"`
	Paused               bool      `gorm:"column:paused;default:false"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingSettings) TableName() string { return "billing_settings" }
