package model

import "time"

// UserUsage 账户用量模型, (account_id, service_id) 唯一.
// cycle_start 零值表示无已开启的计费周期
type UserUsage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement;column:user_usage_id"`
	AccountID      uint64    `gorm:"column:account_id;uniqueIndex:idx_account_service"`
	ServiceID      uint64    `gorm:"column:service_id;uniqueIndex:idx_account_service"`
	TotalUsage     int64     `gorm:"column:total_usage"`
	BilledUsage    int64     `gorm:"column:billed_usage"`
	LastRecordTime time.Time `gorm:"column:last_record_time"`
	CycleStart     time.Time `gorm:"column:cycle_start"`
	CycleEnd       time.Time `gorm:"column:cycle_end"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (UserUsage) TableName() string { return "user_usage" }

// UsageRecorder 授权记录员
type UsageRecorder struct {
	AccountID uint64    `gorm:"primaryKey;column:account_id"`
	Allowed   bool      `gorm:"column:allowed;default:true"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UsageRecorder) TableName() string { return "usage_recorder" }
