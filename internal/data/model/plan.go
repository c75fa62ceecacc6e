package model

import "time"

// Plan 套餐模型. ID 密集自增, 从不复用; 套餐只停用不删除
type Plan struct {
	PlanID          uint64    `gorm:"primaryKey;autoIncrement;column:plan_id"`
	Name            string    `gorm:"column:name;not null"`
	Price           int64     `gorm:"column:price;not null"` // 最小支付单位
	DurationSeconds int64     `gorm:"column:duration_seconds;not null"`
	Active          bool      `gorm:"column:active;default:true"`
	Features        string    `gorm:"column:features;type:text"` // JSON 数组
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plan" }
