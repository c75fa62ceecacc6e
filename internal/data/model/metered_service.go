package model

import "time"

// MeteredService 计量服务模型
type MeteredService struct {
	ServiceID   uint64    `gorm:"primaryKey;autoIncrement;column:service_id"`
	Name        string    `gorm:"column:name;not null"`
	Provider    uint64    `gorm:"column:provider;index:idx_provider"`
	RatePerUnit int64     `gorm:"column:rate_per_unit;not null"`
	MinUsage    int64     `gorm:"column:min_usage"`
	MaxUsage    int64     `gorm:"column:max_usage"`
	Active      bool      `gorm:"column:active;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (MeteredService) TableName() string { return "metered_service" }

// ProviderServiceIndex provider 到服务的镜像索引, provider 变更时与主记录同一事务内迁移
type ProviderServiceIndex struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement;column:id"`
	Provider  uint64 `gorm:"column:provider;uniqueIndex:idx_provider_service"`
	ServiceID uint64 `gorm:"column:service_id;uniqueIndex:idx_provider_service"`
}

func (ProviderServiceIndex) TableName() string { return "provider_service_index" }
