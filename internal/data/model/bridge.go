package model

import "time"

// TrustedPeer 可信对端注册项, 按域唯一
type TrustedPeer struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement;column:trusted_peer_id"`
	DomainID    uint64    `gorm:"column:domain_id;uniqueIndex:idx_domain"`
	PeerAddress string    `gorm:"column:peer_address;not null"`
	Trusted     bool      `gorm:"column:trusted;default:false"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TrustedPeer) TableName() string { return "trusted_peer" }

// CrossDomainSubscription 远端订阅状态缓存, (domain, account, plan) 唯一
type CrossDomainSubscription struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;column:cross_domain_subscription_id"`
	DomainID  uint64    `gorm:"column:domain_id;uniqueIndex:idx_domain_account_plan"`
	AccountID uint64    `gorm:"column:account_id;uniqueIndex:idx_domain_account_plan"`
	PlanID    uint64    `gorm:"column:plan_id;uniqueIndex:idx_domain_account_plan"`
	Active    bool      `gorm:"column:active;default:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CrossDomainSubscription) TableName() string { return "cross_domain_subscription" }

// FeeBalance 按目标域预存的消息费余额
type FeeBalance struct {
	DomainID  uint64    `gorm:"primaryKey;column:domain_id"`
	Balance   int64     `gorm:"column:balance;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FeeBalance) TableName() string { return "fee_balance" }
