package model

import "time"

// TokenAccount 资金账户: 余额与自动扣款预授权额度
type TokenAccount struct {
	AccountID uint64    `gorm:"primaryKey;column:account_id"`
	Balance   int64     `gorm:"column:balance;default:0"`
	Allowance int64     `gorm:"column:allowance;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TokenAccount) TableName() string { return "token_account" }
