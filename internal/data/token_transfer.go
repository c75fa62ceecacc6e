package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"
	billingerrors "xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tokenTransfer 资金划转实现: token_account 余额表.
// 通过 Data.DB(ctx) 取事务句柄, 在调用方事务内执行时扣款与业务状态同生共死
type tokenTransfer struct {
	data *Data
	log  *log.Helper
}

// NewTokenTransfer 创建资金划转防腐层
func NewTokenTransfer(data *Data, logger log.Logger) biz.TokenTransfer {
	return &tokenTransfer{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (t *tokenTransfer) credit(ctx context.Context, account uint64, amount int64) error {
	return t.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", amount)}),
	}).Create(&model.TokenAccount{AccountID: account, Balance: amount}).Error
}

// Transfer 从 from 余额划转 amount 到 to. 条件更新保证不透支
func (t *tokenTransfer) Transfer(ctx context.Context, from, to uint64, amount int64) error {
	if amount < 0 {
		return billingerrors.NewPaymentFailed("transfer amount must not be negative")
	}
	if amount == 0 {
		return nil
	}

	result := t.data.DB(ctx).Model(&model.TokenAccount{}).
		Where("account_id = ? AND balance >= ?", from, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		t.log.Infof("Transfer declined: account=%d, amount=%d (insufficient balance)", from, amount)
		return billingerrors.NewPaymentFailed("insufficient balance")
	}

	return t.credit(ctx, to, amount)
}

// TransferFromAllowance 自动扣款路径: 余额与预授权额度同时扣减
func (t *tokenTransfer) TransferFromAllowance(ctx context.Context, from, to uint64, amount int64) error {
	if amount < 0 {
		return billingerrors.NewPaymentFailed("transfer amount must not be negative")
	}
	if amount == 0 {
		return nil
	}

	result := t.data.DB(ctx).Model(&model.TokenAccount{}).
		Where("account_id = ? AND balance >= ? AND allowance >= ?", from, amount, amount).
		Updates(map[string]interface{}{
			"balance":   gorm.Expr("balance - ?", amount),
			"allowance": gorm.Expr("allowance - ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		t.log.Infof("Allowance transfer declined: account=%d, amount=%d", from, amount)
		return billingerrors.NewPaymentFailed("insufficient balance or allowance")
	}

	return t.credit(ctx, to, amount)
}

// Deposit 充值
func (t *tokenTransfer) Deposit(ctx context.Context, account uint64, amount int64) error {
	if amount <= 0 {
		return billingerrors.NewInvalidInput(billingerrors.ErrCodeInvalidArgument, "deposit amount must be positive")
	}
	return t.credit(ctx, account, amount)
}

// Approve 设置自动扣款预授权额度 (覆盖写)
func (t *tokenTransfer) Approve(ctx context.Context, account uint64, allowance int64) error {
	if allowance < 0 {
		return billingerrors.NewInvalidInput(billingerrors.ErrCodeInvalidArgument, "allowance must not be negative")
	}
	return t.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"allowance": allowance}),
	}).Create(&model.TokenAccount{AccountID: account, Allowance: allowance}).Error
}

// BalanceOf 查询余额
func (t *tokenTransfer) BalanceOf(ctx context.Context, account uint64) (int64, error) {
	var m model.TokenAccount
	err := t.data.DB(ctx).First(&m, "account_id = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Balance, nil
}
