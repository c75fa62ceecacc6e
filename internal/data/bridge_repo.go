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

// trustedPeerRepo 可信对端仓库实现
type trustedPeerRepo struct {
	data *Data
	log  *log.Helper
}

// NewTrustedPeerRepo 创建可信对端仓库
func NewTrustedPeerRepo(data *Data, logger log.Logger) biz.TrustedPeerRepo {
	return &trustedPeerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// SetPeer 配置对端 (按域覆盖写)
func (r *trustedPeerRepo) SetPeer(ctx context.Context, peer *biz.TrustedPeer) error {
	return r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"peer_address": peer.PeerAddress,
			"trusted":      peer.Trusted,
		}),
	}).Create(&model.TrustedPeer{
		DomainID:    peer.DomainID,
		PeerAddress: peer.PeerAddress,
		Trusted:     peer.Trusted,
	}).Error
}

// GetPeer 按域ID获取对端
func (r *trustedPeerRepo) GetPeer(ctx context.Context, domainID uint64) (*biz.TrustedPeer, error) {
	var m model.TrustedPeer
	err := r.data.DB(ctx).First(&m, "domain_id = ?", domainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get peer for domain %d: %v", domainID, err)
		return nil, err
	}
	return &biz.TrustedPeer{
		ID:          m.ID,
		DomainID:    m.DomainID,
		PeerAddress: m.PeerAddress,
		Trusted:     m.Trusted,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// ListTrusted 获取所有已信任的对端
func (r *trustedPeerRepo) ListTrusted(ctx context.Context) ([]*biz.TrustedPeer, error) {
	var models []model.TrustedPeer
	if err := r.data.DB(ctx).Where("trusted = ?", true).Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list trusted peers: %v", err)
		return nil, err
	}

	peers := make([]*biz.TrustedPeer, len(models))
	for i, m := range models {
		peers[i] = &biz.TrustedPeer{
			ID:          m.ID,
			DomainID:    m.DomainID,
			PeerAddress: m.PeerAddress,
			Trusted:     m.Trusted,
			UpdatedAt:   m.UpdatedAt,
		}
	}
	return peers, nil
}

// crossDomainSubscriptionRepo 远端订阅状态缓存仓库实现
type crossDomainSubscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewCrossDomainSubscriptionRepo 创建远端订阅状态缓存仓库
func NewCrossDomainSubscriptionRepo(data *Data, logger log.Logger) biz.CrossDomainSubscriptionRepo {
	return &crossDomainSubscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Get 读取缓存项
func (r *crossDomainSubscriptionRepo) Get(ctx context.Context, domainID, account, planID uint64) (*biz.CrossDomainSubscription, error) {
	var m model.CrossDomainSubscription
	err := r.data.DB(ctx).
		Where("domain_id = ? AND account_id = ? AND plan_id = ?", domainID, account, planID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get cross-domain record %d:%d:%d: %v", domainID, account, planID, err)
		return nil, err
	}
	return &biz.CrossDomainSubscription{
		ID:        m.ID,
		DomainID:  m.DomainID,
		AccountID: m.AccountID,
		PlanID:    m.PlanID,
		Active:    m.Active,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// Upsert 幂等覆盖写 (last-write-wins)
func (r *crossDomainSubscriptionRepo) Upsert(ctx context.Context, domainID, account, planID uint64, active bool) error {
	return r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain_id"}, {Name: "account_id"}, {Name: "plan_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"active": active}),
	}).Create(&model.CrossDomainSubscription{
		DomainID:  domainID,
		AccountID: account,
		PlanID:    planID,
		Active:    active,
	}).Error
}

// feeBalanceRepo 消息费余额仓库实现
type feeBalanceRepo struct {
	data *Data
	log  *log.Helper
}

// NewFeeBalanceRepo 创建消息费余额仓库
func NewFeeBalanceRepo(data *Data, logger log.Logger) biz.FeeBalanceRepo {
	return &feeBalanceRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Balance 查询余额
func (r *feeBalanceRepo) Balance(ctx context.Context, domainID uint64) (int64, error) {
	var m model.FeeBalance
	err := r.data.DB(ctx).First(&m, "domain_id = ?", domainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Balance, nil
}

// Deposit 预存消息费
func (r *feeBalanceRepo) Deposit(ctx context.Context, domainID uint64, amount int64) error {
	return r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", amount)}),
	}).Create(&model.FeeBalance{DomainID: domainID, Balance: amount}).Error
}

// Debit 扣减消息费, 不允许透支
func (r *feeBalanceRepo) Debit(ctx context.Context, domainID uint64, amount int64) error {
	if amount == 0 {
		return nil
	}
	result := r.data.DB(ctx).Model(&model.FeeBalance{}).
		Where("domain_id = ? AND balance >= ?", domainID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		r.log.Infof("Fee debit declined: domain=%d, amount=%d", domainID, amount)
		return billingerrors.New(billingerrors.ErrCodeInsufficientFeeBalance, billingerrors.ReasonPaymentFailed, "insufficient message fee balance")
	}
	return nil
}
