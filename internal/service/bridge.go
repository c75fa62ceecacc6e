package service

import (
	"context"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/biz"
)

// BridgeService 跨域同步桥服务
type BridgeService struct {
	uc *biz.BridgeUsecase
}

// NewBridgeService 创建跨域同步桥服务实例
func NewBridgeService(uc *biz.BridgeUsecase) *BridgeService {
	return &BridgeService{uc: uc}
}

// SetTrustedPeerRequest 互信对端配置请求
type SetTrustedPeerRequest struct {
	DomainID    uint64 `json:"domain_id"`
	PeerAddress string `json:"peer_address"`
	Trusted     bool   `json:"trusted"`
}

// SetTrustedPeer 配置互信对端 (仅管理员)
func (s *BridgeService) SetTrustedPeer(ctx context.Context, req *SetTrustedPeerRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.SetTrustedPeer(ctx, req.DomainID, req.PeerAddress, req.Trusted)
}

// DepositFeesRequest 消息费预存请求
type DepositFeesRequest struct {
	DomainID uint64 `json:"domain_id"`
	Amount   int64  `json:"amount"`
}

// DepositFees 预存目标域的消息费 (仅管理员)
func (s *BridgeService) DepositFees(ctx context.Context, req *DepositFeesRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.DepositMessageFees(ctx, req.DomainID, req.Amount)
}

// BridgeSendRequest 跨域消息发送请求
type BridgeSendRequest struct {
	TargetDomain uint64 `json:"target_domain"`
	AccountID    uint64 `json:"account_id"`
	PlanID       uint64 `json:"plan_id"`
	IsActive     bool   `json:"is_active"`
}

// BridgeSendReply 跨域消息发送结果
type BridgeSendReply struct {
	MessageID string `json:"message_id"`
}

// RequestValidation 向目标域发起订阅状态校验请求
func (s *BridgeService) RequestValidation(ctx context.Context, req *BridgeSendRequest) (*BridgeSendReply, error) {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return nil, err
	}
	id, err := s.uc.RequestCrossChainValidation(ctx, req.TargetDomain, req.AccountID, req.PlanID)
	if err != nil {
		return nil, err
	}
	return &BridgeSendReply{MessageID: id}, nil
}

// SendStatusUpdate 向目标域推送订阅状态 (仅管理员)
func (s *BridgeService) SendStatusUpdate(ctx context.Context, req *BridgeSendRequest) (*BridgeSendReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	id, err := s.uc.SendCrossChainStatusUpdate(ctx, req.TargetDomain, req.AccountID, req.PlanID, req.IsActive)
	if err != nil {
		return nil, err
	}
	return &BridgeSendReply{MessageID: id}, nil
}

// CrossChainStatusReply 跨域订阅状态
type CrossChainStatusReply struct {
	Active bool `json:"active"`
}

// CrossChainStatus 查询来自远端域的订阅状态缓存
func (s *BridgeService) CrossChainStatus(ctx context.Context, domainID, account, planID uint64) (*CrossChainStatusReply, error) {
	active, err := s.uc.HasCrossChainSubscription(ctx, domainID, account, planID)
	if err != nil {
		return nil, err
	}
	return &CrossChainStatusReply{Active: active}, nil
}

// FeeBalanceReply 消息费余额
type FeeBalanceReply struct {
	Balance int64 `json:"balance"`
}

// FeeBalance 查询目标域的消息费余额 (仅管理员)
func (s *BridgeService) FeeBalance(ctx context.Context, domainID uint64) (*FeeBalanceReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	balance, err := s.uc.FeeBalance(ctx, domainID)
	if err != nil {
		return nil, err
	}
	return &FeeBalanceReply{Balance: balance}, nil
}
