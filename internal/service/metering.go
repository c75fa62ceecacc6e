package service

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/biz"
	bizerrors "xinyuan_tech/billing-service/internal/errors"
)

// MeteringService 计量计费服务
type MeteringService struct {
	uc *biz.MeteringUsecase
}

// NewMeteringService 创建计量计费服务实例
func NewMeteringService(uc *biz.MeteringUsecase) *MeteringService {
	return &MeteringService{uc: uc}
}

// MeteredServiceReply 计量服务信息
type MeteredServiceReply struct {
	ServiceID   uint64 `json:"service_id"`
	Name        string `json:"name"`
	Provider    uint64 `json:"provider"`
	RatePerUnit int64  `json:"rate_per_unit"`
	MinUsage    int64  `json:"min_usage"`
	MaxUsage    int64  `json:"max_usage"`
	Active      bool   `json:"active"`
}

func meteredServiceReply(svc *biz.MeteredService) *MeteredServiceReply {
	return &MeteredServiceReply{
		ServiceID:   svc.ID,
		Name:        svc.Name,
		Provider:    svc.Provider,
		RatePerUnit: svc.RatePerUnit,
		MinUsage:    svc.MinUsage,
		MaxUsage:    svc.MaxUsage,
		Active:      svc.Active,
	}
}

// RegisterServiceRequest 注册计量服务请求
type RegisterServiceRequest struct {
	Name        string `json:"name"`
	Provider    uint64 `json:"provider"`
	RatePerUnit int64  `json:"rate_per_unit"`
	MinUsage    int64  `json:"min_usage"`
	MaxUsage    int64  `json:"max_usage"`
}

// RegisterService 注册计量服务 (仅管理员)
func (s *MeteringService) RegisterService(ctx context.Context, req *RegisterServiceRequest) (*MeteredServiceReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	svc, err := s.uc.RegisterService(ctx, req.Name, req.Provider, req.RatePerUnit, req.MinUsage, req.MaxUsage)
	if err != nil {
		return nil, err
	}
	return meteredServiceReply(svc), nil
}

// UpdateServiceRequest 更新计量服务请求
type UpdateServiceRequest struct {
	ServiceID   uint64 `json:"service_id"`
	Name        string `json:"name"`
	Provider    uint64 `json:"provider"`
	RatePerUnit int64  `json:"rate_per_unit"`
	MinUsage    int64  `json:"min_usage"`
	MaxUsage    int64  `json:"max_usage"`
	Active      bool   `json:"active"`
}

// UpdateService 更新计量服务 (仅管理员)
func (s *MeteringService) UpdateService(ctx context.Context, req *UpdateServiceRequest) (*MeteredServiceReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	svc, err := s.uc.UpdateService(ctx, req.ServiceID, req.Name, req.Provider, req.RatePerUnit, req.MinUsage, req.MaxUsage, req.Active)
	if err != nil {
		return nil, err
	}
	return meteredServiceReply(svc), nil
}

// ListProviderServices 服务商名下的计量服务列表
func (s *MeteringService) ListProviderServices(ctx context.Context, provider uint64) ([]*MeteredServiceReply, error) {
	services, err := s.uc.ListProviderServices(ctx, provider)
	if err != nil {
		return nil, err
	}
	replies := make([]*MeteredServiceReply, len(services))
	for i, svc := range services {
		replies[i] = meteredServiceReply(svc)
	}
	return replies, nil
}

// SetRecorderRequest 用量记录员授权请求
type SetRecorderRequest struct {
	AccountID uint64 `json:"account_id"`
	Allowed   bool   `json:"allowed"`
}

// SetRecorder 授权或撤销用量记录员 (仅管理员)
func (s *MeteringService) SetRecorder(ctx context.Context, req *SetRecorderRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.SetRecorder(ctx, req.AccountID, req.Allowed)
}

// RecordUsageRequest 用量上报请求
type RecordUsageRequest struct {
	AccountID uint64 `json:"account_id"`
	ServiceID uint64 `json:"service_id"`
	Amount    int64  `json:"amount"`
}

// RecordUsage 上报单个账户用量
func (s *MeteringService) RecordUsage(ctx context.Context, req *RecordUsageRequest) error {
	caller, ok := auth.GetCallerFromContext(ctx)
	if !ok {
		return bizerrors.NewUnauthorized("caller identity required")
	}
	return s.uc.RecordUsage(ctx, caller, req.AccountID, req.ServiceID, req.Amount)
}

// BatchRecordUsageRequest 批量用量上报请求
type BatchRecordUsageRequest struct {
	ServiceID uint64   `json:"service_id"`
	Accounts  []uint64 `json:"accounts"`
	Amounts   []int64  `json:"amounts"`
}

// UsageRecordResultReply 单条用量上报结果
type UsageRecordResultReply struct {
	AccountID    uint64 `json:"account_id"`
	Amount       int64  `json:"amount"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// BatchRecordUsage 批量上报用量, 单条失败不影响其余条目
func (s *MeteringService) BatchRecordUsage(ctx context.Context, req *BatchRecordUsageRequest) ([]*UsageRecordResultReply, error) {
	caller, ok := auth.GetCallerFromContext(ctx)
	if !ok {
		return nil, bizerrors.NewUnauthorized("caller identity required")
	}
	results, err := s.uc.BatchRecordUsage(ctx, caller, req.Accounts, req.ServiceID, req.Amounts)
	if err != nil {
		return nil, err
	}
	replies := make([]*UsageRecordResultReply, len(results))
	for i, r := range results {
		replies[i] = &UsageRecordResultReply{AccountID: r.AccountID, Amount: r.Amount, Success: r.Success, ErrorMessage: r.ErrorMessage}
	}
	return replies, nil
}

// SettleRequest 结算请求
type SettleRequest struct {
	AccountID uint64 `json:"account_id"`
	ServiceID uint64 `json:"service_id"`
}

// SettleReply 结算结果
type SettleReply struct {
	BilledAmount int64 `json:"billed_amount"`
}

// Settle 结算单个账户的当前计费周期
func (s *MeteringService) Settle(ctx context.Context, req *SettleRequest) (*SettleReply, error) {
	caller, ok := auth.GetCallerFromContext(ctx)
	if !ok {
		return nil, bizerrors.NewUnauthorized("caller identity required")
	}
	amount, err := s.uc.SettleBillingCycle(ctx, caller, req.AccountID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	return &SettleReply{BilledAmount: amount}, nil
}

// BatchSettleRequest 批量结算请求
type BatchSettleRequest struct {
	ServiceID uint64   `json:"service_id"`
	Accounts  []uint64 `json:"accounts"`
}

// SettlementResultReply 单条结算结果
type SettlementResultReply struct {
	AccountID    uint64 `json:"account_id"`
	Success      bool   `json:"success"`
	BilledAmount int64  `json:"billed_amount"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// BatchSettleReply 批量结算汇总
type BatchSettleReply struct {
	SuccessCount int                      `json:"success_count"`
	TotalBilled  int64                    `json:"total_billed"`
	Results      []*SettlementResultReply `json:"results"`
}

// BatchSettle 批量结算, 单条失败不影响其余条目
func (s *MeteringService) BatchSettle(ctx context.Context, req *BatchSettleRequest) (*BatchSettleReply, error) {
	caller, ok := auth.GetCallerFromContext(ctx)
	if !ok {
		return nil, bizerrors.NewUnauthorized("caller identity required")
	}
	successCount, totalBilled, results, err := s.uc.BatchSettleBillingCycles(ctx, caller, req.Accounts, req.ServiceID)
	if err != nil {
		return nil, err
	}
	reply := &BatchSettleReply{
		SuccessCount: successCount,
		TotalBilled:  totalBilled,
		Results:      make([]*SettlementResultReply, len(results)),
	}
	for i, r := range results {
		reply.Results[i] = &SettlementResultReply{
			AccountID:    r.AccountID,
			Success:      r.Success,
			BilledAmount: r.BilledAmount,
			ErrorMessage: r.ErrorMessage,
		}
	}
	return reply, nil
}

// CurrentBillingReply 当前周期预估账单
type CurrentBillingReply struct {
	Amount int64 `json:"amount"`
}

// CurrentBilling 查询当前周期预估账单 (只读, 不落账)
func (s *MeteringService) CurrentBilling(ctx context.Context, account, serviceID uint64) (*CurrentBillingReply, error) {
	if err := auth.CheckOwnership(ctx, account); err != nil {
		return nil, err
	}
	amount, err := s.uc.CalculateCurrentBilling(ctx, account, serviceID)
	if err != nil {
		return nil, err
	}
	return &CurrentBillingReply{Amount: amount}, nil
}

// NextCycleReply 距下一计费周期的剩余时间
type NextCycleReply struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// NextCycle 查询距下一计费周期的剩余时间
func (s *MeteringService) NextCycle(ctx context.Context, account, serviceID uint64) (*NextCycleReply, error) {
	if err := auth.CheckOwnership(ctx, account); err != nil {
		return nil, err
	}
	remaining, err := s.uc.GetTimeUntilNextBillingCycle(ctx, account, serviceID)
	if err != nil {
		return nil, err
	}
	return &NextCycleReply{RemainingSeconds: int64(remaining / time.Second)}, nil
}
