package service

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/biz"
)

// LedgerService 订阅账本服务
type LedgerService struct {
	uc       *biz.LedgerUsecase
	transfer biz.TokenTransfer
}

// NewLedgerService 创建订阅账本服务实例
func NewLedgerService(uc *biz.LedgerUsecase, transfer biz.TokenTransfer) *LedgerService {
	return &LedgerService{uc: uc, transfer: transfer}
}

// PlanReply 套餐信息
type PlanReply struct {
	PlanID          uint64   `json:"plan_id"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	DurationSeconds int64    `json:"duration_seconds"`
	Active          bool     `json:"active"`
	Features        []string `json:"features"`
}

func planReply(p *biz.Plan) *PlanReply {
	return &PlanReply{
		PlanID:          p.ID,
		Name:            p.Name,
		Price:           p.Price,
		DurationSeconds: p.DurationSeconds,
		Active:          p.Active,
		Features:        p.Features,
	}
}

// CreatePlanRequest 创建套餐请求
type CreatePlanRequest struct {
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	DurationSeconds int64    `json:"duration_seconds"`
	Features        []string `json:"features"`
}

// CreatePlan 创建订阅套餐 (仅管理员)
func (s *LedgerService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*PlanReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	plan, err := s.uc.CreatePlan(ctx, req.Name, req.Price, req.DurationSeconds, req.Features)
	if err != nil {
		return nil, err
	}
	return planReply(plan), nil
}

// UpdatePlanRequest 更新套餐请求
type UpdatePlanRequest struct {
	PlanID          uint64   `json:"plan_id"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	DurationSeconds int64    `json:"duration_seconds"`
	Features        []string `json:"features"`
}

// UpdatePlan 更新套餐 (仅管理员)
func (s *LedgerService) UpdatePlan(ctx context.Context, req *UpdatePlanRequest) (*PlanReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	plan, err := s.uc.UpdatePlan(ctx, req.PlanID, req.Name, req.Price, req.DurationSeconds, req.Features)
	if err != nil {
		return nil, err
	}
	return planReply(plan), nil
}

// DeactivatePlan 停用套餐 (仅管理员)
func (s *LedgerService) DeactivatePlan(ctx context.Context, planID uint64) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.DeactivatePlan(ctx, planID)
}

// ListPlans 获取所有套餐
func (s *LedgerService) ListPlans(ctx context.Context) ([]*PlanReply, error) {
	plans, err := s.uc.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	replies := make([]*PlanReply, len(plans))
	for i, p := range plans {
		replies[i] = planReply(p)
	}
	return replies, nil
}

// SubscriptionReply 订阅信息
type SubscriptionReply struct {
	AccountID uint64    `json:"account_id"`
	PlanID    uint64    `json:"plan_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	AutoRenew bool      `json:"auto_renew"`
	Cancelled bool      `json:"cancelled"`
}

func subscriptionReply(sub *biz.Subscription) *SubscriptionReply {
	return &SubscriptionReply{
		AccountID: sub.AccountID,
		PlanID:    sub.PlanID,
		StartTime: sub.StartTime,
		EndTime:   sub.EndTime,
		AutoRenew: sub.AutoRenew,
		Cancelled: sub.Cancelled,
	}
}

// SubscribeRequest 订阅请求
type SubscribeRequest struct {
	AccountID uint64 `json:"account_id"`
	PlanID    uint64 `json:"plan_id"`
	AutoRenew bool   `json:"auto_renew"`
}

// Subscribe 订阅套餐
func (s *LedgerService) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscriptionReply, error) {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return nil, err
	}
	sub, err := s.uc.Subscribe(ctx, req.AccountID, req.PlanID, req.AutoRenew)
	if err != nil {
		return nil, err
	}
	return subscriptionReply(sub), nil
}

// RenewRequest 续费请求
type RenewRequest struct {
	AccountID uint64 `json:"account_id"`
	PlanID    uint64 `json:"plan_id"`
}

// Renew 手动续费
func (s *LedgerService) Renew(ctx context.Context, req *RenewRequest) (*SubscriptionReply, error) {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return nil, err
	}
	sub, err := s.uc.RenewSubscription(ctx, req.AccountID, req.PlanID)
	if err != nil {
		return nil, err
	}
	return subscriptionReply(sub), nil
}

// Cancel 取消订阅
func (s *LedgerService) Cancel(ctx context.Context, req *RenewRequest) error {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return err
	}
	return s.uc.CancelSubscription(ctx, req.AccountID, req.PlanID)
}

// SetAutoRenewRequest 自动续费开关请求
type SetAutoRenewRequest struct {
	AccountID uint64 `json:"account_id"`
	PlanID    uint64 `json:"plan_id"`
	AutoRenew bool   `json:"auto_renew"`
}

// SetAutoRenew 开关自动续费
func (s *LedgerService) SetAutoRenew(ctx context.Context, req *SetAutoRenewRequest) error {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return err
	}
	return s.uc.SetAutoRenew(ctx, req.AccountID, req.PlanID, req.AutoRenew)
}

// SubscriptionStatus 订阅状态查询
func (s *LedgerService) SubscriptionStatus(ctx context.Context, account, planID uint64) (bool, error) {
	return s.uc.IsSubscribed(ctx, account, planID)
}

// ListSubscriptions 账户订阅列表
func (s *LedgerService) ListSubscriptions(ctx context.Context, account uint64) ([]*SubscriptionReply, error) {
	if err := auth.CheckOwnership(ctx, account); err != nil {
		return nil, err
	}
	subs, err := s.uc.ListAccountSubscriptions(ctx, account)
	if err != nil {
		return nil, err
	}
	replies := make([]*SubscriptionReply, len(subs))
	for i, sub := range subs {
		replies[i] = subscriptionReply(sub)
	}
	return replies, nil
}

// BillingEventReply 账单事件
type BillingEventReply struct {
	AccountID uint64    `json:"account_id"`
	PlanID    uint64    `json:"plan_id,omitempty"`
	ServiceID uint64    `json:"service_id,omitempty"`
	Action    string    `json:"action"`
	Amount    int64     `json:"amount"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BillingHistory 账户账单历史
func (s *LedgerService) BillingHistory(ctx context.Context, account uint64, page, pageSize int) ([]*BillingEventReply, int, error) {
	if err := auth.CheckOwnership(ctx, account); err != nil {
		return nil, 0, err
	}
	events, total, err := s.uc.GetBillingHistory(ctx, account, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	replies := make([]*BillingEventReply, len(events))
	for i, e := range events {
		replies[i] = &BillingEventReply{
			AccountID: e.AccountID,
			PlanID:    e.PlanID,
			ServiceID: e.ServiceID,
			Action:    e.Action,
			Amount:    e.Amount,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		}
	}
	return replies, total, nil
}

// UpdateSettingsRequest 计费参数更新请求, nil 字段保持不变
type UpdateSettingsRequest struct {
	TreasuryAccount      *uint64 `json:"treasury_account"`
	GracePeriodSeconds   *int64  `json:"grace_period_seconds"`
	CycleDurationSeconds *int64  `json:"cycle_duration_seconds"`
	RetryIntervalSeconds *int64  `json:"retry_interval_seconds"`
	MessageFee           *int64  `json:"message_fee"`
	Paused               *bool   `json:"paused"`
}

// SettingsReply 计费参数
type SettingsReply struct {
	TreasuryAccount      uint64 `json:"treasury_account"`
	GracePeriodSeconds   int64  `json:"grace_period_seconds"`
	CycleDurationSeconds int64  `json:"cycle_duration_seconds"`
	RetryIntervalSeconds int64  `json:"retry_interval_seconds"`
	MessageFee           int64  `json:"message_fee"`
	Paused               bool   `json:"paused"`
}

func settingsReply(cfg *biz.Settings) *SettingsReply {
	return &SettingsReply{
		TreasuryAccount:      cfg.TreasuryAccount,
		GracePeriodSeconds:   int64(cfg.GracePeriod / time.Second),
		CycleDurationSeconds: int64(cfg.CycleDuration / time.Second),
		RetryIntervalSeconds: int64(cfg.RetryInterval / time.Second),
		MessageFee:           cfg.MessageFee,
		Paused:               cfg.Paused,
	}
}

// UpdateSettings 更新计费参数 (仅管理员)
func (s *LedgerService) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*SettingsReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	cfg, err := s.uc.UpdateSettings(ctx, func(cfg *biz.Settings) {
		if req.TreasuryAccount != nil {
			cfg.TreasuryAccount = *req.TreasuryAccount
		}
		if req.GracePeriodSeconds != nil {
			cfg.GracePeriod = time.Duration(*req.GracePeriodSeconds) * time.Second
		}
		if req.CycleDurationSeconds != nil {
			cfg.CycleDuration = time.Duration(*req.CycleDurationSeconds) * time.Second
		}
		if req.RetryIntervalSeconds != nil {
			cfg.RetryInterval = time.Duration(*req.RetryIntervalSeconds) * time.Second
		}
		if req.MessageFee != nil {
			cfg.MessageFee = *req.MessageFee
		}
		if req.Paused != nil {
			cfg.Paused = *req.Paused
		}
	})
	if err != nil {
		return nil, err
	}
	return settingsReply(cfg), nil
}

// GetSettings 读取计费参数 (仅管理员)
func (s *LedgerService) GetSettings(ctx context.Context) (*SettingsReply, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	cfg, err := s.uc.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settingsReply(cfg), nil
}

// TokenRequest 资金账户操作请求
type TokenRequest struct {
	AccountID uint64 `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// DepositToken 充值资金账户 (仅管理员; 生产环境由支付网关回调驱动)
func (s *LedgerService) DepositToken(ctx context.Context, req *TokenRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.transfer.Deposit(ctx, req.AccountID, req.Amount)
}

// ApproveToken 设置自动扣款预授权额度
func (s *LedgerService) ApproveToken(ctx context.Context, req *TokenRequest) error {
	if err := auth.CheckOwnership(ctx, req.AccountID); err != nil {
		return err
	}
	return s.transfer.Approve(ctx, req.AccountID, req.Amount)
}

// TokenBalance 查询资金账户余额
func (s *LedgerService) TokenBalance(ctx context.Context, account uint64) (int64, error) {
	if err := auth.CheckOwnership(ctx, account); err != nil {
		return 0, err
	}
	return s.transfer.BalanceOf(ctx, account)
}
