package service

import (
	"context"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/biz"
)

// SchedulerService 自动续费调度管理服务
type SchedulerService struct {
	uc *biz.SchedulerUsecase
}

// NewSchedulerService 创建自动续费调度管理服务实例
func NewSchedulerService(uc *biz.SchedulerUsecase) *SchedulerService {
	return &SchedulerService{uc: uc}
}

// TrackAccountRequest 续费扫描账户登记请求
type TrackAccountRequest struct {
	AccountID uint64 `json:"account_id"`
}

// TrackAccount 将账户登记进自动续费扫描集合 (仅管理员)
func (s *SchedulerService) TrackAccount(ctx context.Context, req *TrackAccountRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.RegisterAccount(ctx, req.AccountID)
}

// UntrackAccount 将账户移出自动续费扫描集合 (仅管理员)
func (s *SchedulerService) UntrackAccount(ctx context.Context, req *TrackAccountRequest) error {
	if err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.uc.RemoveAccount(ctx, req.AccountID)
}
