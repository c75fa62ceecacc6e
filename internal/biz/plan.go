package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/errors"
)

// Plan 订阅套餐
type Plan struct {
	ID              uint64
	Name            string
	Price           int64 // 最小支付单位
	DurationSeconds int64
	Active          bool
	Features        []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration 套餐时长
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// PlanRepo 套餐仓库接口
type PlanRepo interface {
	// CreatePlan 创建套餐并回填自增 ID
	CreatePlan(ctx context.Context, plan *Plan) error
	// GetPlan 根据ID获取套餐, 不存在时返回 nil, nil
	GetPlan(ctx context.Context, id uint64) (*Plan, error)
	UpdatePlan(ctx context.Context, plan *Plan) error
	ListPlans(ctx context.Context) ([]*Plan, error)
}

// CreatePlan 创建订阅套餐
func (uc *LedgerUsecase) CreatePlan(ctx context.Context, name string, price, durationSeconds int64, features []string) (*Plan, error) {
	uc.log.Infof("CreatePlan: name=%s, price=%d, duration=%ds", name, price, durationSeconds)

	if name == "" {
		return nil, errors.NewInvalidInput(errors.ErrCodePlanInvalid, "plan name is required")
	}
	if price <= 0 {
		return nil, errors.NewInvalidInput(errors.ErrCodePlanInvalid, "plan price must be positive")
	}
	if durationSeconds <= 0 {
		return nil, errors.NewInvalidInput(errors.ErrCodePlanInvalid, "plan duration must be positive")
	}

	plan := &Plan{
		Name:            name,
		Price:           price,
		DurationSeconds: durationSeconds,
		Active:          true,
		Features:        features,
	}
	if err := uc.planRepo.CreatePlan(ctx, plan); err != nil {
		uc.log.Errorf("Failed to create plan: %v", err)
		return nil, err
	}

	uc.log.Infof("Plan %d created", plan.ID)
	return plan, nil
}

// UpdatePlan 更新套餐信息 (价格/时长变更只影响后续的订阅和续费)
func (uc *LedgerUsecase) UpdatePlan(ctx context.Context, id uint64, name string, price, durationSeconds int64, features []string) (*Plan, error) {
	plan, err := uc.planRepo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.NewNotFound(errors.ErrCodePlanNotFound, "plan not found")
	}

	if name == "" {
		return nil, errors.NewInvalidInput(errors.ErrCodePlanInvalid, "plan name is required")
	}
	if price <= 0 || durationSeconds <= 0 {
		return nil, errors.NewInvalidInput(errors.ErrCodePlanInvalid, "plan price and duration must be positive")
	}

	plan.Name = name
	plan.Price = price
	plan.DurationSeconds = durationSeconds
	plan.Features = features
	if err := uc.planRepo.UpdatePlan(ctx, plan); err != nil {
		uc.log.Errorf("Failed to update plan %d: %v", id, err)
		return nil, err
	}
	return plan, nil
}

// DeactivatePlan 停用套餐 (套餐从不删除, 只停用; 已有订阅不受影响)
func (uc *LedgerUsecase) DeactivatePlan(ctx context.Context, id uint64) error {
	plan, err := uc.planRepo.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if plan == nil {
		return errors.NewNotFound(errors.ErrCodePlanNotFound, "plan not found")
	}
	if !plan.Active {
		return nil
	}

	plan.Active = false
	if err := uc.planRepo.UpdatePlan(ctx, plan); err != nil {
		uc.log.Errorf("Failed to deactivate plan %d: %v", id, err)
		return err
	}
	uc.log.Infof("Plan %d deactivated", id)
	return nil
}

// GetPlan 获取套餐信息
func (uc *LedgerUsecase) GetPlan(ctx context.Context, id uint64) (*Plan, error) {
	plan, err := uc.planRepo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.NewNotFound(errors.ErrCodePlanNotFound, "plan not found")
	}
	return plan, nil
}

// ListPlans 获取所有套餐列表
func (uc *LedgerUsecase) ListPlans(ctx context.Context) ([]*Plan, error) {
	return uc.planRepo.ListPlans(ctx)
}
