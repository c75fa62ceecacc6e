package data

import (
	"context"
	"encoding/json"
	"errors"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// planRepo Plan 仓库实现
type planRepo struct {
	data *Data
	log  *log.Helper
}

// NewPlanRepo 创建 Plan 仓库
func NewPlanRepo(data *Data, logger log.Logger) biz.PlanRepo {
	return &planRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func planToBiz(m *model.Plan) *biz.Plan {
	var features []string
	if m.Features != "" {
		_ = json.Unmarshal([]byte(m.Features), &features)
	}
	return &biz.Plan{
		ID:              m.PlanID,
		Name:            m.Name,
		Price:           m.Price,
		DurationSeconds: m.DurationSeconds,
		Active:          m.Active,
		Features:        features,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func planToModel(p *biz.Plan) (*model.Plan, error) {
	features := "[]"
	if len(p.Features) > 0 {
		raw, err := json.Marshal(p.Features)
		if err != nil {
			return nil, err
		}
		features = string(raw)
	}
	return &model.Plan{
		PlanID:          p.ID,
		Name:            p.Name,
		Price:           p.Price,
		DurationSeconds: p.DurationSeconds,
		Active:          p.Active,
		Features:        features,
	}, nil
}

// CreatePlan 创建套餐
func (r *planRepo) CreatePlan(ctx context.Context, plan *biz.Plan) error {
	m, err := planToModel(plan)
	if err != nil {
		return err
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create plan: %v", err)
		return err
	}
	plan.ID = m.PlanID
	return nil
}

// GetPlan 根据ID获取套餐
func (r *planRepo) GetPlan(ctx context.Context, id uint64) (*biz.Plan, error) {
	var m model.Plan
	err := r.data.DB(ctx).First(&m, "plan_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get plan %d: %v", id, err)
		return nil, err
	}
	return planToBiz(&m), nil
}

// UpdatePlan 更新套餐
func (r *planRepo) UpdatePlan(ctx context.Context, plan *biz.Plan) error {
	m, err := planToModel(plan)
	if err != nil {
		return err
	}
	if err := r.data.DB(ctx).Model(&model.Plan{}).Where("plan_id = ?", plan.ID).
		Updates(map[string]interface{}{
			"name":             m.Name,
			"price":            m.Price,
			"duration_seconds": m.DurationSeconds,
			"active":           m.Active,
			"features":         m.Features,
		}).Error; err != nil {
		r.log.Errorf("Failed to update plan %d: %v", plan.ID, err)
		return err
	}
	return nil
}

// ListPlans 获取所有套餐列表
func (r *planRepo) ListPlans(ctx context.Context) ([]*biz.Plan, error) {
	var models []model.Plan
	if err := r.data.DB(ctx).Order("plan_id ASC").Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list plans: %v", err)
		return nil, err
	}

	plans := make([]*biz.Plan, len(models))
	for i := range models {
		plans[i] = planToBiz(&models[i])
	}
	return plans, nil
}
