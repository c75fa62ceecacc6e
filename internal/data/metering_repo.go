package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// meteredServiceRepo 计量服务仓库实现
type meteredServiceRepo struct {
	data *Data
	log  *log.Helper
}

// NewMeteredServiceRepo 创建计量服务仓库
func NewMeteredServiceRepo(data *Data, logger log.Logger) biz.MeteredServiceRepo {
	return &meteredServiceRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func serviceToBiz(m *model.MeteredService) *biz.MeteredService {
	return &biz.MeteredService{
		ID:          m.ServiceID,
		Name:        m.Name,
		Provider:    m.Provider,
		RatePerUnit: m.RatePerUnit,
		MinUsage:    m.MinUsage,
		MaxUsage:    m.MaxUsage,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CreateService 创建服务并写入 provider 索引
func (r *meteredServiceRepo) CreateService(ctx context.Context, svc *biz.MeteredService) error {
	m := &model.MeteredService{
		Name:        svc.Name,
		Provider:    svc.Provider,
		RatePerUnit: svc.RatePerUnit,
		MinUsage:    svc.MinUsage,
		MaxUsage:    svc.MaxUsage,
		Active:      svc.Active,
	}
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Create(&model.ProviderServiceIndex{
			Provider:  svc.Provider,
			ServiceID: m.ServiceID,
		}).Error
	})
	if err != nil {
		r.log.Errorf("Failed to create metered service: %v", err)
		return err
	}
	svc.ID = m.ServiceID
	return nil
}

// GetService 根据ID获取服务
func (r *meteredServiceRepo) GetService(ctx context.Context, id uint64) (*biz.MeteredService, error) {
	var m model.MeteredService
	err := r.data.DB(ctx).First(&m, "service_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get metered service %d: %v", id, err)
		return nil, err
	}
	return serviceToBiz(&m), nil
}

// UpdateService 更新服务
func (r *meteredServiceRepo) UpdateService(ctx context.Context, svc *biz.MeteredService) error {
	if err := r.data.DB(ctx).Model(&model.MeteredService{}).Where("service_id = ?", svc.ID).
		Updates(map[string]interface{}{
			"name":          svc.Name,
			"provider":      svc.Provider,
			"rate_per_unit": svc.RatePerUnit,
			"min_usage":     svc.MinUsage,
			"max_usage":     svc.MaxUsage,
			"active":        svc.Active,
		}).Error; err != nil {
		r.log.Errorf("Failed to update metered service %d: %v", svc.ID, err)
		return err
	}
	return nil
}

// ReassignProvider 把服务从旧 provider 索引移入新 provider 索引.
// 调用方负责事务边界 (与主记录更新同一事务)
func (r *meteredServiceRepo) ReassignProvider(ctx context.Context, id, oldProvider, newProvider uint64) error {
	db := r.data.DB(ctx)
	if err := db.Where("provider = ? AND service_id = ?", oldProvider, id).
		Delete(&model.ProviderServiceIndex{}).Error; err != nil {
		return err
	}
	return db.Create(&model.ProviderServiceIndex{Provider: newProvider, ServiceID: id}).Error
}

// ListServicesByProvider 获取 provider 名下服务
func (r *meteredServiceRepo) ListServicesByProvider(ctx context.Context, provider uint64) ([]*biz.MeteredService, error) {
	var models []model.MeteredService
	if err := r.data.DB(ctx).
		Joins("JOIN provider_service_index psi ON psi.service_id = metered_service.service_id").
		Where("psi.provider = ?", provider).
		Order("metered_service.service_id ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list services for provider %d: %v", provider, err)
		return nil, err
	}

	services := make([]*biz.MeteredService, len(models))
	for i := range models {
		services[i] = serviceToBiz(&models[i])
	}
	return services, nil
}

// userUsageRepo 用量仓库实现
type userUsageRepo struct {
	data *Data
	log  *log.Helper
}

// NewUserUsageRepo 创建用量仓库
func NewUserUsageRepo(data *Data, logger log.Logger) biz.UserUsageRepo {
	return &userUsageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUsage 按 (account, service) 获取用量
func (r *userUsageRepo) GetUsage(ctx context.Context, account, serviceID uint64) (*biz.UserUsage, error) {
	var m model.UserUsage
	err := r.data.DB(ctx).Where("account_id = ? AND service_id = ?", account, serviceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get usage %d:%d: %v", account, serviceID, err)
		return nil, err
	}
	return &biz.UserUsage{
		ID:             m.ID,
		AccountID:      m.AccountID,
		ServiceID:      m.ServiceID,
		TotalUsage:     m.TotalUsage,
		BilledUsage:    m.BilledUsage,
		LastRecordTime: m.LastRecordTime,
		CycleStart:     m.CycleStart,
		CycleEnd:       m.CycleEnd,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// SaveUsage 保存用量
func (r *userUsageRepo) SaveUsage(ctx context.Context, usage *biz.UserUsage) error {
	m := &model.UserUsage{
		ID:             usage.ID,
		AccountID:      usage.AccountID,
		ServiceID:      usage.ServiceID,
		TotalUsage:     usage.TotalUsage,
		BilledUsage:    usage.BilledUsage,
		LastRecordTime: usage.LastRecordTime,
		CycleStart:     usage.CycleStart,
		CycleEnd:       usage.CycleEnd,
		CreatedAt:      usage.CreatedAt,
		UpdatedAt:      usage.UpdatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save usage %d:%d: %v", usage.AccountID, usage.ServiceID, err)
		return err
	}
	usage.ID = m.ID
	return nil
}

// recorderRepo 授权记录员仓库实现
type recorderRepo struct {
	data *Data
	log  *log.Helper
}

// NewRecorderRepo 创建记录员仓库
func NewRecorderRepo(data *Data, logger log.Logger) biz.RecorderRepo {
	return &recorderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// IsRecorder 账户是否为授权记录员
func (r *recorderRepo) IsRecorder(ctx context.Context, account uint64) (bool, error) {
	var m model.UsageRecorder
	err := r.data.DB(ctx).First(&m, "account_id = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Allowed, nil
}

// SetRecorder 授权/回收记录员资格
func (r *recorderRepo) SetRecorder(ctx context.Context, account uint64, allowed bool) error {
	return r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"allowed": allowed}),
	}).Create(&model.UsageRecorder{AccountID: account, Allowed: allowed}).Error
}
