package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const settingsRowID = 1

// settingsRepo 计费参数单行表实现, 首次读取时用配置默认值种子化
type settingsRepo struct {
	data *Data
	conf *conf.Bootstrap
	log  *log.Helper
}

// NewSettingsRepo 创建计费参数仓库
func NewSettingsRepo(data *Data, c *conf.Bootstrap, logger log.Logger) biz.SettingsRepo {
	return &settingsRepo{
		data: data,
		conf: c,
		log:  log.NewHelper(logger),
	}
}

func (r *settingsRepo) defaults() *model.BillingSettings {
	m := &model.BillingSettings{
		ID:                   settingsRowID,
		GracePeriodSeconds:   int64(constants.DefaultGracePeriod / time.Second),
		CycleDurationSeconds: int64(constants.DefaultCycleDuration / time.Second),
		RetryIntervalSeconds: int64(constants.DefaultRetryInterval / time.Second),
	}
	if r.conf != nil && r.conf.Billing != nil {
		b := r.conf.Billing
		m.TreasuryAccount = b.TreasuryAccount
		if b.GracePeriodSeconds > 0 {
			m.GracePeriodSeconds = b.GracePeriodSeconds
		}
		if b.CycleDurationSeconds > 0 {
			m.CycleDurationSeconds = b.CycleDurationSeconds
		}
		if b.RetryIntervalSeconds > 0 {
			m.RetryIntervalSeconds = b.RetryIntervalSeconds
		}
	}
	if r.conf != nil && r.conf.Bridge != nil {
		m.MessageFee = r.conf.Bridge.MessageFee
	}
	return m
}

// Get 读取计费参数; 无记录时写入默认值
func (r *settingsRepo) Get(ctx context.Context) (*biz.Settings, error) {
	var m model.BillingSettings
	err := r.data.DB(ctx).First(&m, "id = ?", settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := r.defaults()
		if err := r.data.DB(ctx).Create(seed).Error; err != nil {
			return nil, err
		}
		r.log.Infof("Billing settings seeded from config")
		m = *seed
	} else if err != nil {
		return nil, err
	}

	return &biz.Settings{
		TreasuryAccount: m.TreasuryAccount,
		GracePeriod:     time.Duration(m.GracePeriodSeconds) * time.Second,
		CycleDuration:   time.Duration(m.CycleDurationSeconds) * time.Second,
		RetryInterval:   time.Duration(m.RetryIntervalSeconds) * time.Second,
		MessageFee:      m.MessageFee,
		Paused:          m.Paused,
	}, nil
}

// Update 覆盖写计费参数
func (r *settingsRepo) Update(ctx context.Context, s *biz.Settings) error {
	return r.data.DB(ctx).Model(&model.BillingSettings{}).
		Where("id = ?", settingsRowID).
		Updates(map[string]interface{}{
			"treasury_account":       s.TreasuryAccount,
			"grace_period_seconds":   int64(s.GracePeriod / time.Second),
			"cycle_duration_seconds": int64(s.CycleDuration / time.Second),
			"retry_interval_seconds": int64(s.RetryInterval / time.Second),
			"message_fee":            s.MessageFee,
			"paused":                 s.Paused,
		}).Error
}
