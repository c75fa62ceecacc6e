package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// trackedAccountRepo 跟踪账户密集索引实现.
// position 保持在 [0, count) 内: 删除时末位账户换入空出的位置
type trackedAccountRepo struct {
	data *Data
	log  *log.Helper
}

// NewTrackedAccountRepo 创建跟踪账户仓库
func NewTrackedAccountRepo(data *Data, logger log.Logger) biz.TrackedAccountRepo {
	return &trackedAccountRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Register 幂等注册: 新账户追加到末位.
// position 由 INSERT ... SELECT COUNT(*) 原子推导; 并发追加撞到 position
// 唯一索引时重试
func (r *trackedAccountRepo) Register(ctx context.Context, account uint64) error {
	db := r.data.DB(ctx)

	var existing model.TrackedAccount
	err := db.First(&existing, "account_id = ?", account).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	for attempt := 0; attempt < constants.TrackedRegisterRetries; attempt++ {
		err = db.Exec(
			"INSERT INTO tracked_account (account_id, position, created_at) SELECT ?, COUNT(*), ? FROM tracked_account",
			account, time.Now().UTC(),
		).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		// account_id 冲突说明已被并发注册成功
		if db.First(&existing, "account_id = ?", account).Error == nil {
			return nil
		}
	}
	return err
}

// Remove 删除账户: 与末位交换后截断, 保持索引密集
func (r *trackedAccountRepo) Remove(ctx context.Context, account uint64) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.TrackedAccount
		err := tx.First(&target, "account_id = ?", account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var last model.TrackedAccount
		if err := tx.Order("position DESC").First(&last).Error; err != nil {
			return err
		}

		if err := tx.Delete(&model.TrackedAccount{}, "account_id = ?", account).Error; err != nil {
			return err
		}
		if last.AccountID != account {
			// 末位账户换入空出的位置
			if err := tx.Model(&model.TrackedAccount{}).
				Where("account_id = ?", last.AccountID).
				Update("position", target.Position).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Count 跟踪账户总数
func (r *trackedAccountRepo) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.data.DB(ctx).Model(&model.TrackedAccount{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListRange 按位置区间 [start, end) 返回账户
func (r *trackedAccountRepo) ListRange(ctx context.Context, start, end int) ([]uint64, error) {
	var models []model.TrackedAccount
	if err := r.data.DB(ctx).
		Where("position >= ? AND position < ?", start, end).
		Order("position ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	accounts := make([]uint64, len(models))
	for i, m := range models {
		accounts[i] = m.AccountID
	}
	return accounts, nil
}

// schedulerStateRepo 调度器游标与节流状态 (Redis)
type schedulerStateRepo struct {
	rdb *redis.Client
	log *log.Helper
}

// NewSchedulerStateRepo 创建调度器状态仓库
func NewSchedulerStateRepo(rdb *redis.Client, logger log.Logger) biz.SchedulerStateRepo {
	return &schedulerStateRepo{
		rdb: rdb,
		log: log.NewHelper(logger),
	}
}

// GetCursor 读取轮转游标, 无记录时从 0 开始
func (r *schedulerStateRepo) GetCursor(ctx context.Context) (int, error) {
	cursor, err := r.rdb.Get(ctx, constants.SchedulerCursorKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor, nil
}

// SetCursor 写入轮转游标
func (r *schedulerStateRepo) SetCursor(ctx context.Context, cursor int) error {
	return r.rdb.Set(ctx, constants.SchedulerCursorKey, cursor, 0).Err()
}

func attemptKey(account, planID uint64) string {
	return fmt.Sprintf("%s%d:%d", constants.SchedulerAttemptPrefix, account, planID)
}

// ThrottleActive 节流 key 仍存在说明最近一次尝试在重试间隔内
func (r *schedulerStateRepo) ThrottleActive(ctx context.Context, account, planID uint64) (bool, error) {
	n, err := r.rdb.Exists(ctx, attemptKey(account, planID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAttempt 记录尝试, ttl 为重试间隔; ttl 到期后条目可再次被选中
func (r *schedulerStateRepo) MarkAttempt(ctx context.Context, account, planID uint64, ttl time.Duration) error {
	return r.rdb.Set(ctx, attemptKey(account, planID), time.Now().UTC().Unix(), ttl).Err()
}
