package data

import (
	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-redsync/redsync/v4"
)

// locker redsync 适配, 为 biz 层提供按实体 key 的分布式互斥锁
type locker struct {
	rs *redsync.Redsync
}

// NewLocker 创建分布式锁工厂
func NewLocker(rs *redsync.Redsync) biz.Locker {
	return &locker{rs: rs}
}

// NewMutex 只尝试一次: 抢锁失败说明同一实体正在被处理
func (l *locker) NewMutex(name string) biz.Mutex {
	return l.rs.NewMutex(
		name,
		redsync.WithExpiry(constants.RenewLockExpiration),
		redsync.WithTries(constants.LockRetries),
	)
}
