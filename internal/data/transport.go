package data

import (
	"context"
	"fmt"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// redisTransport 跨域消息通道实现: 每个域一条 Redis Stream 收件流.
// XADD 后立即返回流条目ID, 投递语义为 at-least-once, 跨消息不保证顺序
type redisTransport struct {
	rdb    *redis.Client
	maxLen int64
	log    *log.Helper
}

// NewTransport 创建跨域消息通道
func NewTransport(rdb *redis.Client, c *conf.Bootstrap, logger log.Logger) biz.Transport {
	var maxLen int64 = 100000
	if c != nil && c.Bridge != nil && c.Bridge.StreamMaxLen > 0 {
		maxLen = c.Bridge.StreamMaxLen
	}
	return &redisTransport{
		rdb:    rdb,
		maxLen: maxLen,
		log:    log.NewHelper(logger),
	}
}

// StreamForDomain 域收件流名称
func StreamForDomain(domainID uint64) string {
	return fmt.Sprintf("%s%d", constants.BridgeStreamPrefix, domainID)
}

// Send 投递消息到目标域收件流, 返回流条目ID作为消息标识
func (t *redisTransport) Send(ctx context.Context, targetDomain uint64, payload []byte) (string, error) {
	id, err := t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamForDomain(targetDomain),
		MaxLen: t.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		t.log.Errorf("Failed to send bridge message to domain %d: %v", targetDomain, err)
		return "", err
	}
	return id, nil
}
