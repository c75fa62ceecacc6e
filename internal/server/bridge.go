package server

import (
	"context"
	"strings"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BridgeConsumer 消费本域收件流中的跨域消息.
// 作为 kratos transport.Server 接入应用生命周期.
type BridgeConsumer struct {
	rdb      *redis.Client
	uc       *biz.BridgeUsecase
	stream   string
	consumer string
	log      *log.Helper

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridgeConsumer 创建跨域消息消费者
func NewBridgeConsumer(rdb *redis.Client, uc *biz.BridgeUsecase, c *conf.Bootstrap, logger log.Logger) *BridgeConsumer {
	return &BridgeConsumer{
		rdb:      rdb,
		uc:       uc,
		stream:   data.StreamForDomain(c.Bridge.LocalDomainID),
		consumer: "consumer-" + uuid.NewString(),
		log:      log.NewHelper(log.With(logger, "module", "server/bridge-consumer")),
		done:     make(chan struct{}),
	}
}

// Start 创建消费组并启动消费循环
func (bc *BridgeConsumer) Start(ctx context.Context) error {
	err := bc.rdb.XGroupCreateMkStream(ctx, bc.stream, constants.BridgeConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	bc.cancel = cancel
	go bc.run(runCtx)

	bc.log.Infof("Bridge consumer started on stream %s", bc.stream)
	return nil
}

// Stop 停止消费循环
func (bc *BridgeConsumer) Stop(ctx context.Context) error {
	if bc.cancel != nil {
		bc.cancel()
	}
	select {
	case <-bc.done:
	case <-ctx.Done():
	}
	bc.log.Info("Bridge consumer stopped")
	return nil
}

func (bc *BridgeConsumer) run(ctx context.Context) {
	defer close(bc.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := bc.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    constants.BridgeConsumerGroup,
			Consumer: bc.consumer,
			Streams:  []string{bc.stream, ">"},
			Count:    16,
			Block:    constants.BridgeReadBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			bc.log.Errorf("Failed to read bridge stream %s: %v", bc.stream, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(constants.BridgeReadRetryDelay):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				bc.handle(ctx, msg)
			}
		}
	}
}

func (bc *BridgeConsumer) handle(ctx context.Context, msg redis.XMessage) {
	payload, _ := msg.Values["payload"].(string)
	if err := bc.uc.HandleMessage(ctx, []byte(payload)); err != nil {
		// HandleMessage 对不可信或畸形消息静默丢弃, 这里只会是存储类错误
		bc.log.Errorf("Failed to handle bridge message %s: %v", msg.ID, err)
		return
	}
	if err := bc.rdb.XAck(ctx, bc.stream, constants.BridgeConsumerGroup, msg.ID).Err(); err != nil {
		bc.log.Errorf("Failed to ack bridge message %s: %v", msg.ID, err)
	}
}
