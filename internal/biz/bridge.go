package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// BridgeMessage 跨域消息载荷. 两类消息共用同一结构:
// kind=1 校验请求 (IsActive 无意义), kind=2 状态推送
type BridgeMessage struct {
	Kind         int    `json:"kind"`
	SourceDomain uint64 `json:"source_domain"`
	AccountID    uint64 `json:"account_id"`
	PlanID       uint64 `json:"plan_id"`
	IsActive     bool   `json:"is_active"`
}

// TrustedPeer 可信对端注册项. 信任是有向的: 双向校验流程需要两端各自配置
type TrustedPeer struct {
	ID          uint64
	DomainID    uint64
	PeerAddress string
	Trusted     bool
	UpdatedAt   time.Time
}

// CrossDomainSubscription 远端订阅状态的本地缓存, 非权威数据
type CrossDomainSubscription struct {
	ID        uint64
	DomainID  uint64
	AccountID uint64
	PlanID    uint64
	Active    bool
	UpdatedAt time.Time
}

// TrustedPeerRepo 可信对端仓库接口
type TrustedPeerRepo interface {
	SetPeer(ctx context.Context, peer *TrustedPeer) error
	// GetPeer 按域ID获取对端, 不存在时返回 nil, nil
	GetPeer(ctx context.Context, domainID uint64) (*TrustedPeer, error)
	ListTrusted(ctx context.Context) ([]*TrustedPeer, error)
}

// CrossDomainSubscriptionRepo 远端订阅状态缓存仓库接口
type CrossDomainSubscriptionRepo interface {
	Get(ctx context.Context, domainID, account, planID uint64) (*CrossDomainSubscription, error)
	// Upsert 幂等覆盖写 (last-write-wins)
	Upsert(ctx context.Context, domainID, account, planID uint64, active bool) error
}

// FeeBalanceRepo 按目标域预存的消息费余额
type FeeBalanceRepo interface {
	Balance(ctx context.Context, domainID uint64) (int64, error)
	Deposit(ctx context.Context, domainID uint64, amount int64) error
	// Debit 余额不足时返回错误, 不允许透支
	Debit(ctx context.Context, domainID uint64, amount int64) error
}

// BridgeUsecase 跨域同步桥: 每个域一个实例, 通过异步收费消息通道与对端交换
// 校验请求和状态推送
type BridgeUsecase struct {
	peerRepo    TrustedPeerRepo
	cacheRepo   CrossDomainSubscriptionRepo
	feeRepo     FeeBalanceRepo
	subRepo     SubscriptionRepo
	eventRepo   BillingEventRepo
	settings    SettingsRepo
	transport   Transport
	localDomain uint64
	log         *log.Helper
}

// NewBridgeUsecase 创建跨域同步桥用例
func NewBridgeUsecase(
	peerRepo TrustedPeerRepo,
	cacheRepo CrossDomainSubscriptionRepo,
	feeRepo FeeBalanceRepo,
	subRepo SubscriptionRepo,
	eventRepo BillingEventRepo,
	settings SettingsRepo,
	transport Transport,
	c *conf.Bootstrap,
	logger log.Logger,
) *BridgeUsecase {
	return &BridgeUsecase{
		peerRepo:    peerRepo,
		cacheRepo:   cacheRepo,
		feeRepo:     feeRepo,
		subRepo:     subRepo,
		eventRepo:   eventRepo,
		settings:    settings,
		transport:   transport,
		localDomain: c.Bridge.LocalDomainID,
		log:         log.NewHelper(logger),
	}
}

// SetTrustedPeer 配置对端信任 (有向; 对端需各自配置反向信任)
func (uc *BridgeUsecase) SetTrustedPeer(ctx context.Context, domainID uint64, peerAddress string, trusted bool) error {
	if domainID == 0 || peerAddress == "" {
		return errors.NewInvalidInput(errors.ErrCodeInvalidArgument, "domain id and peer address are required")
	}

	if err := uc.peerRepo.SetPeer(ctx, &TrustedPeer{
		DomainID:    domainID,
		PeerAddress: peerAddress,
		Trusted:     trusted,
	}); err != nil {
		return err
	}
	uc.log.Infof("Trusted peer updated: domain=%d, addr=%s, trusted=%v", domainID, peerAddress, trusted)
	return nil
}

// DepositMessageFees 预存目标域的消息费
func (uc *BridgeUsecase) DepositMessageFees(ctx context.Context, domainID uint64, amount int64) error {
	if amount <= 0 {
		return errors.NewInvalidInput(errors.ErrCodeInvalidArgument, "deposit amount must be positive")
	}
	return uc.feeRepo.Deposit(ctx, domainID, amount)
}

// send 信任与费用检查后提交消息, 立即返回消息ID (fire-and-forget)
func (uc *BridgeUsecase) send(ctx context.Context, targetDomain uint64, msg *BridgeMessage) (string, error) {
	peer, err := uc.peerRepo.GetPeer(ctx, targetDomain)
	if err != nil {
		return "", err
	}
	if peer == nil {
		return "", errors.NewNotFound(errors.ErrCodePeerNotConfigured, "no peer configured for target domain")
	}
	if !peer.Trusted {
		return "", errors.NewUntrustedSource(errors.ErrCodePeerNotConfigured, "peer for target domain is not trusted")
	}

	cfg, err := uc.settings.Get(ctx)
	if err != nil {
		return "", err
	}
	if err := uc.feeRepo.Debit(ctx, targetDomain, cfg.MessageFee); err != nil {
		return "", err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	id, err := uc.transport.Send(ctx, targetDomain, payload)
	if err != nil {
		return "", err
	}

	if err := uc.eventRepo.AddEvent(ctx, &BillingEvent{
		AccountID: msg.AccountID,
		PlanID:    msg.PlanID,
		Action:    constants.ActionMessageSent,
		Amount:    cfg.MessageFee,
		Detail:    messageDetail(msg.Kind, targetDomain, id),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		uc.log.Warnf("Failed to record message_sent event: %v", err)
	}
	return id, nil
}

// RequestCrossChainValidation 向目标域询问 (account, plan) 的订阅状态.
// 不阻塞等待回复; 对端会以状态推送消息异步回写本地缓存
func (uc *BridgeUsecase) RequestCrossChainValidation(ctx context.Context, targetDomain, account, planID uint64) (string, error) {
	uc.log.Infof("RequestCrossChainValidation: target=%d, account=%d, plan=%d", targetDomain, account, planID)

	return uc.send(ctx, targetDomain, &BridgeMessage{
		Kind:         constants.MessageKindValidationRequest,
		SourceDomain: uc.localDomain,
		AccountID:    account,
		PlanID:       planID,
	})
}

// SendCrossChainStatusUpdate 向目标域推送订阅状态 (账本在续费/取消时调用, 管理员也可手动触发)
func (uc *BridgeUsecase) SendCrossChainStatusUpdate(ctx context.Context, targetDomain, account, planID uint64, isActive bool) (string, error) {
	return uc.send(ctx, targetDomain, &BridgeMessage{
		Kind:         constants.MessageKindStatusUpdate,
		SourceDomain: uc.localDomain,
		AccountID:    account,
		PlanID:       planID,
		IsActive:     isActive,
	})
}

// BroadcastStatus 向所有已配置的可信对端推送状态. 尽力而为: 单个对端失败只记录日志
func (uc *BridgeUsecase) BroadcastStatus(ctx context.Context, account, planID uint64, active bool) {
	peers, err := uc.peerRepo.ListTrusted(ctx)
	if err != nil {
		uc.log.Warnf("Failed to list trusted peers for broadcast: %v", err)
		return
	}
	for _, peer := range peers {
		if _, err := uc.SendCrossChainStatusUpdate(ctx, peer.DomainID, account, planID, active); err != nil {
			uc.log.Warnf("Status broadcast to domain %d failed: %v", peer.DomainID, err)
		}
	}
}

// HandleMessage 处理入站消息, 由传输层消费者调用.
// 不可信或畸形的消息静默丢弃并记录审计事件, 不向发送方传播错误.
// 传输层保证 at-least-once 投递, 因此处理必须幂等.
func (uc *BridgeUsecase) HandleMessage(ctx context.Context, payload []byte) error {
	now := time.Now().UTC()

	var msg BridgeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		uc.log.Warnf("Dropping malformed bridge message: %v", err)
		uc.auditDrop(ctx, &msg, "malformed payload", now)
		return nil
	}

	peer, err := uc.peerRepo.GetPeer(ctx, msg.SourceDomain)
	if err != nil {
		return err
	}
	if peer == nil || !peer.Trusted {
		uc.log.Warnf("Dropping bridge message from untrusted domain %d", msg.SourceDomain)
		uc.auditDrop(ctx, &msg, "untrusted sender", now)
		return nil
	}

	switch msg.Kind {
	case constants.MessageKindValidationRequest:
		sub, err := uc.subRepo.GetSubscription(ctx, msg.AccountID, msg.PlanID)
		if err != nil {
			return err
		}
		active := sub.ActiveAt(now)

		// 以状态推送应答请求方; 发送失败只能靠对端重发请求恢复
		if _, err := uc.SendCrossChainStatusUpdate(ctx, msg.SourceDomain, msg.AccountID, msg.PlanID, active); err != nil {
			uc.log.Errorf("Failed to reply validation for domain %d: %v", msg.SourceDomain, err)
		}

	case constants.MessageKindStatusUpdate:
		// last-write-wins 覆盖写, 重复投递是 no-op
		if err := uc.cacheRepo.Upsert(ctx, msg.SourceDomain, msg.AccountID, msg.PlanID, msg.IsActive); err != nil {
			return err
		}

	default:
		uc.log.Warnf("Dropping bridge message with unknown kind %d", msg.Kind)
		uc.auditDrop(ctx, &msg, "unknown kind", now)
		return nil
	}

	if err := uc.eventRepo.AddEvent(ctx, &BillingEvent{
		AccountID: msg.AccountID,
		PlanID:    msg.PlanID,
		Action:    constants.ActionMessageReceived,
		Detail:    messageDetail(msg.Kind, msg.SourceDomain, ""),
		CreatedAt: now,
	}); err != nil {
		uc.log.Warnf("Failed to record message_received event: %v", err)
	}
	return nil
}

// HasCrossChainSubscription 读取远端订阅状态缓存
func (uc *BridgeUsecase) HasCrossChainSubscription(ctx context.Context, domainID, account, planID uint64) (bool, error) {
	record, err := uc.cacheRepo.Get(ctx, domainID, account, planID)
	if err != nil {
		return false, err
	}
	return record != nil && record.Active, nil
}

// FeeBalance 查询目标域消息费余额
func (uc *BridgeUsecase) FeeBalance(ctx context.Context, domainID uint64) (int64, error) {
	return uc.feeRepo.Balance(ctx, domainID)
}

func (uc *BridgeUsecase) auditDrop(ctx context.Context, msg *BridgeMessage, reason string, now time.Time) {
	if err := uc.eventRepo.AddEvent(ctx, &BillingEvent{
		AccountID: msg.AccountID,
		PlanID:    msg.PlanID,
		Action:    constants.ActionMessageDropped,
		Detail:    reason,
		CreatedAt: now,
	}); err != nil {
		uc.log.Warnf("Failed to record message_dropped event: %v", err)
	}
}

func messageDetail(kind int, domain uint64, id string) string {
	detail := fmt.Sprintf("kind=%d domain=%d", kind, domain)
	if id != "" {
		detail += " message_id=" + id
	}
	return detail
}
