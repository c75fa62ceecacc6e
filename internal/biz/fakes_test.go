package biz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

type subKey struct {
	account uint64
	plan    uint64
}

// fakePlanRepo 内存套餐仓库
type fakePlanRepo struct {
	plans  map[uint64]*Plan
	nextID uint64
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{plans: make(map[uint64]*Plan), nextID: 1}
}

func (r *fakePlanRepo) CreatePlan(_ context.Context, plan *Plan) error {
	plan.ID = r.nextID
	r.nextID++
	cp := *plan
	r.plans[plan.ID] = &cp
	return nil
}

func (r *fakePlanRepo) GetPlan(_ context.Context, id uint64) (*Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakePlanRepo) UpdatePlan(_ context.Context, plan *Plan) error {
	cp := *plan
	r.plans[plan.ID] = &cp
	return nil
}

func (r *fakePlanRepo) ListPlans(_ context.Context) ([]*Plan, error) {
	ids := make([]uint64, 0, len(r.plans))
	for id := range r.plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Plan, 0, len(ids))
	for _, id := range ids {
		cp := *r.plans[id]
		out = append(out, &cp)
	}
	return out, nil
}

// fakeSubRepo 内存订阅仓库
type fakeSubRepo struct {
	subs map[subKey]*Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[subKey]*Subscription)}
}

func (r *fakeSubRepo) GetSubscription(_ context.Context, account, planID uint64) (*Subscription, error) {
	s, ok := r.subs[subKey{account, planID}]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubRepo) SaveSubscription(_ context.Context, sub *Subscription) error {
	cp := *sub
	r.subs[subKey{sub.AccountID, sub.PlanID}] = &cp
	return nil
}

func (r *fakeSubRepo) ListAccountSubscriptions(_ context.Context, account uint64) ([]*Subscription, error) {
	var out []*Subscription
	for k, s := range r.subs {
		if k.account == account {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlanID < out[j].PlanID })
	return out, nil
}

func (r *fakeSubRepo) HasActiveSubscription(_ context.Context, account uint64, now time.Time) (bool, error) {
	for k, s := range r.subs {
		if k.account == account && s.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// fakeTrackedRepo 密集位置索引, 删除时与末尾交换
type fakeTrackedRepo struct {
	accounts []uint64
}

func (r *fakeTrackedRepo) Register(_ context.Context, account uint64) error {
	for _, a := range r.accounts {
		if a == account {
			return nil
		}
	}
	r.accounts = append(r.accounts, account)
	return nil
}

func (r *fakeTrackedRepo) Remove(_ context.Context, account uint64) error {
	for i, a := range r.accounts {
		if a == account {
			last := len(r.accounts) - 1
			r.accounts[i] = r.accounts[last]
			r.accounts = r.accounts[:last]
			return nil
		}
	}
	return nil
}

func (r *fakeTrackedRepo) Count(_ context.Context) (int, error) {
	return len(r.accounts), nil
}

func (r *fakeTrackedRepo) ListRange(_ context.Context, start, end int) ([]uint64, error) {
	if start < 0 {
		start = 0
	}
	if end > len(r.accounts) {
		end = len(r.accounts)
	}
	if start >= end {
		return nil, nil
	}
	out := make([]uint64, end-start)
	copy(out, r.accounts[start:end])
	return out, nil
}

// fakeEventRepo 内存审计事件仓库
type fakeEventRepo struct {
	events []*BillingEvent
}

func (r *fakeEventRepo) AddEvent(_ context.Context, e *BillingEvent) error {
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeEventRepo) ListEvents(_ context.Context, account uint64, page, pageSize int) ([]*BillingEvent, int, error) {
	var all []*BillingEvent
	for _, e := range r.events {
		if e.AccountID == account {
			all = append(all, e)
		}
	}
	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *fakeEventRepo) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func (r *fakeEventRepo) countAction(action string) int {
	n := 0
	for _, e := range r.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

// fakeSettingsRepo 内存计费参数仓库
type fakeSettingsRepo struct {
	s Settings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{s: Settings{
		TreasuryAccount: 900,
		GracePeriod:     7 * 24 * time.Hour,
		CycleDuration:   30 * 24 * time.Hour,
		RetryInterval:   time.Hour,
		MessageFee:      10,
	}}
}

func (r *fakeSettingsRepo) Get(_ context.Context) (*Settings, error) {
	cp := r.s
	return &cp, nil
}

func (r *fakeSettingsRepo) Update(_ context.Context, s *Settings) error {
	r.s = *s
	return nil
}

// fakeTransfer 内存资金账户
type fakeTransfer struct {
	balances   map[uint64]int64
	allowances map[uint64]int64
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{balances: make(map[uint64]int64), allowances: make(map[uint64]int64)}
}

func (t *fakeTransfer) Transfer(_ context.Context, from, to uint64, amount int64) error {
	if t.balances[from] < amount {
		return errors.NewPaymentFailed("insufficient balance")
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *fakeTransfer) TransferFromAllowance(_ context.Context, from, to uint64, amount int64) error {
	if t.allowances[from] < amount {
		return errors.NewPaymentFailed("insufficient allowance")
	}
	if t.balances[from] < amount {
		return errors.NewPaymentFailed("insufficient balance")
	}
	t.allowances[from] -= amount
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *fakeTransfer) Deposit(_ context.Context, account uint64, amount int64) error {
	t.balances[account] += amount
	return nil
}

func (t *fakeTransfer) Approve(_ context.Context, account uint64, allowance int64) error {
	t.allowances[account] = allowance
	return nil
}

func (t *fakeTransfer) BalanceOf(_ context.Context, account uint64) (int64, error) {
	return t.balances[account], nil
}

// fakeTx 直接执行闭包, 不提供回滚; 失败路径由各 fake 仓库保持一致性
type fakeTx struct{}

func (fakeTx) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeMutex / fakeLocker 可配置为锁忙
type fakeMutex struct {
	busy bool
}

func (m *fakeMutex) LockContext(context.Context) error {
	if m.busy {
		return fmt.Errorf("lock busy")
	}
	return nil
}

func (m *fakeMutex) UnlockContext(context.Context) (bool, error) {
	return true, nil
}

type fakeLocker struct {
	busy bool
}

func (l *fakeLocker) NewMutex(string) Mutex {
	return &fakeMutex{busy: l.busy}
}

// noopPusher 丢弃状态推送
type noopPusher struct{}

func (noopPusher) BroadcastStatus(context.Context, uint64, uint64, bool) {}

// fakeSchedulerState 内存游标与节流状态
type fakeSchedulerState struct {
	cursor   int
	attempts map[subKey]time.Time
}

func newFakeSchedulerState() *fakeSchedulerState {
	return &fakeSchedulerState{attempts: make(map[subKey]time.Time)}
}

func (s *fakeSchedulerState) GetCursor(context.Context) (int, error) {
	return s.cursor, nil
}

func (s *fakeSchedulerState) SetCursor(_ context.Context, cursor int) error {
	s.cursor = cursor
	return nil
}

func (s *fakeSchedulerState) ThrottleActive(_ context.Context, account, planID uint64) (bool, error) {
	expiry, ok := s.attempts[subKey{account, planID}]
	return ok && time.Now().Before(expiry), nil
}

func (s *fakeSchedulerState) MarkAttempt(_ context.Context, account, planID uint64, ttl time.Duration) error {
	s.attempts[subKey{account, planID}] = time.Now().Add(ttl)
	return nil
}

// fakeRenewer 记录调用并返回预设结果
type fakeRenewer struct {
	results map[subKey]bool
	calls   []subKey
}

func newFakeRenewer() *fakeRenewer {
	return &fakeRenewer{results: make(map[subKey]bool)}
}

func (r *fakeRenewer) ProcessAutomaticRenewal(_ context.Context, account, planID uint64) bool {
	k := subKey{account, planID}
	r.calls = append(r.calls, k)
	return r.results[k]
}

// fakePeerRepo 内存可信对端仓库
type fakePeerRepo struct {
	peers map[uint64]*TrustedPeer
}

func newFakePeerRepo() *fakePeerRepo {
	return &fakePeerRepo{peers: make(map[uint64]*TrustedPeer)}
}

func (r *fakePeerRepo) SetPeer(_ context.Context, peer *TrustedPeer) error {
	cp := *peer
	r.peers[peer.DomainID] = &cp
	return nil
}

func (r *fakePeerRepo) GetPeer(_ context.Context, domainID uint64) (*TrustedPeer, error) {
	p, ok := r.peers[domainID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakePeerRepo) ListTrusted(_ context.Context) ([]*TrustedPeer, error) {
	var out []*TrustedPeer
	for _, p := range r.peers {
		if p.Trusted {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DomainID < out[j].DomainID })
	return out, nil
}

// fakeCacheRepo 内存远端订阅状态缓存
type fakeCacheRepo struct {
	entries map[string]*CrossDomainSubscription
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: make(map[string]*CrossDomainSubscription)}
}

func cacheKey(domainID, account, planID uint64) string {
	return fmt.Sprintf("%d:%d:%d", domainID, account, planID)
}

func (r *fakeCacheRepo) Get(_ context.Context, domainID, account, planID uint64) (*CrossDomainSubscription, error) {
	e, ok := r.entries[cacheKey(domainID, account, planID)]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *fakeCacheRepo) Upsert(_ context.Context, domainID, account, planID uint64, active bool) error {
	r.entries[cacheKey(domainID, account, planID)] = &CrossDomainSubscription{
		DomainID:  domainID,
		AccountID: account,
		PlanID:    planID,
		Active:    active,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// fakeFeeRepo 内存消息费余额
type fakeFeeRepo struct {
	balances map[uint64]int64
}

func newFakeFeeRepo() *fakeFeeRepo {
	return &fakeFeeRepo{balances: make(map[uint64]int64)}
}

func (r *fakeFeeRepo) Balance(_ context.Context, domainID uint64) (int64, error) {
	return r.balances[domainID], nil
}

func (r *fakeFeeRepo) Deposit(_ context.Context, domainID uint64, amount int64) error {
	r.balances[domainID] += amount
	return nil
}

func (r *fakeFeeRepo) Debit(_ context.Context, domainID uint64, amount int64) error {
	if r.balances[domainID] < amount {
		return errors.NewPaymentFailed("insufficient message fee balance")
	}
	r.balances[domainID] -= amount
	return nil
}

// fakeTransport 收集发出的消息, 可选地投递给对端消费者
type fakeTransport struct {
	sent    [][]byte
	targets []uint64
	deliver func(targetDomain uint64, payload []byte)
	nextID  int
}

func (t *fakeTransport) Send(_ context.Context, targetDomain uint64, payload []byte) (string, error) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.sent = append(t.sent, cp)
	t.targets = append(t.targets, targetDomain)
	t.nextID++
	if t.deliver != nil {
		t.deliver(targetDomain, cp)
	}
	return fmt.Sprintf("msg-%d", t.nextID), nil
}

// fakeSvcRepo 内存计量服务仓库
type fakeSvcRepo struct {
	services map[uint64]*MeteredService
	byProv   map[uint64][]uint64
	nextID   uint64
}

func newFakeSvcRepo() *fakeSvcRepo {
	return &fakeSvcRepo{services: make(map[uint64]*MeteredService), byProv: make(map[uint64][]uint64), nextID: 1}
}

func (r *fakeSvcRepo) CreateService(_ context.Context, svc *MeteredService) error {
	svc.ID = r.nextID
	r.nextID++
	cp := *svc
	r.services[svc.ID] = &cp
	r.byProv[svc.Provider] = append(r.byProv[svc.Provider], svc.ID)
	return nil
}

func (r *fakeSvcRepo) GetService(_ context.Context, id uint64) (*MeteredService, error) {
	s, ok := r.services[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSvcRepo) UpdateService(_ context.Context, svc *MeteredService) error {
	cp := *svc
	r.services[svc.ID] = &cp
	return nil
}

func (r *fakeSvcRepo) ReassignProvider(_ context.Context, id, oldProvider, newProvider uint64) error {
	ids := r.byProv[oldProvider]
	for i, sid := range ids {
		if sid == id {
			r.byProv[oldProvider] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	r.byProv[newProvider] = append(r.byProv[newProvider], id)
	return nil
}

func (r *fakeSvcRepo) ListServicesByProvider(_ context.Context, provider uint64) ([]*MeteredService, error) {
	out := make([]*MeteredService, 0, len(r.byProv[provider]))
	for _, id := range r.byProv[provider] {
		cp := *r.services[id]
		out = append(out, &cp)
	}
	return out, nil
}

// fakeUsageRepo 内存用量仓库
type fakeUsageRepo struct {
	usages map[subKey]*UserUsage
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{usages: make(map[subKey]*UserUsage)}
}

func (r *fakeUsageRepo) GetUsage(_ context.Context, account, serviceID uint64) (*UserUsage, error) {
	u, ok := r.usages[subKey{account, serviceID}]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUsageRepo) SaveUsage(_ context.Context, usage *UserUsage) error {
	cp := *usage
	r.usages[subKey{usage.AccountID, usage.ServiceID}] = &cp
	return nil
}

// fakeRecorderRepo 内存记录员集合
type fakeRecorderRepo struct {
	recorders map[uint64]bool
}

func newFakeRecorderRepo() *fakeRecorderRepo {
	return &fakeRecorderRepo{recorders: make(map[uint64]bool)}
}

func (r *fakeRecorderRepo) IsRecorder(_ context.Context, account uint64) (bool, error) {
	return r.recorders[account], nil
}

func (r *fakeRecorderRepo) SetRecorder(_ context.Context, account uint64, allowed bool) error {
	r.recorders[account] = allowed
	return nil
}

// ledgerFixture 组装订阅账本用例及其全部 fake 依赖
type ledgerFixture struct {
	uc       *LedgerUsecase
	planRepo *fakePlanRepo
	subRepo  *fakeSubRepo
	tracked  *fakeTrackedRepo
	events   *fakeEventRepo
	settings *fakeSettingsRepo
	transfer *fakeTransfer
	locker   *fakeLocker
}

func newLedgerFixture() *ledgerFixture {
	f := &ledgerFixture{
		planRepo: newFakePlanRepo(),
		subRepo:  newFakeSubRepo(),
		tracked:  &fakeTrackedRepo{},
		events:   &fakeEventRepo{},
		settings: newFakeSettingsRepo(),
		transfer: newFakeTransfer(),
		locker:   &fakeLocker{},
	}
	f.uc = NewLedgerUsecase(
		f.planRepo, f.subRepo, f.tracked, f.events, f.settings,
		f.transfer, fakeTx{}, f.locker, noopPusher{}, log.DefaultLogger,
	)
	return f
}

// meteringFixture 组装计量用例及其全部 fake 依赖
type meteringFixture struct {
	uc       *MeteringUsecase
	svcRepo  *fakeSvcRepo
	usages   *fakeUsageRepo
	recorder *fakeRecorderRepo
	events   *fakeEventRepo
	settings *fakeSettingsRepo
	transfer *fakeTransfer
	ledger   *ledgerFixture
}

func newMeteringFixture() *meteringFixture {
	ledger := newLedgerFixture()
	f := &meteringFixture{
		svcRepo:  newFakeSvcRepo(),
		usages:   newFakeUsageRepo(),
		recorder: newFakeRecorderRepo(),
		events:   &fakeEventRepo{},
		settings: ledger.settings,
		transfer: ledger.transfer,
		ledger:   ledger,
	}
	f.uc = NewMeteringUsecase(
		f.svcRepo, f.usages, f.recorder, f.events, f.settings,
		ledger.uc, f.transfer, fakeTx{}, &fakeLocker{}, log.DefaultLogger,
	)
	return f
}

// bridgeFixture 组装跨域桥用例及其全部 fake 依赖
type bridgeFixture struct {
	uc        *BridgeUsecase
	peers     *fakePeerRepo
	cache     *fakeCacheRepo
	fees      *fakeFeeRepo
	subRepo   *fakeSubRepo
	events    *fakeEventRepo
	settings  *fakeSettingsRepo
	transport *fakeTransport
}

func newBridgeFixture(localDomain uint64) *bridgeFixture {
	f := &bridgeFixture{
		peers:     newFakePeerRepo(),
		cache:     newFakeCacheRepo(),
		fees:      newFakeFeeRepo(),
		subRepo:   newFakeSubRepo(),
		events:    &fakeEventRepo{},
		settings:  newFakeSettingsRepo(),
		transport: &fakeTransport{},
	}
	bc := &conf.Bootstrap{Bridge: &conf.Bridge{LocalDomainID: localDomain}}
	f.uc = NewBridgeUsecase(
		f.peers, f.cache, f.fees, f.subRepo, f.events, f.settings,
		f.transport, bc, log.DefaultLogger,
	)
	return f
}
