package biz

import (
	"context"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProvider = uint64(500)

func mustRegisterService(t *testing.T, f *meteringFixture, min, max int64) *MeteredService {
	t.Helper()
	svc, err := f.uc.RegisterService(context.Background(), "compute", testProvider, 2, min, max)
	require.NoError(t, err)
	return svc
}

func grantSubscription(t *testing.T, f *meteringFixture, account uint64) {
	t.Helper()
	require.NoError(t, f.ledger.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: account,
		PlanID:    1,
		EndTime:   time.Now().UTC().Add(24 * time.Hour),
	}))
}

func TestRegisterServiceValidation(t *testing.T) {
	f := newMeteringFixture()

	_, err := f.uc.RegisterService(context.Background(), "", testProvider, 2, 1, 10)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))

	_, err = f.uc.RegisterService(context.Background(), "compute", testProvider, 0, 1, 10)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))

	// min 必须严格小于 max
	_, err = f.uc.RegisterService(context.Background(), "compute", testProvider, 2, 10, 10)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))
}

func TestRecordUsageOpensCycleAndAccumulates(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)

	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 30))
	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 20))

	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.TotalUsage)
	assert.Equal(t, int64(0), usage.BilledUsage)
	assert.True(t, usage.CycleOpen())
	assert.WithinDuration(t, usage.CycleStart.Add(f.settings.s.CycleDuration), usage.CycleEnd, time.Second)
	assert.Equal(t, 2, f.events.countAction(constants.ActionUsageRecorded))
}

func TestRecordUsageRequiresActiveSubscription(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)

	err := f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 30)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}

func TestRecordUsageRejectsNonPositiveAmount(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)

	err := f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 0)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))

	err = f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, -5)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))
}

func TestRecordUsageAuthorization(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)

	stranger := uint64(777)
	err := f.uc.RecordUsage(context.Background(), stranger, testAccount, svc.ID, 30)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonUnauthorized))

	// 授权为记录员后放行
	require.NoError(t, f.uc.SetRecorder(context.Background(), stranger, true))
	require.NoError(t, f.uc.RecordUsage(context.Background(), stranger, testAccount, svc.ID, 30))
}

func TestSettleClampsToMinimum(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 1000))

	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 5))

	billed, err := f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)

	// 5 单位低于最小计费量 10, 按 10*rate 计费
	assert.Equal(t, int64(20), billed)
	assert.Equal(t, int64(980), f.transfer.balances[testAccount])

	// 实际用量全部标记为已结清, 不因 clamp 产生差额
	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.BilledUsage)
	assert.Equal(t, usage.TotalUsage, usage.BilledUsage)
}

func TestSettleClampsToMaximum(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 10000))

	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 1500))

	billed, err := f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)

	// 1500 单位超过最大计费量 1000, 按 1000*rate 计费
	assert.Equal(t, int64(2000), billed)

	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), usage.BilledUsage)
}

func TestSettleZeroBillableIsNoop(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 1000))

	// 无任何用量
	billed, err := f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), billed)
	assert.Equal(t, int64(1000), f.transfer.balances[testAccount])
	assert.Equal(t, 0, f.events.countAction(constants.ActionCycleSettled))

	// 结算后立即再结算同样是 no-op
	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 50))
	_, err = f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)

	billed, err = f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), billed)
	assert.Equal(t, 1, f.events.countAction(constants.ActionCycleSettled))
}

func TestRecordUsageRollsOverExpiredCycle(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 1000))

	now := time.Now().UTC()
	require.NoError(t, f.usages.SaveUsage(context.Background(), &UserUsage{
		AccountID:  testAccount,
		ServiceID:  svc.ID,
		TotalUsage: 50,
		CycleStart: now.Add(-31 * 24 * time.Hour),
		CycleEnd:   now.Add(-24 * time.Hour),
	}))

	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 30))

	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	// 旧周期结算: 50*rate=100 已扣费, 新周期只含本次的 30
	assert.Equal(t, int64(30), usage.TotalUsage)
	assert.Equal(t, int64(0), usage.BilledUsage)
	assert.WithinDuration(t, now, usage.CycleStart, 2*time.Second)
	assert.Equal(t, int64(900), f.transfer.balances[testAccount])
	assert.Equal(t, 1, f.events.countAction(constants.ActionCycleSettled))
}

func TestBatchRecordUsagePartialFailure(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, 101)
	grantSubscription(t, f, 103)

	// 102 无活跃订阅
	results, err := f.uc.BatchRecordUsage(context.Background(), testProvider,
		[]uint64{101, 102, 103}, svc.ID, []int64{10, 20, 30})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].ErrorMessage)
	assert.True(t, results[2].Success)

	usage, err := f.usages.GetUsage(context.Background(), 103, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), usage.TotalUsage)

	missing, err := f.usages.GetUsage(context.Background(), 102, svc.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBatchRecordUsageLengthMismatch(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)

	_, err := f.uc.BatchRecordUsage(context.Background(), testProvider, []uint64{101, 102}, svc.ID, []int64{10})
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))
}

func TestBatchSettlePartialFailure(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	for _, account := range []uint64{101, 102, 103} {
		grantSubscription(t, f, account)
		require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, account, svc.ID, 50))
	}
	// 102 余额不足, 无法支付 50*2=100
	require.NoError(t, f.transfer.Deposit(context.Background(), 101, 1000))
	require.NoError(t, f.transfer.Deposit(context.Background(), 102, 10))
	require.NoError(t, f.transfer.Deposit(context.Background(), 103, 1000))

	successCount, totalBilled, results, err := f.uc.BatchSettleBillingCycles(context.Background(), testProvider,
		[]uint64{101, 102, 103}, svc.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, successCount)
	assert.Equal(t, int64(200), totalBilled)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, int64(900), f.transfer.balances[101])
	assert.Equal(t, int64(10), f.transfer.balances[102])

	// 结算失败的账户, 计费水位不得前移
	usage, err := f.usages.GetUsage(context.Background(), 102, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.BilledUsage)
}

func TestSettleFailureKeepsBilledUsage(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 50))

	// 账户无余额, 转账被拒
	_, err := f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonPaymentFailed))

	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.TotalUsage)
	assert.Equal(t, int64(0), usage.BilledUsage)

	// 充值后重试, 未计费用量仍可全额结清
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 1000))
	amount, err := f.uc.SettleBillingCycle(context.Background(), testProvider, testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)

	usage, err = f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.BilledUsage)
}

func TestCalculateCurrentBillingIsReadOnly(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 1000))
	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 5))

	amount, err := f.uc.CalculateCurrentBilling(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	// clamp 到最小计费量
	assert.Equal(t, int64(20), amount)

	// 只读投影: 余额和用量状态不变
	assert.Equal(t, int64(1000), f.transfer.balances[testAccount])
	usage, err := f.usages.GetUsage(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.BilledUsage)
}

func TestGetTimeUntilNextBillingCycle(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)

	remaining, err := f.uc.GetTimeUntilNextBillingCycle(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)

	require.NoError(t, f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 5))
	remaining, err = f.uc.GetTimeUntilNextBillingCycle(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Greater(t, remaining, 29*24*time.Hour)

	// 周期已过: 返回 0 而不是负数
	now := time.Now().UTC()
	require.NoError(t, f.usages.SaveUsage(context.Background(), &UserUsage{
		AccountID:  testAccount,
		ServiceID:  svc.ID,
		CycleStart: now.Add(-31 * 24 * time.Hour),
		CycleEnd:   now.Add(-24 * time.Hour),
	}))
	remaining, err = f.uc.GetTimeUntilNextBillingCycle(context.Background(), testAccount, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestUpdateServiceReassignsProvider(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)

	newProvider := uint64(600)
	updated, err := f.uc.UpdateService(context.Background(), svc.ID, "compute", newProvider, 2, 10, 1000, true)
	require.NoError(t, err)
	assert.Equal(t, newProvider, updated.Provider)

	oldList, err := f.uc.ListProviderServices(context.Background(), testProvider)
	require.NoError(t, err)
	assert.Empty(t, oldList)

	newList, err := f.uc.ListProviderServices(context.Background(), newProvider)
	require.NoError(t, err)
	require.Len(t, newList, 1)
	assert.Equal(t, svc.ID, newList[0].ID)
}

func TestRecordUsageOnInactiveService(t *testing.T) {
	f := newMeteringFixture()
	svc := mustRegisterService(t, f, 10, 1000)
	grantSubscription(t, f, testAccount)

	_, err := f.uc.UpdateService(context.Background(), svc.ID, "compute", testProvider, 2, 10, 1000, false)
	require.NoError(t, err)

	err = f.uc.RecordUsage(context.Background(), testProvider, testAccount, svc.ID, 30)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}
