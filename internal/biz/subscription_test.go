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

const (
	testAccount  = uint64(100)
	testTreasury = uint64(900)
	monthlyPrice = int64(10)
	monthSeconds = int64(30 * 24 * 3600)
)

func mustCreatePlan(t *testing.T, f *ledgerFixture) *Plan {
	t.Helper()
	plan, err := f.uc.CreatePlan(context.Background(), "monthly", monthlyPrice, monthSeconds, []string{"api"})
	require.NoError(t, err)
	return plan
}

func TestSubscribeChargesAndOpensTerm(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	sub, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, true)
	require.NoError(t, err)

	assert.Equal(t, testAccount, sub.AccountID)
	assert.True(t, sub.AutoRenew)
	assert.False(t, sub.Cancelled)
	assert.WithinDuration(t, time.Now().UTC().Add(plan.Duration()), sub.EndTime, 2*time.Second)

	assert.Equal(t, int64(90), f.transfer.balances[testAccount])
	assert.Equal(t, int64(10), f.transfer.balances[testTreasury])
	assert.Equal(t, []uint64{testAccount}, f.tracked.accounts)
	assert.Equal(t, 1, f.events.countAction(constants.ActionSubscriptionCreated))
}

func TestSubscribeInsufficientBalance(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 5))

	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonPaymentFailed))

	sub, _ := f.subRepo.GetSubscription(context.Background(), testAccount, plan.ID)
	assert.Nil(t, sub)
	assert.Empty(t, f.tracked.accounts)
}

func TestSubscribeRejectsUnexpiredRow(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.NoError(t, err)

	_, err = f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
	// 第二次扣费没有发生
	assert.Equal(t, int64(90), f.transfer.balances[testAccount])
}

func TestSubscribeCancelledUnexpiredRowStillBlocks(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		StartTime: now.Add(-24 * time.Hour),
		EndTime:   now.Add(24 * time.Hour),
		Cancelled: true,
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}

func TestSubscribeReusesExpiredRow(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		StartTime: now.Add(-60 * 24 * time.Hour),
		EndTime:   now.Add(-30 * 24 * time.Hour),
		Cancelled: true,
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	sub, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.NoError(t, err)
	assert.False(t, sub.Cancelled)
	assert.WithinDuration(t, now.Add(plan.Duration()), sub.EndTime, 2*time.Second)
}

func TestSubscribePausedSystem(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	f.settings.s.Paused = true

	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonSystemPaused))
}

func TestSubscribeInactivePlan(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	require.NoError(t, f.uc.DeactivatePlan(context.Background(), plan.ID))

	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, false)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonNotFound))
}

func TestRenewExtendsFromCurrentEnd(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	originalEnd := now.Add(10 * 24 * time.Hour)
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		StartTime: now.Add(-20 * 24 * time.Hour),
		EndTime:   originalEnd,
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	sub, err := f.uc.RenewSubscription(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)

	// 未过期: 在原到期时间上顺延, 已付时段不损失
	assert.Equal(t, originalEnd.Add(plan.Duration()), sub.EndTime)
	assert.Equal(t, int64(90), f.transfer.balances[testAccount])
	assert.Equal(t, 1, f.events.countAction(constants.ActionSubscriptionRenewed))
}

func TestRenewInGraceRestartsFromNow(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		StartTime: now.Add(-31 * 24 * time.Hour),
		EndTime:   now.Add(-24 * time.Hour),
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	sub, err := f.uc.RenewSubscription(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)

	// 宽限期内补续费: 从当前时刻重新起算, 失效的一天不补偿
	assert.WithinDuration(t, now, sub.StartTime, 2*time.Second)
	assert.WithinDuration(t, now.Add(plan.Duration()), sub.EndTime, 2*time.Second)
}

func TestRenewWindowClosedAfterGrace(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		EndTime:   now.Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	_, err := f.uc.RenewSubscription(context.Background(), testAccount, plan.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
	// 没有扣费
	assert.Equal(t, int64(100), f.transfer.balances[testAccount])
}

func TestRenewCancelledSubscription(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		EndTime:   now.Add(24 * time.Hour),
		Cancelled: true,
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))

	_, err := f.uc.RenewSubscription(context.Background(), testAccount, plan.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}

func TestCancelKeepsFundsAndDisablesAutoRenew(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))
	_, err := f.uc.Subscribe(context.Background(), testAccount, plan.ID, true)
	require.NoError(t, err)

	require.NoError(t, f.uc.CancelSubscription(context.Background(), testAccount, plan.ID))

	sub, err := f.subRepo.GetSubscription(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)
	assert.True(t, sub.Cancelled)
	assert.False(t, sub.AutoRenew)
	// 不退款
	assert.Equal(t, int64(90), f.transfer.balances[testAccount])

	err = f.uc.CancelSubscription(context.Background(), testAccount, plan.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}

func TestCancelExpiredSubscription(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		EndTime:   now.Add(-time.Hour),
	}))

	err := f.uc.CancelSubscription(context.Background(), testAccount, plan.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))
}

func TestAutoRenewalRestartsFromNow(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		StartTime: now.Add(-31 * 24 * time.Hour),
		EndTime:   now.Add(-time.Hour),
		AutoRenew: true,
	}))
	require.NoError(t, f.transfer.Deposit(context.Background(), testAccount, 100))
	require.NoError(t, f.transfer.Approve(context.Background(), testAccount, 50))

	ok := f.uc.ProcessAutomaticRenewal(context.Background(), testAccount, plan.ID)
	require.True(t, ok)

	sub, err := f.subRepo.GetSubscription(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)
	// 自动续费总是从当前时刻重新起算
	assert.WithinDuration(t, now, sub.StartTime, 2*time.Second)
	assert.WithinDuration(t, now.Add(plan.Duration()), sub.EndTime, 2*time.Second)

	assert.Equal(t, int64(90), f.transfer.balances[testAccount])
	assert.Equal(t, int64(40), f.transfer.allowances[testAccount])
	assert.Equal(t, 1, f.events.countAction(constants.ActionSubscriptionAutoRenew))
}

func TestAutoRenewalFailuresFoldToFalse(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name  string
		setup func(f *ledgerFixture, planID uint64)
	}{
		{"not yet expired", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(24 * time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
		}},
		{"grace period elapsed", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-8 * 24 * time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
		}},
		{"auto renew disabled", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-time.Hour),
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
		}},
		{"no subscription", func(f *ledgerFixture, planID uint64) {}},
		{"no allowance", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
		}},
		{"insufficient balance", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
		}},
		{"system paused", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
			f.settings.s.Paused = true
		}},
		{"lock busy", func(f *ledgerFixture, planID uint64) {
			_ = f.subRepo.SaveSubscription(context.Background(), &Subscription{
				AccountID: testAccount, PlanID: planID,
				EndTime: now.Add(-time.Hour), AutoRenew: true,
			})
			_ = f.transfer.Deposit(context.Background(), testAccount, 100)
			_ = f.transfer.Approve(context.Background(), testAccount, 50)
			f.locker.busy = true
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newLedgerFixture()
			plan := mustCreatePlan(t, f)
			tc.setup(f, plan.ID)

			ok := f.uc.ProcessAutomaticRenewal(context.Background(), testAccount, plan.ID)
			assert.False(t, ok)
			assert.Equal(t, 0, f.events.countAction(constants.ActionSubscriptionAutoRenew))
		})
	}
}

func TestSetAutoRenewOnCancelledSubscription(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()
	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount,
		PlanID:    plan.ID,
		EndTime:   now.Add(24 * time.Hour),
		AutoRenew: true,
		Cancelled: true,
	}))

	err := f.uc.SetAutoRenew(context.Background(), testAccount, plan.ID, true)
	require.Error(t, err)
	assert.True(t, errors.IsReason(err, errors.ReasonStateConflict))

	// 关闭总是允许的
	require.NoError(t, f.uc.SetAutoRenew(context.Background(), testAccount, plan.ID, false))
}

func TestIsSubscribed(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)
	now := time.Now().UTC()

	active, err := f.uc.IsSubscribed(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount, PlanID: plan.ID, EndTime: now.Add(24 * time.Hour),
	}))
	active, err = f.uc.IsSubscribed(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, f.subRepo.SaveSubscription(context.Background(), &Subscription{
		AccountID: testAccount, PlanID: plan.ID, EndTime: now.Add(-time.Hour),
	}))
	active, err = f.uc.IsSubscribed(context.Background(), testAccount, plan.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCreatePlanValidation(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.uc.CreatePlan(context.Background(), "", 10, monthSeconds, nil)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))

	_, err = f.uc.CreatePlan(context.Background(), "monthly", 0, monthSeconds, nil)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))

	_, err = f.uc.CreatePlan(context.Background(), "monthly", 10, 0, nil)
	assert.True(t, errors.IsReason(err, errors.ReasonInvalidInput))
}

func TestDeactivatePlanKeepsRecord(t *testing.T) {
	f := newLedgerFixture()
	plan := mustCreatePlan(t, f)

	require.NoError(t, f.uc.DeactivatePlan(context.Background(), plan.ID))

	got, err := f.uc.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestUpdateSettingsAppliesPartialChanges(t *testing.T) {
	f := newLedgerFixture()

	cfg, err := f.uc.UpdateSettings(context.Background(), func(s *Settings) {
		s.GracePeriod = 3 * 24 * time.Hour
		s.Paused = true
	})
	require.NoError(t, err)
	assert.Equal(t, 3*24*time.Hour, cfg.GracePeriod)
	assert.True(t, cfg.Paused)
	// 未改的字段保持原值
	assert.Equal(t, testTreasury, cfg.TreasuryAccount)
}
