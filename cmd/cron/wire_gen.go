// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"github.com/go-kratos/kratos/v2/log"
	"os"
	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/data"
)

import (
	_ "go.uber.org/automaxprocs"
)

// Injectors from wire.go:

// wireApp 初始化应用
func wireApp(bootstrap *conf.Bootstrap) (*CronApp, func(), error) {
	logger := newLogger()
	db := data.NewDB(bootstrap)
	client := data.NewRedis(bootstrap)
	dataData, cleanup, err := data.NewData(bootstrap, logger, db, client)
	if err != nil {
		return nil, nil, err
	}
	trackedAccountRepo := data.NewTrackedAccountRepo(dataData, logger)
	subscriptionRepo := data.NewSubscriptionRepo(dataData, logger)
	settingsRepo := data.NewSettingsRepo(dataData, bootstrap, logger)
	schedulerStateRepo := data.NewSchedulerStateRepo(client, logger)
	planRepo := data.NewPlanRepo(dataData, logger)
	billingEventRepo := data.NewBillingEventRepo(dataData, logger)
	tokenTransfer := data.NewTokenTransfer(dataData, logger)
	redsync := data.NewRedsync(client)
	locker := data.NewLocker(redsync)
	trustedPeerRepo := data.NewTrustedPeerRepo(dataData, logger)
	crossDomainSubscriptionRepo := data.NewCrossDomainSubscriptionRepo(dataData, logger)
	feeBalanceRepo := data.NewFeeBalanceRepo(dataData, logger)
	transport := data.NewTransport(client, bootstrap, logger)
	bridgeUsecase := biz.NewBridgeUsecase(trustedPeerRepo, crossDomainSubscriptionRepo, feeBalanceRepo, subscriptionRepo, billingEventRepo, settingsRepo, transport, bootstrap, logger)
	ledgerUsecase := biz.NewLedgerUsecase(planRepo, subscriptionRepo, trackedAccountRepo, billingEventRepo, settingsRepo, tokenTransfer, dataData, locker, bridgeUsecase, logger)
	schedulerUsecase := biz.NewSchedulerUsecase(trackedAccountRepo, subscriptionRepo, settingsRepo, schedulerStateRepo, ledgerUsecase, logger)
	cronApp := &CronApp{
		schedulerUsecase: schedulerUsecase,
	}
	return cronApp, func() {
		cleanup()
	}, nil
}

// wire.go:

// CronApp Cron 应用结构
type CronApp struct {
	schedulerUsecase *biz.SchedulerUsecase
}

// newLogger 创建 logger
func newLogger() log.Logger {
	return log.With(log.NewStdLogger(os.Stdout), "ts", log.DefaultTimestamp, "caller", log.DefaultCaller, "service.name", "billing-cron")
}
