// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/data"
	"xinyuan_tech/billing-service/internal/server"
	"xinyuan_tech/billing-service/internal/service"
)

import (
	_ "go.uber.org/automaxprocs"
)

// Injectors from wire.go:

// wireApp init kratos application.
func wireApp(bootstrap *conf.Bootstrap, logger log.Logger) (*kratos.App, func(), error) {
	db := data.NewDB(bootstrap)
	client := data.NewRedis(bootstrap)
	dataData, cleanup, err := data.NewData(bootstrap, logger, db, client)
	if err != nil {
		return nil, nil, err
	}
	planRepo := data.NewPlanRepo(dataData, logger)
	subscriptionRepo := data.NewSubscriptionRepo(dataData, logger)
	trackedAccountRepo := data.NewTrackedAccountRepo(dataData, logger)
	billingEventRepo := data.NewBillingEventRepo(dataData, logger)
	settingsRepo := data.NewSettingsRepo(dataData, bootstrap, logger)
	tokenTransfer := data.NewTokenTransfer(dataData, logger)
	redsync := data.NewRedsync(client)
	locker := data.NewLocker(redsync)
	trustedPeerRepo := data.NewTrustedPeerRepo(dataData, logger)
	crossDomainSubscriptionRepo := data.NewCrossDomainSubscriptionRepo(dataData, logger)
	feeBalanceRepo := data.NewFeeBalanceRepo(dataData, logger)
	transport := data.NewTransport(client, bootstrap, logger)
	bridgeUsecase := biz.NewBridgeUsecase(trustedPeerRepo, crossDomainSubscriptionRepo, feeBalanceRepo, subscriptionRepo, billingEventRepo, settingsRepo, transport, bootstrap, logger)
	ledgerUsecase := biz.NewLedgerUsecase(planRepo, subscriptionRepo, trackedAccountRepo, billingEventRepo, settingsRepo, tokenTransfer, dataData, locker, bridgeUsecase, logger)
	ledgerService := service.NewLedgerService(ledgerUsecase, tokenTransfer)
	meteredServiceRepo := data.NewMeteredServiceRepo(dataData, logger)
	userUsageRepo := data.NewUserUsageRepo(dataData, logger)
	recorderRepo := data.NewRecorderRepo(dataData, logger)
	meteringUsecase := biz.NewMeteringUsecase(meteredServiceRepo, userUsageRepo, recorderRepo, billingEventRepo, settingsRepo, ledgerUsecase, tokenTransfer, dataData, locker, logger)
	meteringService := service.NewMeteringService(meteringUsecase)
	schedulerStateRepo := data.NewSchedulerStateRepo(client, logger)
	schedulerUsecase := biz.NewSchedulerUsecase(trackedAccountRepo, subscriptionRepo, settingsRepo, schedulerStateRepo, ledgerUsecase, logger)
	schedulerService := service.NewSchedulerService(schedulerUsecase)
	bridgeService := service.NewBridgeService(bridgeUsecase)
	httpServer := server.NewHTTPServer(bootstrap, ledgerService, meteringService, schedulerService, bridgeService, logger)
	bridgeConsumer := server.NewBridgeConsumer(client, bridgeUsecase, bootstrap, logger)
	app := newApp(logger, httpServer, bridgeConsumer)
	return app, func() {
		cleanup()
	}, nil
}
