package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	bc, err := conf.Load(flagconf)
	if err != nil {
		panic(err)
	}
	if err := bc.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	windowSize := constants.DefaultScanWindowSize
	if bc.Billing != nil && bc.Billing.ScanWindowSize > 0 {
		windowSize = bc.Billing.ScanWindowSize
	}

	// 初始化应用
	app, cleanup, err := wireApp(bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 自动续费扫描 - 每 30 秒执行一次, 每次推进一个窗口
	_, err = cronScheduler.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()

		found, batch, err := app.schedulerUsecase.Scan(ctx, windowSize)
		if err != nil {
			log.Printf("[CRON] Error scanning renewal window: %v", err)
			return
		}
		if !found {
			return
		}

		results := app.schedulerUsecase.Apply(ctx, batch)
		success := 0
		for _, r := range results {
			if r.Success {
				success++
			} else {
				log.Printf("[CRON] Auto-renewal failed: account=%d, plan=%d", r.AccountID, r.PlanID)
			}
		}
		log.Printf("[CRON] Auto-renewal window processed: candidates=%d, success=%d", len(batch), success)
	})
	if err != nil {
		log.Printf("Failed to add auto-renewal scan job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Printf("  - Auto-renewal scan: every 30s, window size %d", windowSize)
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
