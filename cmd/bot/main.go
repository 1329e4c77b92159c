package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixshop/internal/bot"
	"pixshop/internal/config"
	"pixshop/internal/handler"
	"pixshop/internal/infrastructure/cache"
	"pixshop/internal/infrastructure/database"
	"pixshop/internal/infrastructure/gateway"
	"pixshop/internal/infrastructure/lock"
	"pixshop/internal/infrastructure/market"
	"pixshop/internal/infrastructure/mq"
	"pixshop/internal/job"
	"pixshop/internal/repository"
	"pixshop/internal/service"
	"pixshop/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化基础设施
	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)
	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	efiClient, err := gateway.NewEfiClient(&cfg.Efi)
	if err != nil {
		log.Fatalf("初始化支付网关失败: %v", err)
	}
	lztClient := market.NewLztClient(&cfg.Lzt)

	// 仓储与服务
	pixRepo := repository.NewPixTransactionRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	locks := lock.NewRedisProvider(redisClient)

	balanceSvc := service.NewBalanceService(cfg, pixRepo, balanceRepo, outboxRepo, efiClient, locks)
	purchaseSvc := service.NewPurchaseService(cfg, orderRepo, outboxRepo, balanceSvc, lztClient, locks)

	// Discord 机器人
	discordBot, err := bot.New(cfg, balanceSvc, purchaseSvc, lztClient)
	if err != nil {
		log.Fatalf("初始化 Discord 机器人失败: %v", err)
	}
	if err := discordBot.Start(); err != nil {
		log.Fatalf("启动 Discord 机器人失败: %v", err)
	}
	defer discordBot.Stop()

	notifier := bot.NewNotifier(discordBot.Session())

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(outboxRepo, producer, cfg)
	go outboxSender.Start(ctx)

	sweeper := job.NewExpirationSweeper(pixRepo, balanceSvc, notifier, cfg)
	go sweeper.Start(ctx)

	// HTTP 回调服务
	router := handler.SetupRouter(cfg, balanceSvc, notifier)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("webhook 服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// webhook 服务起来之后才能向网关登记回调地址
	if cfg.Efi.WebhookURL != "" {
		registerCtx, registerCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := efiClient.RegisterWebhook(registerCtx, cfg.Efi.WebhookURL); err != nil {
			log.Printf("登记 webhook 失败（支付确认只能靠管理员手工路径）: %v", err)
		}
		registerCancel()
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
