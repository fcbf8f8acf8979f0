package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/gig-ledger/internal/config"
	"github.com/richardliu001/gig-ledger/internal/logger"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/richardliu001/gig-ledger/internal/service"
	httptransport "github.com/richardliu001/gig-ledger/internal/transport/http"
	"github.com/richardliu001/gig-ledger/internal/whop"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	if cfg.Platform.CompanyID == "" {
		log.Fatal("platform company id is not configured")
	}
	if cfg.Whop.WebhookSecret == "" {
		log.Warn("webhook secret not set, webhook signatures are not verified")
	}

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis, for the settlement lock shared by every instance
	if cfg.Redis.Addr == "" {
		log.Fatal("redis address is not configured")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// 6. repo, provider & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	provider := whop.NewClient(cfg.Whop.BaseURL, cfg.Whop.APIKey, cfg.Whop.Timeout)
	ledger := service.NewLedgerService(repository, log, cfg.Platform.Currency)
	svc := httptransport.Services{
		Ledger:   ledger,
		Payments: service.NewPaymentService(repository, ledger, provider, log),
		Settlement: service.NewSettlementService(repository, ledger, provider, service.SettlementConfig{
			PlatformAccountID: cfg.Platform.CompanyID,
			FeeRate:           cfg.Platform.FeeRate,
			LockTTL:           cfg.Platform.SettlementLock,
		}, log),
		Payouts: service.NewPayoutService(repository, provider, log),
	}

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg, log)

	// 8. serve until signalled
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("gig-ledger listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Info("gig-ledger stopped")
}
