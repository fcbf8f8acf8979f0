package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/gig-ledger/internal/config"
	"github.com/richardliu001/gig-ledger/internal/logger"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
)

const batchSize = 100

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// the poller never takes the settlement lock
	repo := repo.NewRepository(gdb, nil, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Info("gig-ledger poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("gig-ledger poller stopped")
			return
		case <-ticker.C:
		}
		events, err := repo.PollOutbox(ctx, batchSize)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repo.PublishEvent(ctx, evt); err != nil {
				log.Errorw("publish outbox event", "id", evt.ID, "event_type", evt.EventType, "error", err)
				break
			}
			if err := repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorw("mark outbox processed", "id", evt.ID, "error", err)
			} else {
				log.Debugw("outbox event sent", "id", evt.ID, "event_type", evt.EventType)
			}
		}
	}
}
