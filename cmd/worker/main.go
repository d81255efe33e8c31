package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/notification-ledger/internal/app"
	"github.com/kursadbilgin/notification-ledger/internal/config"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"github.com/kursadbilgin/notification-ledger/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.QueueEnabled() {
		log.Fatal("worker requires RABBITMQ_URL")
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, cfg, logger, app.Options{Queue: true})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close() //nolint:errcheck

	consumer := queue.NewRabbitMQConsumer(stack.Rabbit, 1, logger)
	worker, err := service.NewWorkerService(consumer, stack.Dispatcher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	logger.Info("notification-ledger worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Start(ctx); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("notification-ledger worker stopped")
}
