package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notification-ledger/internal/app"
	"github.com/kursadbilgin/notification-ledger/internal/config"
	"github.com/kursadbilgin/notification-ledger/internal/handler"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	stack, err := app.Build(ctx, cfg, logger, app.Options{Metrics: metrics, Queue: true})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer stack.Close() //nolint:errcheck

	reconciler, err := stack.NewReconciler()
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	auditor, err := stack.NewAuditor()
	if err != nil {
		logger.Fatal("auditor initialization failed", zap.Error(err))
	}

	server := fiber.New(fiber.Config{
		AppName:               "notification-ledger",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	server.Use(observability.RequestIDMiddleware())
	server.Use(metrics.HTTPMiddleware())
	server.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(server, stack.SQLDB, stack.Redis)
	if err := handler.RegisterLedgerRoutes(server, stack.Service); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("notification-ledger api started",
			zap.String("addr", addr),
			zap.String("accountId", cfg.AccountID),
			zap.Bool("queued", cfg.QueueEnabled()),
		)
		return server.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return reconciler.Start(gctx)
	})
	g.Go(func() error {
		return auditor.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
		return
	}
	logger.Info("notification-ledger api stopped")
}
