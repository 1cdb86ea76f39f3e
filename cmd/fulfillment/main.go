// Package main запускает HTTP-сервер сервиса исполнения заказов.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-fulfillment/internal/alert"
	"github.com/mmeshcher/storefront-fulfillment/internal/config"
	"github.com/mmeshcher/storefront-fulfillment/internal/events"
	"github.com/mmeshcher/storefront-fulfillment/internal/gateway"
	"github.com/mmeshcher/storefront-fulfillment/internal/handler"
	"github.com/mmeshcher/storefront-fulfillment/internal/ledger"
	"github.com/mmeshcher/storefront-fulfillment/internal/mailqueue"
	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
	"github.com/mmeshcher/storefront-fulfillment/internal/middleware"
	"github.com/mmeshcher/storefront-fulfillment/internal/orders"
	"github.com/mmeshcher/storefront-fulfillment/internal/payment"
	"github.com/mmeshcher/storefront-fulfillment/internal/repository"
	"github.com/mmeshcher/storefront-fulfillment/internal/storage"
)

const mailQueueName = "fulfillment:mail"

func main() {
	// .env необязателен
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	redisClient, err := mailqueue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	defer redisClient.Close()

	metrics.Register(prometheus.DefaultRegisterer)

	queue := mailqueue.NewQueue(redisClient, mailQueueName)
	var sender mailqueue.Sender = mailqueue.NewLogSender(logger)
	if cfg.SMTP.Addr != "" {
		sender = mailqueue.NewSMTPSender(cfg.SMTP.Addr, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}
	worker := mailqueue.NewWorker(queue, sender, cfg.MailRate, logger)

	bus := events.NewBus(logger, 0)
	stock := ledger.New(repo, bus, logger)

	dispatcher := alert.NewDispatcher(repository.NewNotificationStore(repo.DB()), stock, queue, logger, cfg.ClientURL)
	dispatcher.Subscribe(bus)
	scheduler := alert.NewScheduler(dispatcher, cfg.StockSweepHour, logger)

	orderSvc := orders.NewService(repo, stock, queue, logger, orders.Options{
		Currency: cfg.Currency,
		Bank: orders.BankAccount{
			BankName:      cfg.Bank.Name,
			AccountName:   cfg.Bank.AccountName,
			AccountNumber: cfg.Bank.AccountNumber,
		},
		ClientURL: cfg.ClientURL,
	})

	services := handler.Services{
		Orders: orderSvc,
		Stock:  stock,
		Alerts: dispatcher,
	}

	var gateways []payment.Gateway
	if cfg.Paystack.SecretKey != "" {
		ps := gateway.NewPaystack(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.GatewayTimeout)
		gateways = append(gateways, ps)
		services.Paystack = ps
	}
	if cfg.Flutterwave.SecretKey != "" {
		fw := gateway.NewFlutterwave(cfg.Flutterwave.BaseURL, cfg.Flutterwave.SecretKey, cfg.Flutterwave.WebhookHash, cfg.GatewayTimeout)
		gateways = append(gateways, fw)
		services.Flutterwave = fw
	}

	// Интерфейс остаётся nil, если бакет не задан.
	var images payment.ImageStore
	if cfg.S3.Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   "payment-proofs",
		})
		if err != nil {
			sugar.Fatalw("object storage initialization error", "error", err.Error())
		}
		images = s3Store
	}

	services.Payments = payment.NewReconciler(repo, gateways, images, dispatcher, logger, payment.Options{
		GatewayTimeout: cfg.GatewayTimeout,
		ClientURL:      cfg.ClientURL,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, issued tokens will not survive a restart")
	}
	h := handler.NewHandler(services, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return bus.Run(ctx) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting fulfillment server", "addr", cfg.RunAddress, "gateways", len(gateways))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
