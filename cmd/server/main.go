package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkcraft/wallet-service/internal/config"
	"github.com/inkcraft/wallet-service/internal/handlers"
	"github.com/inkcraft/wallet-service/internal/logging"
	"github.com/inkcraft/wallet-service/internal/migrations"
	"github.com/inkcraft/wallet-service/internal/repository"
	"github.com/inkcraft/wallet-service/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := migrations.Apply(cfg.DBURL); err != nil {
		logger.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		logger.Error("failed to parse db config", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledger := repository.NewLedgerPGRepository(pool, logger)
	orders := repository.NewOrderPGRepository(pool, logger)
	mutator := service.NewBalanceMutator(ledger, logger)
	redemption := service.NewRedemptionService(ledger, mutator, logger)
	webhooks := service.NewPaymentWebhookService(
		mutator, orders, logger,
		cfg.WebhookSecret,
		time.Duration(cfg.WebhookTolerance)*time.Second,
	)
	handler := handlers.NewWalletHTTPHandler(
		redemption, ledger, webhooks, pool,
		handlers.NewHeaderAuthenticator(),
		cfg.HistoryLimit,
	)

	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("Server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}
