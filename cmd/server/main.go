package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subscriptly/billing/internal/app"
	"github.com/subscriptly/billing/internal/database"
	"github.com/subscriptly/billing/internal/handlers"
	mW "github.com/subscriptly/billing/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply the schema before serving")
	flag.Parse()

	logger, err := app.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	billing, err := app.New(ctx, logger)
	if err != nil {
		logger.Fatal("failed to start billing engine", zap.Error(err))
	}
	defer billing.Close()

	if *migrate {
		if err := database.Migrate(ctx, billing.DB); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("schema migrated")
	}

	cfg := billing.Config
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET_KEY is not set")
	}

	auth := mW.NewAuth(cfg.JWTSecret, billing.Redis, logger)
	router := handlers.NewRouter(
		handlers.NewPaymentHandler(billing.Payments, logger),
		handlers.NewAccountHandler(billing.Payments, billing.Subscriptions, logger),
		auth.Middleware,
		mW.Blackout(cfg.Blackout, time.Now),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
