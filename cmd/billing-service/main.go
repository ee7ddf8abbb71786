package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/app"
	"github.com/Kovheren/billing-service/internal/config"
)

func main() {
	log := initLogger()
	defer log.Sync()

	log.Infow("Billing service starting up...")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Stripe.Backend != "fake" && cfg.Stripe.APIKey == "" {
		log.Warnw("Stripe API key is not set; provider calls will fail")
	}
	if cfg.Stripe.Backend != "fake" && cfg.Stripe.WebhookSecret == "" {
		log.Warnw("Stripe webhook secret is not set; webhook signatures cannot be verified")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	go func() {
		if err := application.Run(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	application.Shutdown(shutdownCtx)
	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует структурный логгер
func initLogger() *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if os.Getenv("APP_ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
