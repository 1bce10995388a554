package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	_ "github.com/noah-isme/lostfound-api/api/swagger"
	"github.com/noah-isme/lostfound-api/internal/app"
	"github.com/noah-isme/lostfound-api/pkg/config"
	"github.com/noah-isme/lostfound-api/pkg/logger"
)

// @title Lost & Found API
// @version 1.0.0
// @description Community lost-and-found registry: item reports, ownership claims and staff adjudication.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to start", "error", err)
	}
	defer application.Close()

	application.StartBackground(ctx)
	if err := application.Serve(ctx); err != nil {
		logr.Sugar().Errorw("server failed", "error", err)
	}
}
