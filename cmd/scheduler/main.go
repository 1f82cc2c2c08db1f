package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/config"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/db"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/events"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/routes"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/store"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/tasks"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/utils/logger"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/workers"
)

func main() {
	console := logger.New("SCHEDULER")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		console.Info("No .env file found, skipping environment variable loading")
	} else {
		console.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := db.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			console.Error("Failed to close database connection", err)
		}
	}()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	gormStore := store.New(db.GetDB())

	taskClient := tasks.NewTaskClient(
		cfg.Redis.Addr,
		cfg.Redis.Username,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	defer taskClient.Close()

	taskHandler := tasks.NewTaskHandler(
		gormStore,
		redisClient,
		cfg.Scheduler.EventDedupeTTL,
		zapLogger,
	)
	taskServer := tasks.NewServer(
		cfg.Redis.Addr,
		cfg.Redis.Username,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Worker.Concurrency,
		taskHandler,
		zapLogger,
	)
	if err := taskServer.Start(); err != nil {
		log.Fatalf("Failed to start task server: %v", err)
	}

	dispatcher := workers.NewDispatcher(gormStore, taskClient, cfg.Scheduler.DispatchBatchSize)
	scheduler := workers.NewScheduler(cfg, db.GetDB(), taskClient, dispatcher)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Operator-visible signals from the core.
	events.On("campaign.paused", func(data interface{}) {
		if campaign, ok := data.(*models.Campaign); ok {
			console.Warn("campaign %s auto-paused: %s", campaign.ID, campaign.PauseReason)
		}
	})
	events.On("task.bounced", func(data interface{}) {
		if task, ok := data.(*models.SendTask); ok {
			console.Info("task %s bounced (recipient %s)", task.ID, task.RecipientID)
		}
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	routes.Setup(e, db.GetDB(), gormStore, taskClient)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := e.Start(addr); err != nil {
			console.Info("HTTP server stopped: %v", err)
		}
	}()

	console.Success("scheduler service up on %s:%d", cfg.Server.Host, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	console.Info("shutting down...")
	scheduler.Stop()
	taskServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		console.Error("HTTP shutdown failed", err)
	}
	console.Success("shutdown complete")
}
