package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/acs-fasttrack/internal/api"
	"github.com/mr1hm/acs-fasttrack/internal/config"
	"github.com/mr1hm/acs-fasttrack/internal/events"
	"github.com/mr1hm/acs-fasttrack/internal/logging"
	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/pager"
	"github.com/mr1hm/acs-fasttrack/internal/repository"
	"github.com/mr1hm/acs-fasttrack/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Auth.JWTSecret == "" {
		logging.Fatalf("JWT_SECRET must be set")
	}

	slog.Info("Hospital simulator starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if cfg.DB.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
			logging.Fatalf("Failed to create database directory: %v", err)
		}
	}
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dashboard stream
	updates := events.NewBroadcaster[api.Update](events.DefaultBuffer)

	p := pager.New(cfg.Pager.TwilioAccountSID, cfg.Pager.TwilioAuthToken, cfg.Pager.FromNumber, cfg.Pager.OnCallNumber)
	pool := worker.NewPool[*models.Emergency]("page", cfg.Worker.Count, cfg.Worker.BufferSize, api.NewPageProcessor(p, updates))
	pool.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(db, pool, updates, api.Config{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		TokenTTL:  cfg.Auth.TokenTTL,
		DevTokens: cfg.Auth.DevTokens,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "dev_tokens", cfg.Auth.DevTokens)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	updates.Close() // Ends dashboard streams so Shutdown does not wait on them

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	pool.Stop()
	cancel()

	slog.Info("shutdown complete")
}
