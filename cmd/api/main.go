package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agriplan/internal/cache"
	"agriplan/internal/config"
	"agriplan/internal/database"
	"agriplan/internal/logger"
	"agriplan/internal/server"
	"agriplan/internal/validator"

	"github.com/gin-gonic/gin"

	_ "agriplan/internal/docs" // Import swagger docs
)

// @title           AgriPlan API
// @version         1.0
// @description     Annual planning and quarterly reporting for ministry units: indicators, plan targets, achievements, approval workflow, imports and exports.
// @termsOfService  http://swagger.io/terms/

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	configPath := flag.String("config", "", "path to a config file (default ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.Set(cfg)

	logger.Init(cfg.Server.Env, cfg.Log.Level)
	defer logger.Sync()
	log := logger.Get()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.Register()

	// Create database manager
	dbManager, err := database.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	defer dbManager.Close()

	// Run migrations
	if err := dbManager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	cacheClient, err := cache.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cacheClient.Close()
	if cacheClient == nil {
		log.Warn("Redis disabled: token revocation and login throttling are off")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.New(cfg, dbManager.DB(), cacheClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting AgriPlan server on port %d", cfg.Server.Port)
		log.Infof("Swagger documentation available at http://localhost:%d/swagger/index.html", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
