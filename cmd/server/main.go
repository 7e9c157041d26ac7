// Package main provides the job status API server entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bulk-loader/internal/api"
	"github.com/bulk-loader/internal/config"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/service"
	"github.com/bulk-loader/internal/storage"
	"github.com/bulk-loader/internal/transport"
)

func main() {
	logging.Info("Bulk job status server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	// Job history is what this server exists to show
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()
	history := storage.NewJobRepository(postgres)

	var open api.OpenJobs
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		open = storage.NewJobRegistry(redis)
	}

	// Live status needs a session; without one the route answers 503
	var inspector api.JobInspector
	if cfg.Bulk.InstanceURL != "" && cfg.Bulk.SessionID != "" {
		conn, err := transport.NewConnection(transport.ConfigFromSettings(&cfg.Bulk, &cfg.Transport, nil))
		if err != nil {
			logger.WithError(err).Fatal("Failed to create bulk connection")
		}
		inspector = service.NewClient(conn, service.DefaultsFromConfig(&cfg.Bulk))
	}

	logger.WithFields(map[string]interface{}{
		"openJobs":   open != nil,
		"liveStatus": inspector != nil,
	}).Info("Stores connected")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateRPS:         cfg.Server.RateRPS,
	}

	server := api.NewServer(serverConfig, history, open, inspector)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
