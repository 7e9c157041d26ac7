// Package main provides the bulkload command line entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bulk-loader/internal/cli"
	"github.com/bulk-loader/internal/config"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/ratelimit"
	"github.com/bulk-loader/internal/service"
	"github.com/bulk-loader/internal/storage"
	"github.com/bulk-loader/internal/transport"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(version, connect)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// connect loads configuration and builds a client with whatever optional
// stores the configuration enables
func connect(ctx context.Context) (cli.Runner, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Bulk.InstanceURL == "" || cfg.Bulk.SessionID == "" {
		return nil, nil, fmt.Errorf("BULK_INSTANCE_URL and BULK_SESSION_ID are required")
	}

	// Logs go to stderr so stdout stays machine readable
	logger := logging.NewLoggerWithOutput(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
		os.Stderr,
	)
	logging.SetGlobalLogger(logger)

	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		budget   transport.Budget
		registry *storage.JobRegistry
		history  *storage.JobRepository
	)

	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redis.Close() })
		registry = storage.NewJobRegistry(redis)

		if cfg.Transport.RequestBudget > 0 {
			b, err := ratelimit.NewRequestBudget(&ratelimit.RequestBudgetConfig{
				Redis:  redis.Client(),
				Limit:  cfg.Transport.RequestBudget,
				Window: cfg.Transport.BudgetWindow,
			})
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("failed to create request budget: %w", err)
			}
			budget = b
		}
	}

	if cfg.Database.Postgres.Enabled {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			release()
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		history = storage.NewJobRepository(db)
	}

	conn, err := transport.NewConnection(transport.ConfigFromSettings(&cfg.Bulk, &cfg.Transport, budget))
	if err != nil {
		release()
		return nil, nil, err
	}

	client := service.NewClient(conn, service.DefaultsFromConfig(&cfg.Bulk))
	if registry != nil {
		client.UseRegistry(registry)
	}
	if history != nil {
		client.UseHistory(history)
	}

	logger.WithFields(map[string]interface{}{
		"instance":   cfg.Bulk.InstanceURL,
		"apiVersion": cfg.Bulk.APIVersion,
		"registry":   registry != nil,
		"history":    history != nil,
	}).Debug("Bulk client ready")

	return client, release, nil
}
