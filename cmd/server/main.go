package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/cryptopay"
	"github.com/rps-rewards/internal/handler"
	"github.com/rps-rewards/internal/kafka"
	"github.com/rps-rewards/internal/postgres"
	"github.com/rps-rewards/internal/redis"
	"github.com/rps-rewards/internal/service"
	"github.com/rps-rewards/internal/websocket"
	"github.com/rps-rewards/internal/worker"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the JSON logger, teeing to a rotating file when one is configured
func newLogger(cfg *config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := newLogger(&cfg.Log)
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL is the system of record
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Redis only backs the payout guard and rewards board
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, running without payout guard and rewards board", "error", err)
	} else {
		defer redisClient.Close()
		logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	provider := cryptopay.NewClient(&cfg.Provider, logger)
	meCtx, meCancel := context.WithTimeout(ctx, cfg.Provider.Timeout)
	if app, err := provider.GetMe(meCtx); err != nil {
		logger.Warn("payment provider check failed", "error", err)
	} else {
		logger.Info("payment provider ready", "app_id", app.AppID, "app_name", app.Name)
	}
	meCancel()

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	ledger := service.NewGameLedger(repo, &cfg.Game, logger)
	ledger.SetHub(wsHub)

	identity := service.NewIdentityRegistry(repo, logger)
	invoices := service.NewInvoiceManager(provider, identity, logger)

	rewards, err := service.NewRewardEngine(identity, provider, repo, &cfg.Reward, logger)
	if err != nil {
		logger.Error("invalid reward configuration", "error", err)
		os.Exit(1)
	}
	rewards.SetHub(wsHub)

	var syncWorker *worker.SyncWorker
	if redisClient != nil {
		board := redis.NewRewardBoard(redisClient, logger)
		rewards.SetGuard(redis.NewPayoutGuard(redisClient, cfg.Redis.PayoutLockTTL, logger))
		rewards.SetBoard(board)

		syncWorker = worker.NewSyncWorker(repo, board, cfg.Reward.Asset, &cfg.Sync, logger)
		if err := syncWorker.RebuildBoard(ctx); err != nil {
			logger.Warn("failed to rebuild rewards board on startup", "error", err)
		}
		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, rewards, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer.Stop()
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(ledger, invoices, rewards, repo, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so in-flight settlements finish against live stores
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}
