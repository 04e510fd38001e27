package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tgeasy/internal/adapters/repo"
	"tgeasy/internal/adapters/telegram"
	"tgeasy/internal/infra/config"
	"tgeasy/internal/infra/lock"
	"tgeasy/internal/infra/log"
	"tgeasy/internal/infra/metrics"
	"tgeasy/internal/infra/queue"
	"tgeasy/internal/usecase/permissions"
	"tgeasy/internal/usecase/resync"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("resync-worker: TG_BOT_TOKEN не задан")
	}

	store, err := repo.Open(ctx, cfg.StoreDSN(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("resync-worker: нет подключения к хранилищу")
	}
	defer store.Close()

	client := telegram.NewClient(telegram.Config{
		Token:   cfg.Telegram.Token,
		BaseURL: cfg.Telegram.APIBaseURL,
		Timeout: cfg.Telegram.Timeout,
		Limiter: telegram.NewRateLimiter(cfg.Telegram.RPS, cfg.Telegram.Burst),
		Retrier: telegram.NewRetrier(telegram.RetryPolicy{
			MaxAttempts: cfg.Retry.Attempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
			Jitter:      cfg.Retry.Jitter,
		}),
		Logger: log.Component(logger, "telegram"),
	})

	opts := permissions.Options{
		SyncTimeout: cfg.Sync.Timeout,
		LockTTL:     cfg.Sync.LockTTL,
		Events:      store,
		Logger:      logger,
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts.Locker = lock.NewRedis(rdb)
	}

	syncQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:   queue.Backend(cfg.Queues.Backend),
		Key:       cfg.Queues.Sync,
		Redis:     rdb,
		RabbitURL: cfg.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("resync-worker: очередь недоступна")
	}
	defer closeQueue()

	if rq, ok := syncQueue.(*queue.RedisSyncQueue); ok {
		moved, err := rq.Recover(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("resync-worker: не удалось вернуть незавершённые задачи")
		} else if moved > 0 {
			logger.Info().Int("jobs", moved).Msg("resync-worker: незавершённые задачи возвращены в очередь")
		}
	}

	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.HTTP.MetricsAddr)

	service := permissions.NewService(store, client, opts)
	worker := resync.NewWorker(syncQueue, service, logger)
	logger.Info().Msg("resync-worker: старт")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("resync-worker: остановлен с ошибкой")
	}
	logger.Info().Msg("resync-worker: остановка")
}
