package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tgeasy/internal/adapters/repo"
	"tgeasy/internal/infra/config"
	"tgeasy/internal/infra/log"
	"tgeasy/internal/infra/metrics"
	"tgeasy/internal/infra/queue"
	"tgeasy/internal/usecase/resync"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repo.Open(ctx, cfg.StoreDSN(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к хранилищу")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	syncQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:   queue.Backend(cfg.Queues.Backend),
		Key:       cfg.Queues.Sync,
		Redis:     rdb,
		RabbitURL: cfg.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: очередь недоступна")
	}
	defer closeQueue()

	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.HTTP.MetricsAddr)

	planner := resync.NewPlanner(store, syncQueue, cfg.Sync.BatchSize, logger)
	logger.Info().Dur("interval", cfg.Sync.SchedulerInterval).Msg("scheduler: старт")
	if err := planner.Run(ctx, cfg.Sync.SchedulerInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
	}
	logger.Info().Msg("scheduler: остановка")
}
