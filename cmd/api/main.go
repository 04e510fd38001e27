package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tgeasy/internal/adapters/repo"
	"tgeasy/internal/adapters/telegram"
	"tgeasy/internal/domain"
	"tgeasy/internal/infra/config"
	httpinfra "tgeasy/internal/infra/http"
	"tgeasy/internal/infra/lock"
	"tgeasy/internal/infra/log"
	"tgeasy/internal/infra/metrics"
	"tgeasy/internal/infra/queue"
	"tgeasy/internal/usecase/permissions"
)

const (
	webhookPath    = "/bot/webhook"
	initDataMaxAge = 24 * time.Hour
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("api: TG_BOT_TOKEN не задан")
	}

	store, err := repo.Open(ctx, cfg.StoreDSN(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
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
		Notifier:    telegram.NewNotifier(client),
		Events:      store,
		Logger:      logger,
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts.Locker = lock.NewRedis(rdb)
	}

	var syncQueue domain.SyncQueue
	q, closeQueue, err := queue.Open(queue.Options{
		Backend:   queue.Backend(cfg.Queues.Backend),
		Key:       cfg.Queues.Sync,
		Redis:     rdb,
		RabbitURL: cfg.RabbitURL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("api: очередь синхронизации недоступна, вебхук отключён")
	} else {
		defer closeQueue()
		syncQueue = q
	}

	service := permissions.NewService(store, client, opts)

	srv := httpinfra.NewServer(log.Component(logger, "http"))
	srv.MountHealth(client)
	srv.MountAPI(
		httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token, initDataMaxAge),
		httpinfra.NewPermissionHandler(service, logger),
	)
	if syncQueue != nil {
		srv.MountWebhook(webhookPath, httpinfra.NewMembershipWebhook(syncQueue, cfg.Telegram.WebhookSecret, logger))
		if cfg.Telegram.WebhookURL != "" {
			ensureWebhook(ctx, client, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret, logger)
		}
	}

	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.HTTP.MetricsAddr)
	go func() {
		logger.Info().Msg("api: старт")
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// ensureWebhook регистрирует вебхук, если Bot API знает другой адрес.
func ensureWebhook(ctx context.Context, client *telegram.Client, url, secret string, logger zerolog.Logger) {
	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("api: не удалось получить состояние вебхука")
		return
	}
	if info.URL == url {
		return
	}
	err = client.SetWebhook(ctx, telegram.WebhookOptions{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: []string{"chat_member", "my_chat_member"},
	})
	if err != nil {
		logger.Error().Err(err).Msg("api: не удалось установить вебхук")
		return
	}
	logger.Info().Str("previous", info.URL).Msg("api: вебхук обновлён")
}
