package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	RateLimitWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telegram_rate_limit_wait_seconds",
		Help:    "Время ожидания токена перед запросом к Bot API",
		Buckets: []float64{0, .01, .05, .1, .25, .5, 1, 2, 5, 10},
	})

	TelegramRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_retries_total",
		Help: "Повторные попытки запросов к Bot API",
	}, []string{"method"})

	PermissionSyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_sync_total",
		Help: "Проходы синхронизации прав по результату",
	}, []string{"result"})

	PermissionSyncSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "permission_sync_seconds",
		Help:    "Длительность прохода синхронизации прав",
		Buckets: prometheus.DefBuckets,
	})

	PermissionsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permission_sync_removed_total",
		Help: "Записи, удалённые при синхронизации",
	})

	PermissionUserErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permission_sync_user_errors_total",
		Help: "Ошибки синхронизации отдельных пользователей",
	})

	ResyncJobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resync_jobs_enqueued_total",
		Help: "Задачи фоновой синхронизации, поставленные в очередь",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		RateLimitWaitSeconds,
		TelegramRetries,
		PermissionSyncTotal,
		PermissionSyncSeconds,
		PermissionsRemoved,
		PermissionUserErrors,
		ResyncJobsEnqueued,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRateLimitWait записывает время ожидания в лимитере.
func ObserveRateLimitWait(wait time.Duration) {
	RateLimitWaitSeconds.Observe(wait.Seconds())
}

// IncTelegramRetry увеличивает счётчик повторов для метода Bot API.
func IncTelegramRetry(method string) {
	if method == "" {
		method = "unknown"
	}
	TelegramRetries.WithLabelValues(method).Inc()
}

// ObservePermissionSync записывает итог прохода синхронизации.
func ObservePermissionSync(result string, start time.Time, removed, userErrors int) {
	PermissionSyncTotal.WithLabelValues(result).Inc()
	PermissionSyncSeconds.Observe(time.Since(start).Seconds())
	if removed > 0 {
		PermissionsRemoved.Add(float64(removed))
	}
	if userErrors > 0 {
		PermissionUserErrors.Add(float64(userErrors))
	}
}

// AddResyncJobs увеличивает счётчик поставленных в очередь задач синхронизации.
func AddResyncJobs(n int) {
	if n > 0 {
		ResyncJobsEnqueued.Add(float64(n))
	}
}
