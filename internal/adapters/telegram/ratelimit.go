package telegram

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tgeasy/internal/infra/metrics"
)

// RateLimiter — общий для процесса token bucket перед запросами к Bot API.
// Токены пополняются лениво в момент запроса по прошедшему времени.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter создаёт лимитер на requestsPerSecond с ёмкостью burst.
// requestsPerSecond <= 0 отключает ограничение.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire забирает токен. Если токенов нет, резервирует следующий и ждёт ровно до его появления.
// При отмене контекста резерв возвращается в bucket.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limiter: burst %d cannot admit request", l.limiter.Burst())
	}
	wait := reservation.DelayFrom(now)
	metrics.ObserveRateLimitWait(wait)
	if wait <= 0 {
		return nil
	}
	if err := l.sleep(ctx, wait); err != nil {
		reservation.CancelAt(l.now())
		return err
	}
	return nil
}

// Burst возвращает ёмкость bucket.
func (l *RateLimiter) Burst() int {
	return l.limiter.Burst()
}
