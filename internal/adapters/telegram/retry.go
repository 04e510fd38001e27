package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"tgeasy/internal/domain"
)

// RetryPolicy задаёт экспоненциальный backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter — доля случайного отклонения задержки, 0 отключает.
	Jitter float64
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Delay возвращает задержку перед попыткой attempt (нумерация с 1, для первой попытки 0).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Retrier выполняет вызов с ограниченным числом повторов.
type Retrier struct {
	policy   RetryPolicy
	classify func(error) bool
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	random   func() float64
	onRetry  RetryHook
}

// RetryHook получает метод, номер следующей попытки, задержку перед ней и ошибку предыдущей.
type RetryHook func(name string, attempt int, delay time.Duration, err error)

// RetrierOption настраивает Retrier.
type RetrierOption func(*Retrier)

// WithClassifier подменяет классификатор ошибок.
func WithClassifier(classify func(error) bool) RetrierOption {
	return func(r *Retrier) {
		if classify != nil {
			r.classify = classify
		}
	}
}

// WithSleep подменяет ожидание между попытками.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRetryHook вызывается перед каждой повторной попыткой.
func WithRetryHook(hook RetryHook) RetrierOption {
	return func(r *Retrier) {
		r.onRetry = hook
	}
}

// NewRetrier создаёт исполнитель повторов.
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy:   policy.normalized(),
		classify: IsRetryable,
		sleep:    sleepContext,
		now:      time.Now,
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy возвращает нормализованную политику.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do выполняет op до MaxAttempts раз. Возвращается ошибка последней попытки.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return r.DoWithHook(ctx, name, nil, op)
}

// DoWithHook работает как Do и дополнительно вызывает hook перед каждым повтором
// после хука, заданного через WithRetryHook. Состояние Retrier не меняется.
func (r *Retrier) DoWithHook(ctx context.Context, name string, hook RetryHook, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delayFor(attempt, lastErr)
			if deadline, ok := ctx.Deadline(); ok && r.now().Add(delay).After(deadline) {
				return timeoutError(context.DeadlineExceeded, lastErr)
			}
			if r.onRetry != nil {
				r.onRetry(name, attempt, delay, lastErr)
			}
			if hook != nil {
				hook(name, attempt, delay, lastErr)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return timeoutError(err, lastErr)
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !r.classify(err) {
			return r.contextual(ctx, err)
		}
	}
	return r.contextual(ctx, lastErr)
}

func (r *Retrier) delayFor(attempt int, lastErr error) time.Duration {
	delay := r.policy.Delay(attempt)
	if r.policy.Jitter > 0 {
		spread := (r.random()*2 - 1) * r.policy.Jitter
		delay = time.Duration(float64(delay) * (1 + spread))
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	if hint := retryAfterHint(lastErr); hint > delay {
		delay = hint
	}
	return delay
}

func (r *Retrier) contextual(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(context.DeadlineExceeded, err)
	}
	return err
}

func timeoutError(cause, lastErr error) error {
	if !errors.Is(cause, context.DeadlineExceeded) {
		if lastErr == nil {
			return cause
		}
		return fmt.Errorf("%w (last error: %v)", cause, lastErr)
	}
	if lastErr == nil {
		return domain.ErrPlatformTimeout
	}
	return fmt.Errorf("%w: %w", domain.ErrPlatformTimeout, lastErr)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
