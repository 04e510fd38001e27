package telegram

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"tgeasy/internal/domain"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 2}.normalized()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 0},
		{attempt: 2, want: 500 * time.Millisecond},
		{attempt: 3, want: time.Second},
		{attempt: 4, want: 2 * time.Second},
		{attempt: 5, want: 3 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetrierAttemptsAndDelays(t *testing.T) {
	var delays []time.Duration
	retrier := NewRetrier(DefaultRetryPolicy(), WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	calls := 0
	serverErr := &APIError{Method: "getChatAdministrators", Code: http.StatusBadGateway}
	err := retrier.Do(context.Background(), "getChatAdministrators", func(context.Context) error {
		calls++
		return serverErr
	})
	if !errors.Is(err, serverErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	retrier := NewRetrier(DefaultRetryPolicy(), WithSleep(func(context.Context, time.Duration) error { return nil }))
	calls := 0
	err := retrier.Do(context.Background(), "getChat", func(context.Context) error {
		calls++
		return &APIError{Method: "getChat", Code: http.StatusForbidden, Description: "Forbidden: bot is not a member"}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing call, got calls=%d err=%v", calls, err)
	}
}

func TestRetrierSucceedsAfterTransportError(t *testing.T) {
	retrier := NewRetrier(DefaultRetryPolicy(), WithSleep(func(context.Context, time.Duration) error { return nil }))
	calls := 0
	err := retrier.Do(context.Background(), "getMe", func(context.Context) error {
		calls++
		if calls == 1 {
			return &TransportError{Method: "getMe", Err: errors.New("connection reset")}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got calls=%d err=%v", calls, err)
	}
}

func TestRetrierDeadlineBeforeNextAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	retrier := NewRetrier(policy, WithSleep(func(context.Context, time.Duration) error {
		t.Fatal("sleep should not be reached")
		return nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := retrier.Do(ctx, "getChatAdministrators", func(context.Context) error {
		return &APIError{Method: "getChatAdministrators", Code: http.StatusServiceUnavailable}
	})
	if !errors.Is(err, domain.ErrPlatformTimeout) {
		t.Fatalf("expected platform timeout, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("timeout should keep last platform error, got %v", err)
	}
}

func TestRetrierDeadlineExceededDuringCall(t *testing.T) {
	retrier := NewRetrier(DefaultRetryPolicy())
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := retrier.Do(ctx, "getChatAdministrators", func(ctx context.Context) error {
		<-ctx.Done()
		return &TransportError{Method: "getChatAdministrators", Err: ctx.Err()}
	})
	if !errors.Is(err, domain.ErrPlatformTimeout) {
		t.Fatalf("expected platform timeout, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "too many requests", err: &APIError{Code: http.StatusTooManyRequests}, want: true},
		{name: "gateway timeout", err: &APIError{Code: http.StatusGatewayTimeout}, want: true},
		{name: "request timeout", err: &APIError{Code: http.StatusRequestTimeout}, want: true},
		{name: "bad request", err: &APIError{Code: http.StatusBadRequest}, want: false},
		{name: "unauthorized", err: &APIError{Code: http.StatusUnauthorized}, want: false},
		{name: "not implemented", err: &APIError{Code: http.StatusNotImplemented}, want: false},
		{name: "transport", err: &TransportError{Err: errors.New("eof")}, want: true},
		{name: "context canceled", err: &TransportError{Err: context.Canceled}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
