package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError — ответ Bot API с ok=false либо не-2xx статус без тела.
type APIError struct {
	Method          string
	Code            int
	Description     string
	RetryAfter      time.Duration
	MigrateToChatID int64
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s: error_code=%d", e.Method, e.Code)
	}
	return fmt.Sprintf("telegram %s: error_code=%d description=%s", e.Method, e.Code, e.Description)
}

// TransportError — сетевая ошибка до получения ответа платформы.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s: transport: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var retryableCodes = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// IsRetryable решает, стоит ли повторять запрос после ошибки.
// Сетевые ошибки и коды 408, 429, 5xx из списка повторяются, остальные нет.
// Отмена контекста не повторяется никогда.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		_, ok := retryableCodes[apiErr.Code]
		return ok
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsNotFound сообщает, что чат или пользователь не найден платформой.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && containsFold(apiErr.Description, "not found")
}

func retryAfterHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
