package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	ChannelID  *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventPermissionsSynced фиксирует успешный проход синхронизации канала.
	BusinessMetricEventPermissionsSynced = "permissions_synced"
	// BusinessMetricEventPermissionRevoked фиксирует ручной отзыв доступа создателем канала.
	BusinessMetricEventPermissionRevoked = "permission_revoked"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
