package domain

import (
	"context"
	"time"
)

// SyncJobCause описывает источник задачи синхронизации.
type SyncJobCause string

const (
	// SyncCauseScheduled — запись устарела или содержит ошибку.
	SyncCauseScheduled SyncJobCause = "scheduled"
	// SyncCauseManual — синхронизацию запросили вручную.
	SyncCauseManual SyncJobCause = "manual"
	// SyncCauseMembership — платформа сообщила об изменении администрации канала.
	SyncCauseMembership SyncJobCause = "membership_changed"
)

// SyncJob содержит задачу фоновой синхронизации канала.
type SyncJob struct {
	ID          string       `json:"job_id,omitempty"`
	ChannelID   int64        `json:"channel_id"`
	Force       bool         `json:"force,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
	Cause       SyncJobCause `json:"cause"`
}

// SyncQueue описывает очередь задач синхронизации.
type SyncQueue interface {
	Enqueue(ctx context.Context, job SyncJob) error
	Receive(ctx context.Context) (SyncJob, SyncAckFunc, error)
}

// SyncAckFunc подтверждает обработку задачи или возвращает её в очередь.
type SyncAckFunc func(success bool) error
