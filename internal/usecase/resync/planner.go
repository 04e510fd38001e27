package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

const defaultBatchSize = 100

// Planner ставит в очередь каналы, в которых есть устаревшие записи.
type Planner struct {
	repo  domain.PermissionRepo
	queue domain.SyncQueue
	batch int
	log   zerolog.Logger
	now   func() time.Time
}

// NewPlanner создаёт планировщик фоновой синхронизации.
func NewPlanner(repo domain.PermissionRepo, queue domain.SyncQueue, batch int, logger zerolog.Logger) *Planner {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Planner{
		repo:  repo,
		queue: queue,
		batch: batch,
		log:   logger.With().Str("component", "resync_planner").Logger(),
		now:   time.Now,
	}
}

// EnqueueStale ставит по одной задаче на каждый канал из выборки FindNeedingSync.
// Возвращает число поставленных задач.
func (p *Planner) EnqueueStale(ctx context.Context) (int, error) {
	records, err := p.repo.FindNeedingSync(ctx, p.batch)
	if err != nil {
		return 0, fmt.Errorf("выборка устаревших записей: %w", err)
	}

	seen := make(map[int64]struct{}, len(records))
	enqueued := 0
	for _, rec := range records {
		if _, ok := seen[rec.ChannelID]; ok {
			continue
		}
		seen[rec.ChannelID] = struct{}{}

		job := domain.SyncJob{
			ID:          uuid.NewString(),
			ChannelID:   rec.ChannelID,
			RequestedAt: p.now().UTC(),
			Cause:       domain.SyncCauseScheduled,
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			metrics.AddResyncJobs(enqueued)
			return enqueued, fmt.Errorf("постановка канала %d в очередь: %w", rec.ChannelID, err)
		}
		enqueued++
	}
	metrics.AddResyncJobs(enqueued)
	if enqueued > 0 {
		p.log.Info().Int("jobs", enqueued).Int("records", len(records)).Msg("resync: каналы поставлены в очередь")
	}
	return enqueued, nil
}

// Run вызывает EnqueueStale с заданным интервалом до отмены ctx.
func (p *Planner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.EnqueueStale(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("resync: ошибка планирования")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
