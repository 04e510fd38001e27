package resync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
)

// Syncer выполняет проход синхронизации канала.
type Syncer interface {
	Sync(ctx context.Context, channelID int64, force bool) (domain.SyncResult, error)
}

// Worker читает задачи из очереди и синхронизирует каналы.
type Worker struct {
	queue   domain.SyncQueue
	syncer  Syncer
	log     zerolog.Logger
	backoff time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.SyncQueue, syncer Syncer, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		syncer:  syncer,
		log:     logger.With().Str("component", "resync_worker").Logger(),
		backoff: time.Second,
	}
}

// Run обрабатывает задачи до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("resync: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
			}
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.SyncJob, ack domain.SyncAckFunc) {
	logger := w.log.With().Str("job_id", job.ID).Int64("channel_id", job.ChannelID).Logger()
	res, err := w.syncer.Sync(ctx, job.ChannelID, job.Force)
	success := true
	switch {
	case err == nil:
		logger.Info().
			Bool("skipped", res.Skipped).
			Int("synced", len(res.Synced)).
			Int("removed", len(res.Removed)).
			Int("errors", len(res.Errors)).
			Msg("resync: канал синхронизирован")
	case requeueable(ctx, err):
		success = false
		logger.Warn().Err(err).Msg("resync: задача возвращена в очередь")
	default:
		// планировщик поставит канал снова, пока записи устаревшие
		logger.Error().Err(err).Msg("resync: синхронизация не удалась")
	}
	if ackErr := ack(success); ackErr != nil {
		logger.Error().Err(ackErr).Msg("resync: не удалось подтвердить задачу")
	}
}

func requeueable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, domain.ErrPlatformTimeout) ||
		errors.Is(err, domain.ErrLockNotAcquired) ||
		errors.Is(err, context.DeadlineExceeded)
}
