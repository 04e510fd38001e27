package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

// RedisSyncQueue реализует очередь задач синхронизации на базе Redis lists.
// Полученная задача перекладывается в список обработки и снимается оттуда при подтверждении.
type RedisSyncQueue struct {
	client        *redis.Client
	key           string
	processingKey string
	pollTimeout   time.Duration
}

// NewRedisSyncQueue создаёт очередь по указанному ключу.
func NewRedisSyncQueue(client *redis.Client, key string) *RedisSyncQueue {
	return &RedisSyncQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
		pollTimeout:   time.Second,
	}
}

// Enqueue публикует задачу в очередь.
func (q *RedisSyncQueue) Enqueue(ctx context.Context, job domain.SyncJob) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("redis_queue", "enqueue", q.key, start, err)
	}()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisSyncQueue) Receive(ctx context.Context) (domain.SyncJob, domain.SyncAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.SyncJob{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processingKey, "RIGHT", "LEFT", q.pollTimeout).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.SyncJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.SyncJob{}, nil, err
		}

		var job domain.SyncJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// битое сообщение не вернётся в очередь
			_ = q.client.LRem(context.Background(), q.processingKey, 1, payload).Err()
			return domain.SyncJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(payload), nil
	}
}

func (q *RedisSyncQueue) ack(payload string) domain.SyncAckFunc {
	return func(success bool) (err error) {
		start := time.Now()
		op := "ack"
		if !success {
			op = "requeue"
		}
		defer func() {
			metrics.ObserveNetworkRequest("redis_queue", op, q.key, start, err)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey, 1, payload)
			if !success {
				pipe.LPush(ctx, q.key, payload)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s job: %w", op, err)
		}
		return nil
	}
}

// Recover возвращает в очередь задачи, оставшиеся в списке обработки после аварийной остановки.
// Вызывается при старте, пока других обработчиков очереди нет.
func (q *RedisSyncQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover jobs: %w", err)
		}
		moved++
	}
}
