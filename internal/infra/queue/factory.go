package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tgeasy/internal/domain"
)

// Backend задаёт брокер очереди синхронизации.
type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendRabbitMQ Backend = "rabbitmq"
)

// Options описывает подключение к очереди синхронизации.
type Options struct {
	Backend   Backend
	Key       string
	Redis     *redis.Client
	RabbitURL string
}

// Open создаёт очередь выбранного брокера. Возвращённая функция закрывает собственные соединения очереди.
func Open(opts Options) (domain.SyncQueue, func() error, error) {
	switch opts.Backend {
	case BackendRedis, "":
		if opts.Redis == nil {
			return nil, nil, fmt.Errorf("очередь redis: REDIS_ADDR не задан")
		}
		return NewRedisSyncQueue(opts.Redis, opts.Key), func() error { return nil }, nil
	case BackendRabbitMQ:
		q, err := NewRabbitSyncQueue(opts.RabbitURL, opts.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("очередь rabbitmq: %w", err)
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный брокер очереди %q", opts.Backend)
	}
}
